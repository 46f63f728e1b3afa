// Package feed pushes announcements to websocket listeners of a subscriber.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Event is the JSON frame sent to listeners.
type Event struct {
	Type         string    `json:"type"`
	SubscriberID string    `json:"subscriber_id"`
	Text         string    `json:"text,omitempty"`
	At           time.Time `json:"at"`
}

// Event types.
const (
	EventSubscribed   = "subscribed"
	EventAnnouncement = "announcement"
)

// Hub tracks live websocket listeners per subscriber.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[*websocket.Conn]struct{}
	now       func() time.Time
	logger    *slog.Logger

	// originPatterns are host patterns accepted besides the request's own
	// host. Empty keeps the same-origin check.
	originPatterns []string
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins lets browsers from the given origins open a feed. Entries
// are origins like "https://ops.example.com" or bare host patterns.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		h.originPatterns = originPatterns(origins)
	}
}

func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		listeners: make(map[string]map[*websocket.Conn]struct{}),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) register(subscriberID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.listeners[subscriberID]; !ok {
		h.listeners[subscriberID] = make(map[*websocket.Conn]struct{})
	}
	h.listeners[subscriberID][conn] = struct{}{}
	h.logger.Info("Feed listener registered", "subscriber_id", subscriberID)
}

func (h *Hub) unregister(subscriberID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.listeners[subscriberID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.listeners, subscriberID)
	}
	h.logger.Info("Feed listener unregistered", "subscriber_id", subscriberID)
}

// Listeners returns how many connections follow subscriberID.
func (h *Hub) Listeners(subscriberID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[subscriberID])
}

// Announce writes the announcement to every listener of subscriberID.
// Listeners whose write fails are dropped. Having no listeners is not an error.
func (h *Hub) Announce(ctx context.Context, subscriberID, text string) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.listeners[subscriberID]))
	for c := range h.listeners[subscriberID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	ev := Event{Type: EventAnnouncement, SubscriberID: subscriberID, Text: text, At: h.now().UTC()}
	for _, c := range conns {
		if err := h.write(ctx, c, ev); err != nil {
			h.logger.Debug("Feed write failed, dropping listener",
				"subscriber_id", subscriberID,
				"error", err)
			h.unregister(subscriberID, c)
			_ = c.Close(websocket.StatusGoingAway, "write failed")
		}
	}
	return nil
}

func (h *Hub) write(ctx context.Context, c *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}

// Serve upgrades the request and keeps the connection registered for
// subscriberID until the client goes away. Client frames are discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, subscriberID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept feed websocket", "error", err, "subscriber_id", subscriberID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close feed websocket", "error", closeErr, "subscriber_id", subscriberID)
		}
	}()

	ctx := ws.CloseRead(r.Context())

	h.register(subscriberID, ws)
	defer h.unregister(subscriberID, ws)

	hello := Event{Type: EventSubscribed, SubscriberID: subscriberID, At: h.now().UTC()}
	if err := h.write(ctx, ws, hello); err != nil {
		h.logger.Debug("Failed to greet feed listener", "error", err, "subscriber_id", subscriberID)
		return
	}

	<-ctx.Done()
}

// CloseAll disconnects every listener.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, conns := range h.listeners {
		for c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.listeners, id)
	}
}
