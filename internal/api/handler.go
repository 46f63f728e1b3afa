// Package api provides the operator HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/rotation"
	"github.com/ashureev/wotd-bot/internal/store"
)

// Engine is the rotation engine surface exposed over HTTP.
type Engine interface {
	Subscribers(ctx context.Context) ([]*domain.Subscriber, error)
	Subscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error)
	Pause(ctx context.Context, subscriberID string) (bool, error)
	Resume(ctx context.Context, subscriberID string, now time.Time) (rotation.Delivery, error)
	UpdateSettings(ctx context.Context, subscriberID string, s rotation.Settings) (*domain.Subscriber, error)
	Words(ctx context.Context, subscriberID string) ([]*domain.Word, error)
	AddWord(ctx context.Context, subscriberID, text string) (*domain.Word, error)
	DeleteWord(ctx context.Context, subscriberID string, wordID int64) (bool, error)
	Deliver(ctx context.Context, subscriberID string, now time.Time) (rotation.Delivery, error)
}

// Feed serves live announcement streams.
type Feed interface {
	Serve(w http.ResponseWriter, r *http.Request, subscriberID string)
}

// Handler serves the subscriber endpoints.
type Handler struct {
	engine Engine
	feed   Feed
	now    func() time.Time
}

// NewHandler creates a handler. feed may be nil, which disables the feed route.
func NewHandler(engine Engine, feed Feed) *Handler {
	return &Handler{engine: engine, feed: feed, now: time.Now}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// fail maps an engine error onto a response.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rotation.ErrSubscriberNotFound):
		Error(w, http.StatusNotFound, "subscriber not found")
	case errors.Is(err, store.ErrDuplicateWord):
		Error(w, http.StatusConflict, "word already exists")
	case errors.Is(err, rotation.ErrNoWordsAvailable):
		Error(w, http.StatusConflict, "no words available")
	case errors.Is(err, domain.ErrInvalidWord),
		errors.Is(err, domain.ErrInvalidOffset),
		errors.Is(err, domain.ErrInvalidSendTime),
		errors.Is(err, domain.ErrInvalidRetentionPeriod):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
