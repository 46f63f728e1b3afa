package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/rotation"
)

// RegisterRoutes mounts the subscriber endpoints under /api. mw wraps only
// those routes.
func (h *Handler) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/subscribers", func(r chi.Router) {
		r.Use(mw...)
		r.Get("/", h.ListSubscribers)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSubscriber)
			r.Post("/pause", h.Pause)
			r.Post("/resume", h.Resume)
			r.Put("/settings", h.UpdateSettings)
			r.Get("/words", h.ListWords)
			r.Post("/words", h.AddWord)
			r.Delete("/words/{wordID}", h.DeleteWord)
			r.Post("/deliver", h.Deliver)
			if h.feed != nil {
				r.Get("/feed", h.Feed)
			}
		})
	})
}

type deliveryResponse struct {
	Outcome   rotation.Outcome `json:"outcome"`
	Word      *domain.Word     `json:"word,omitempty"`
	SendCount int              `json:"send_count"`
}

func toDeliveryResponse(d rotation.Delivery) deliveryResponse {
	return deliveryResponse{Outcome: d.Outcome, Word: d.Word, SendCount: d.SendCount}
}

// ListSubscribers returns every subscriber.
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := h.engine.Subscribers(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, subs)
}

// GetSubscriber returns one subscriber.
func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, err := h.engine.Subscriber(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sub)
}

// Pause suspends delivery.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	changed, err := h.engine.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"paused": true, "changed": changed})
}

// Resume lifts a pause, possibly delivering a catch-up announcement.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.Resume(r.Context(), chi.URLParam(r, "id"), h.now())
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toDeliveryResponse(d))
}

type settingsRequest struct {
	SendTime      *string `json:"send_time"`
	UTCOffset     *string `json:"utc_offset"`
	RetentionDays *int    `json:"retention_days"`
}

// UpdateSettings changes any of send time, offset and retention. All fields
// are validated before anything is saved.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var settings rotation.Settings
	if req.SendTime != nil {
		at, err := domain.ParseClock(*req.SendTime)
		if err != nil {
			fail(w, r, err)
			return
		}
		settings.SendTime = &at
	}
	if req.UTCOffset != nil {
		offset, err := domain.ParseOffset(*req.UTCOffset)
		if err != nil {
			fail(w, r, err)
			return
		}
		settings.UTCOffset = &offset
	}
	settings.RetentionDays = req.RetentionDays

	sub, err := h.engine.UpdateSettings(r.Context(), chi.URLParam(r, "id"), settings)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sub)
}

// ListWords returns the subscriber's pool.
func (h *Handler) ListWords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Subscriber(ctx, id); err != nil {
		fail(w, r, err)
		return
	}
	words, err := h.engine.Words(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, words)
}

type addWordRequest struct {
	Text string `json:"text"`
}

// AddWord appends a word to the pool.
func (h *Handler) AddWord(w http.ResponseWriter, r *http.Request) {
	var req addWordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	word, err := h.engine.AddWord(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, word)
}

// DeleteWord removes a word by id.
func (h *Handler) DeleteWord(w http.ResponseWriter, r *http.Request) {
	wordID, err := strconv.ParseInt(chi.URLParam(r, "wordID"), 10, 64)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid word id")
		return
	}
	removed, err := h.engine.DeleteWord(r.Context(), chi.URLParam(r, "id"), wordID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !removed {
		Error(w, http.StatusNotFound, "word not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deliver runs one retention transition now, regardless of the send time.
func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.Deliver(r.Context(), chi.URLParam(r, "id"), h.now())
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toDeliveryResponse(d))
}

// Feed upgrades to a websocket streaming the subscriber's announcements.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.engine.Subscriber(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	h.feed.Serve(w, r, id)
}
