// Package api provides HTTP handlers for the calgenie API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calgenie/internal/chat"
	"github.com/ashureev/calgenie/internal/store"
)

const maxBodyBytes = 64 << 10

// Handler serves the negotiation and calendar endpoints.
type Handler struct {
	svc     *chat.Service
	store   store.EventStore
	limiter *RateLimiter
	now     func() time.Time
}

// NewHandler creates a new Handler. A nil limiter disables rate limiting.
func NewHandler(svc *chat.Service, st store.EventStore, limiter *RateLimiter) *Handler {
	return &Handler{
		svc:     svc,
		store:   st,
		limiter: limiter,
		now:     time.Now,
	}
}

// RegisterRoutes mounts the API under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/schedule", h.HandleSchedule)
			r.Post("/schedule/confirm", h.HandleConfirm)
			r.Post("/chat", h.HandleChat)
			r.Delete("/session", h.HandleCancel)
		})
		r.Get("/session", h.HandleSession)
		r.Get("/meetings", h.HandleMeetings)
		r.Get("/meetings.ics", h.HandleMeetingsICS)
	})
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

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
