package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/calgenie/internal/icalendar"
	"github.com/ashureev/calgenie/internal/logging"
	"github.com/ashureev/calgenie/internal/store"
)

// HandleMeetings handles GET /api/meetings.
func (h *Handler) HandleMeetings(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"meetings": snap.Meetings,
		"version":  snap.Version,
	})
}

// HandleMeetingsICS handles GET /api/meetings.ics.
func (h *Handler) HandleMeetingsICS(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.load(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := icalendar.Encode(&buf, snap.Meetings, h.now()); err != nil {
		slog.Error("Failed to encode calendar", logging.Err(err))
		Error(w, http.StatusInternalServerError, "failed to encode calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="meetings.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (store.Snapshot, bool) {
	snap, err := h.store.Load(r.Context())
	if err != nil {
		slog.Error("Failed to load meetings", logging.Operation("api.meetings"), logging.Err(err))
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		Error(w, status, "meetings unavailable")
		return store.Snapshot{}, false
	}
	return snap, true
}
