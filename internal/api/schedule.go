package api

import (
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/calgenie/internal/chat"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/identity"
	"github.com/ashureev/calgenie/internal/negotiation"
	"github.com/ashureev/calgenie/internal/transcript"
)

type scheduleRequest struct {
	Query string `json:"query"`
}

type confirmRequest struct {
	Reply string `json:"reply"`
}

type chatRequest struct {
	Text string `json:"text"`
}

// SessionView is the read model of one negotiation session.
type SessionView struct {
	SessionID    string                      `json:"session_id"`
	State        negotiation.State           `json:"state"`
	Confirmation *domain.PendingConfirmation `json:"pending_confirmation,omitempty"`
	Replacement  *domain.PendingReplacement  `json:"pending_replacement,omitempty"`
	Trace        string                      `json:"trace"`
	TraceEntries []negotiation.TraceEntry    `json:"trace_entries"`
	History      []negotiation.Turn          `json:"history"`
}

// HandleSchedule handles POST /api/schedule.
func (h *Handler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}
	h.runTurn(w, r, chat.KindRequest, req.Query)
}

// HandleConfirm handles POST /api/schedule/confirm.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.runTurn(w, r, chat.KindConfirm, req.Reply)
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}
	h.runTurn(w, r, chat.KindChat, req.Text)
}

// HandleCancel handles DELETE /api/session.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.runTurn(w, r, chat.KindCancel, "")
}

// HandleSession handles GET /api/session.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := SessionView{
		SessionID:    identity.SessionIDFromContext(ctx),
		State:        negotiation.StateIdle,
		TraceEntries: []negotiation.TraceEntry{},
		History:      []negotiation.Turn{},
	}

	sess, err := h.svc.View(ctx, identity.SessionKey(ctx))
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess == nil {
		var empty negotiation.Trace
		view.Trace = empty.String()
		JSON(w, http.StatusOK, view)
		return
	}

	view.State = sess.State()
	view.Confirmation = sess.Confirmation
	view.Replacement = sess.Replacement
	view.Trace = sess.Trace.String()
	view.TraceEntries = sess.Trace.Entries()
	if sess.History != nil {
		view.History = sess.History
	}
	JSON(w, http.StatusOK, view)
}

func (h *Handler) runTurn(w http.ResponseWriter, r *http.Request, kind chat.Kind, text string) {
	ctx := r.Context()
	resp, err := h.svc.Run(ctx, chat.Turn{
		UserID:     identity.UserIDFromContext(ctx),
		SessionID:  identity.SessionIDFromContext(ctx),
		SessionKey: identity.SessionKey(ctx),
		Requester:  identity.RequesterFromContext(ctx),
		Channel:    transcript.ChannelHTTP,
		Kind:       kind,
		Text:       text,
		RequestID:  chiMiddleware.GetReqID(ctx),
	})
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to process request")
		return
	}
	JSON(w, http.StatusOK, resp)
}
