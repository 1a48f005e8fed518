package negotiation

import (
	"time"

	"github.com/ashureev/calgenie/internal/domain"
)

// MaxHistory bounds the per-session turn history.
const MaxHistory = 20

// State is the session's position in the negotiation state machine.
type State string

// Session states between turns.
const (
	StateIdle             State = "idle"
	StateSchedulePending  State = "schedule_pending"
	StateReplacementOffer State = "replacement_offer"
	StateAwaitSelection   State = "await_selection"
)

// Turn is one entry of the session history.
type Turn struct {
	At     time.Time `json:"at"`
	Query  string    `json:"query"`
	Action Action    `json:"action"`
}

// Session is the negotiation state of one conversation. It is owned by a
// single caller at a time; the engine does not lock it.
type Session struct {
	ID           string                      `json:"id"`
	Requester    domain.Participant          `json:"requester"`
	Confirmation *domain.PendingConfirmation `json:"pending_confirmation,omitempty"`
	Replacement  *domain.PendingReplacement  `json:"pending_replacement,omitempty"`
	Trace        Trace                       `json:"trace"`
	History      []Turn                      `json:"history,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// NewSession returns an idle session for requester.
func NewSession(id string, requester domain.Participant) *Session {
	now := time.Now()
	return &Session{ID: id, Requester: requester, CreatedAt: now, UpdatedAt: now}
}

// State derives the current state from the pending artifacts.
func (s *Session) State() State {
	switch {
	case s.Replacement != nil && s.Replacement.Stage == domain.StageAwaitSelection:
		return StateAwaitSelection
	case s.Replacement != nil:
		return StateReplacementOffer
	case s.Confirmation != nil:
		return StateSchedulePending
	default:
		return StateIdle
	}
}

// Reset clears every pending artifact.
func (s *Session) Reset() {
	s.Confirmation = nil
	s.Replacement = nil
}

func (s *Session) remember(query string, action Action, at time.Time) {
	s.History = append(s.History, Turn{At: at, Query: query, Action: action})
	if n := len(s.History); n > MaxHistory {
		s.History = append([]Turn(nil), s.History[n-MaxHistory:]...)
	}
	s.UpdatedAt = at
}
