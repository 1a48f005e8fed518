package negotiation

import "github.com/ashureev/calgenie/internal/domain"

// Action names the outcome of one turn.
type Action string

// Turn outcomes.
const (
	ActionNotScheduling     Action = "not_scheduling"
	ActionPastTime          Action = "past_time"
	ActionInvalidSlot       Action = "invalid_slot"
	ActionConflict          Action = "conflict"
	ActionReplacementSelect Action = "replacement_select"
	ActionAwaitingFollowup  Action = "awaiting_followup"
	ActionChooseAnotherTime Action = "choose_another_time"
	ActionNeedInfo          Action = "need_info"
	ActionSchedulePending   Action = "schedule_pending"
	ActionScheduled         Action = "scheduled"
	ActionCancelled         Action = "cancelled"
	ActionError             Action = "error"
)

// Response is returned for every turn. The engine never surfaces a Go error;
// failures are expressed as ActionError with a user-facing message.
type Response struct {
	Action            Action           `json:"action"`
	Message           string           `json:"message"`
	Conflicts         []domain.Meeting `json:"conflicts,omitempty"`
	Blocked           bool             `json:"blocked,omitempty"`
	Details           *domain.Meeting  `json:"details,omitempty"`
	Missing           []string         `json:"missing,omitempty"`
	Meeting           *domain.Meeting  `json:"meeting,omitempty"`
	NeedsConfirmation bool             `json:"needs_confirmation"`
	ReplaceID         string           `json:"replace_id,omitempty"`
	Warning           string           `json:"warning,omitempty"`
	Trace             string           `json:"trace,omitempty"`
}
