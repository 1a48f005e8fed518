package domain

// Hints are caller-supplied details extracted alongside the time slot.
type Hints struct {
	Title        string        `json:"title,omitempty"`
	Description  string        `json:"description,omitempty"`
	Location     string        `json:"location,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

// IsZero reports whether no hint was supplied.
func (h Hints) IsZero() bool {
	return h.Title == "" && h.Description == "" && h.Location == "" && len(h.Participants) == 0
}

// PendingConfirmation is the single draft awaiting a yes/no reply.
type PendingConfirmation struct {
	Draft        Meeting `json:"draft"`
	ReplaceID    string  `json:"replace_id,omitempty"`
	ReplaceTitle string  `json:"replace_title,omitempty"`
}

// ReplacementStage is the step of the replacement sub-protocol.
type ReplacementStage string

const (
	// StageOffer means conflicts were shown and a replacement was offered.
	StageOffer ReplacementStage = "offer"
	// StageAwaitSelection means the user must pick which conflict to replace.
	StageAwaitSelection ReplacementStage = "await_selection"
)

// PendingReplacement is the context of an ongoing conflict negotiation.
type PendingReplacement struct {
	Stage          ReplacementStage `json:"stage"`
	Slot           TimeSlot         `json:"slot"`
	Hints          Hints            `json:"hints"`
	Conflicts      []Meeting        `json:"conflicts"`
	OriginalQuery  string           `json:"original_query"`
	RequesterEmail string           `json:"requester_email"`
}
