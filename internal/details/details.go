// Package details turns a slot and hints into a complete draft meeting.
package details

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/logging"
	"github.com/ashureev/calgenie/internal/metrics"
)

// Request is everything the synthesizer may use to fill in a draft.
type Request struct {
	Query     string
	Slot      domain.TimeSlot
	Hints     domain.Hints
	Template  *domain.Meeting
	Requester domain.Participant
}

// Synthesizer fills in meeting fields. Any error means the capability is
// unavailable for this turn.
type Synthesizer interface {
	SynthesizeMeeting(ctx context.Context, req Request) (domain.Meeting, error)
}

// RequiredFieldsMessage is shown whenever a complete draft cannot be produced.
const RequiredFieldsMessage = "Unable to generate meeting details. Please provide: title, location, participants."

// Result is either a complete draft or the reason it is incomplete.
type Result struct {
	Draft    domain.Meeting
	Complete bool
	Missing  []string
	Message  string
}

// DefaultTimeout bounds a single synthesis call.
const DefaultTimeout = 30 * time.Second

// Completer validates and normalizes synthesized drafts.
type Completer struct {
	synth   Synthesizer
	timeout time.Duration
	metrics *metrics.Recorder
	newID   func() string
}

// NewCompleter creates a completer. A non-positive timeout uses DefaultTimeout.
func NewCompleter(synth Synthesizer, timeout time.Duration, m *metrics.Recorder) *Completer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Completer{
		synth:   synth,
		timeout: timeout,
		metrics: m,
		newID:   uuid.NewString,
	}
}

// Complete asks the synthesizer for a draft, then pins it to the requested
// slot, ensures an id and the requester, and checks required fields.
func (c *Completer) Complete(ctx context.Context, req Request) Result {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	draft, err := c.synth.SynthesizeMeeting(callCtx, req)
	c.metrics.Collaborator(metrics.CallSynthesize, time.Since(started), err)
	if err != nil {
		slog.Warn("meeting synthesis failed",
			logging.Operation(metrics.CallSynthesize),
			logging.Err(err))
		return Result{Missing: []string{"title", "location", "participants"}, Message: RequiredFieldsMessage}
	}

	draft = c.normalize(draft, req)
	if missing := missingFields(draft); len(missing) > 0 {
		return Result{
			Draft:   draft,
			Missing: missing,
			Message: fmt.Sprintf("Some meeting details are missing (%s). Please provide: title, location, participants.",
				strings.Join(missing, ", ")),
		}
	}
	return Result{Draft: draft, Complete: true}
}

func (c *Completer) normalize(m domain.Meeting, req Request) domain.Meeting {
	m = m.Clone()
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = c.newID()
	}

	m.Title = firstNonEmpty(m.Title, req.Hints.Title)
	m.Description = firstNonEmpty(m.Description, req.Hints.Description)
	m.Location = firstNonEmpty(m.Location, req.Hints.Location)
	if len(m.Participants) == 0 && len(req.Hints.Participants) > 0 {
		m.Participants = append([]domain.Participant(nil), req.Hints.Participants...)
	}

	m.StartTime = req.Slot.WireStart()
	m.EndTime = req.Slot.WireEnd()

	if strings.TrimSpace(req.Requester.Email) != "" && !m.HasParticipant(req.Requester.Email) {
		requester := req.Requester
		requester.IsOrganizer = len(m.Organizers()) == 0
		m.Participants = append([]domain.Participant{requester}, m.Participants...)
	}
	return m
}

func missingFields(m domain.Meeting) []string {
	var missing []string
	if strings.TrimSpace(m.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(m.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(m.Location) == "" {
		missing = append(missing, "location")
	}
	if len(m.Participants) == 0 {
		missing = append(missing, "participants")
	}
	return missing
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
