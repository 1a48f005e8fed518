package details

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/calgenie/internal/domain"
)

type stubSynth struct {
	m   domain.Meeting
	err error
}

func (s stubSynth) SynthesizeMeeting(context.Context, Request) (domain.Meeting, error) {
	return s.m, s.err
}

func request() Request {
	start := time.Date(2025, 11, 19, 8, 0, 0, 0, time.UTC)
	return Request{
		Query:     "schedule a design review",
		Slot:      domain.TimeSlot{Start: start, End: start.Add(time.Hour)},
		Requester: domain.Participant{Name: "You", Email: "you@example.com"},
	}
}

func TestCompletePinsSlotAndAddsRequester(t *testing.T) {
	t.Parallel()

	c := NewCompleter(stubSynth{m: domain.Meeting{
		Title:       "Design review",
		Description: "Review the mockups",
		Location:    "Room 4",
		StartTime:   "2030-01-01T00:00:00Z",
		EndTime:     "2030-01-01T05:00:00Z",
		Participants: []domain.Participant{
			{Name: "Ana", Email: "ana@example.com"},
		},
	}}, time.Second, nil)
	c.newID = func() string { return "fixed-id" }

	res := c.Complete(context.Background(), request())
	require.True(t, res.Complete, res.Message)
	assert.Equal(t, "fixed-id", res.Draft.ID)
	assert.Equal(t, "2025-11-19T08:00:00Z", res.Draft.StartTime)
	assert.Equal(t, "2025-11-19T09:00:00Z", res.Draft.EndTime)
	require.Len(t, res.Draft.Participants, 2)
	assert.Equal(t, "you@example.com", res.Draft.Participants[0].Email)
	assert.True(t, res.Draft.Participants[0].IsOrganizer)
}

func TestCompleteKeepsExistingOrganizer(t *testing.T) {
	t.Parallel()

	c := NewCompleter(stubSynth{m: domain.Meeting{
		ID: "given", Title: "T", Description: "D", Location: "L",
		Participants: []domain.Participant{{Name: "Ana", Email: "ana@example.com", IsOrganizer: true}},
	}}, time.Second, nil)

	res := c.Complete(context.Background(), request())
	require.True(t, res.Complete)
	assert.Equal(t, "given", res.Draft.ID)
	assert.False(t, res.Draft.Participants[0].IsOrganizer)
	assert.Equal(t, []string{"ana@example.com"}, emails(res.Draft.Organizers()))
}

func TestCompleteFillsFromHints(t *testing.T) {
	t.Parallel()

	req := request()
	req.Hints = domain.Hints{Title: "Hinted", Location: "Cafe", Description: "Coffee"}
	res := NewCompleter(stubSynth{}, time.Second, nil).Complete(context.Background(), req)
	require.True(t, res.Complete, res.Message)
	assert.Equal(t, "Hinted", res.Draft.Title)
	assert.Equal(t, "Cafe", res.Draft.Location)
}

func TestCompleteIncomplete(t *testing.T) {
	t.Parallel()

	res := NewCompleter(stubSynth{m: domain.Meeting{Title: "Only title"}}, time.Second, nil).
		Complete(context.Background(), request())
	assert.False(t, res.Complete)
	assert.Equal(t, []string{"description", "location"}, res.Missing)
	assert.Contains(t, res.Message, "title, location, participants")
}

func TestCompleteCollaboratorFailure(t *testing.T) {
	t.Parallel()

	res := NewCompleter(stubSynth{err: errors.New("502 bad gateway")}, time.Second, nil).
		Complete(context.Background(), request())
	assert.False(t, res.Complete)
	assert.Equal(t, RequiredFieldsMessage, res.Message)
	assert.NotContains(t, res.Message, "502")
}

func emails(ps []domain.Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Email
	}
	return out
}
