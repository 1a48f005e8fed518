// Package domain contains core domain types for the calgenie scheduler.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSlot is returned when a time slot does not satisfy start < end.
var ErrInvalidSlot = errors.New("invalid time slot")

// Participant is one attendee of a meeting. More than one participant may be
// flagged as organizer in stored data.
type Participant struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	IsOrganizer bool   `json:"is_organizer"`
}

// Meeting is the persisted calendar entry. Timestamps are kept in their wire
// form so that a corrupt record survives a load/save round trip untouched and
// can be skipped individually during conflict checks.
type Meeting struct {
	ID           string        `json:"meeting_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Location     string        `json:"location"`
	StartTime    string        `json:"start_time"`
	EndTime      string        `json:"end_time"`
	Participants []Participant `json:"participants"`
}

// Slot parses the meeting's start and end timestamps in the local time zone.
func (m Meeting) Slot() (TimeSlot, error) {
	return m.SlotIn(time.Local)
}

// SlotIn parses the meeting's timestamps, reading values without an offset
// in loc.
func (m Meeting) SlotIn(loc *time.Location) (TimeSlot, error) {
	start, err := ParseTimestampIn(m.StartTime, loc)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("meeting %s start: %w", m.ID, err)
	}
	end, err := ParseTimestampIn(m.EndTime, loc)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("meeting %s end: %w", m.ID, err)
	}
	slot := TimeSlot{Start: start, End: end}
	if err := slot.Validate(); err != nil {
		return TimeSlot{}, fmt.Errorf("meeting %s: %w", m.ID, err)
	}
	return slot, nil
}

// Organizers returns every participant flagged as organizer.
func (m Meeting) Organizers() []Participant {
	var out []Participant
	for _, p := range m.Participants {
		if p.IsOrganizer {
			out = append(out, p)
		}
	}
	return out
}

// OrganizedBy reports whether the given email is listed as an organizer.
func (m Meeting) OrganizedBy(email string) bool {
	for _, p := range m.Participants {
		if p.IsOrganizer && SameEmail(p.Email, email) {
			return true
		}
	}
	return false
}

// HasParticipant reports whether the given email attends the meeting.
func (m Meeting) HasParticipant(email string) bool {
	for _, p := range m.Participants {
		if SameEmail(p.Email, email) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (m Meeting) Clone() Meeting {
	c := m
	if m.Participants != nil {
		c.Participants = make([]Participant, len(m.Participants))
		copy(c.Participants, m.Participants)
	}
	return c
}

// SameEmail compares addresses case-insensitively, ignoring surrounding space.
func SameEmail(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
