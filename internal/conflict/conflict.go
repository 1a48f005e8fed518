// Package conflict finds stored meetings that overlap a requested slot.
package conflict

import (
	"log/slog"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
)

// Find returns every meeting whose interval overlaps slot, in store order.
// Meetings with unparsable or inverted timestamps cannot conflict and are
// skipped.
func Find(slot domain.TimeSlot, meetings []domain.Meeting) []domain.Meeting {
	return FindIn(slot, meetings, time.Local)
}

// FindIn is Find with stored timestamps lacking an offset read in loc.
func FindIn(slot domain.TimeSlot, meetings []domain.Meeting, loc *time.Location) []domain.Meeting {
	var out []domain.Meeting
	for _, m := range meetings {
		existing, err := m.SlotIn(loc)
		if err != nil {
			slog.Warn("skipping meeting with invalid time range",
				"meeting_id", m.ID,
				"error", err)
			continue
		}
		if slot.Overlaps(existing) {
			out = append(out, m)
		}
	}
	return out
}

// Partition splits conflicts into those organized by email and the rest.
func Partition(conflicts []domain.Meeting, email string) (organized, others []domain.Meeting) {
	for _, m := range conflicts {
		if m.OrganizedBy(email) {
			organized = append(organized, m)
		} else {
			others = append(others, m)
		}
	}
	return organized, others
}
