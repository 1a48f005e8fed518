package negotiation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
)

const displayLayout = "Jan 2, 2006 at 3:04 PM MST"

func (e *Engine) formatTime(t time.Time) string {
	return t.In(e.loc).Format(displayLayout)
}

// formatWire renders a stored timestamp, falling back to the raw value.
func (e *Engine) formatWire(v string) string {
	t, err := domain.ParseTimestampIn(v, e.loc)
	if err != nil {
		return v
	}
	return e.formatTime(t)
}

func (e *Engine) formatRange(start, end string) string {
	return e.formatWire(start) + " - " + e.formatWire(end)
}

func (e *Engine) formatConflicts(conflicts []domain.Meeting) string {
	lines := make([]string, 0, len(conflicts))
	for _, m := range conflicts {
		var b strings.Builder
		fmt.Fprintf(&b, "- %s (%s)\n", m.Title, e.formatRange(m.StartTime, m.EndTime))
		location := m.Location
		if location == "" {
			location = "TBD"
		}
		fmt.Fprintf(&b, "  Location: %s\n", location)
		if m.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", m.Description)
		}
		if orgs := m.Organizers(); len(orgs) > 0 {
			fmt.Fprintf(&b, "  Organizer: %s <%s>\n", orgs[0].Name, orgs[0].Email)
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) formatSelection(conflicts []domain.Meeting) string {
	lines := make([]string, len(conflicts))
	for i, m := range conflicts {
		lines[i] = fmt.Sprintf("%d. %s (ID: %s) — %s to %s",
			i+1, m.Title, m.ID, e.formatWire(m.StartTime), e.formatWire(m.EndTime))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) formatConfirmation(m domain.Meeting) string {
	names := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		name := p.Name
		if name == "" {
			name = p.Email
		}
		names = append(names, name)
	}
	return fmt.Sprintf("**Meeting Confirmation**\n\n"+
		"**Title:** %s\n"+
		"**Description:** %s\n"+
		"**When:** %s\n"+
		"**Location:** %s\n"+
		"**Participants:** %s\n"+
		"**Meeting ID:** %s",
		m.Title, m.Description, e.formatRange(m.StartTime, m.EndTime),
		m.Location, strings.Join(names, ", "), m.ID)
}
