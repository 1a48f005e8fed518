package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimeSlot is a half-open interval [Start, End).
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeSlot builds a validated slot.
func NewTimeSlot(start, end time.Time) (TimeSlot, error) {
	s := TimeSlot{Start: start, End: end}
	if err := s.Validate(); err != nil {
		return TimeSlot{}, err
	}
	return s, nil
}

// Validate enforces start < end.
func (s TimeSlot) Validate() error {
	if s.Start.IsZero() || s.End.IsZero() {
		return fmt.Errorf("%w: missing start or end", ErrInvalidSlot)
	}
	if !s.Start.Before(s.End) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidSlot,
			s.End.Format(time.RFC3339), s.Start.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports half-open overlap; touching endpoints do not overlap.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start.Before(o.End) && s.End.After(o.Start)
}

// Duration returns End - Start.
func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// WireStart formats Start the way meetings are persisted.
func (s TimeSlot) WireStart() string { return FormatTimestamp(s.Start) }

// WireEnd formats End the way meetings are persisted.
func (s TimeSlot) WireEnd() string { return FormatTimestamp(s.End) }

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts ISO 8601 timestamps with second or minute
// precision. Values without an offset are read in the local time zone.
func ParseTimestamp(v string) (time.Time, error) {
	return ParseTimestampIn(v, time.Local)
}

// ParseTimestampIn is ParseTimestamp with values lacking an offset read in
// loc. A nil loc means time.Local.
func ParseTimestampIn(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

// FormatTimestamp renders t as RFC 3339 with its own offset.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
