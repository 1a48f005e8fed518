// Package icalendar converts meetings to and from iCalendar (RFC 5545).
package icalendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/logging"
	"github.com/ashureev/calgenie/internal/store"
)

// ProductID identifies calendars produced by calgenie.
const ProductID = "-//calgenie//meeting scheduler//EN"

const mailtoPrefix = "mailto:"

// Encode writes meetings as one VCALENDAR. Meetings whose timestamps do not
// parse are skipped.
func Encode(w io.Writer, meetings []domain.Meeting, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, m := range meetings {
		slot, err := m.Slot()
		if err != nil {
			slog.Warn("Skipping meeting with invalid time slot in export",
				logging.Meeting(m.ID),
				logging.Err(err))
			continue
		}
		cal.Children = append(cal.Children, toEvent(m, slot, now).Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func toEvent(m domain.Meeting, slot domain.TimeSlot, now time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, m.ID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, slot.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, slot.End.UTC())
	event.Props.SetText(ical.PropSummary, m.Title)
	if m.Description != "" {
		event.Props.SetText(ical.PropDescription, m.Description)
	}
	if m.Location != "" {
		event.Props.SetText(ical.PropLocation, m.Location)
	}

	organizerSet := false
	for _, p := range m.Participants {
		if p.IsOrganizer && !organizerSet {
			org := ical.NewProp(ical.PropOrganizer)
			org.Value = mailtoPrefix + p.Email
			if p.Name != "" {
				org.Params.Set(ical.ParamCommonName, p.Name)
			}
			event.Props.Set(org)
			organizerSet = true
		}

		att := ical.NewProp(ical.PropAttendee)
		att.Value = mailtoPrefix + p.Email
		if p.Name != "" {
			att.Params.Set(ical.ParamCommonName, p.Name)
		}
		if p.IsOrganizer {
			att.Params.Set(ical.ParamRole, "CHAIR")
		} else {
			att.Params.Set(ical.ParamRole, "REQ-PARTICIPANT")
		}
		event.Props.Add(att)
	}
	return event
}

// Decode reads every VEVENT from r. Events without a usable start or end are
// skipped. Events without a UID get a fresh id.
func Decode(r io.Reader) ([]domain.Meeting, error) {
	dec := ical.NewDecoder(r)
	var meetings []domain.Meeting
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}
		for _, ev := range cal.Events() {
			m, err := fromEvent(ev)
			if err != nil {
				slog.Warn("Skipping calendar event", logging.Err(err))
				continue
			}
			meetings = append(meetings, m)
		}
	}
	return meetings, nil
}

func fromEvent(ev ical.Event) (domain.Meeting, error) {
	var m domain.Meeting
	if p := ev.Props.Get(ical.PropUID); p != nil {
		m.ID = strings.TrimSpace(p.Value)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	start, err := ev.DateTimeStart(time.UTC)
	if err != nil {
		return m, fmt.Errorf("event %s start: %w", m.ID, err)
	}
	end, err := ev.DateTimeEnd(time.UTC)
	if err != nil {
		return m, fmt.Errorf("event %s end: %w", m.ID, err)
	}
	slot, err := domain.NewTimeSlot(start, end)
	if err != nil {
		return m, fmt.Errorf("event %s: %w", m.ID, err)
	}
	m.StartTime = slot.WireStart()
	m.EndTime = slot.WireEnd()

	m.Title = text(ev.Props, ical.PropSummary)
	m.Description = text(ev.Props, ical.PropDescription)
	m.Location = text(ev.Props, ical.PropLocation)

	organizer := ""
	if p := ev.Props.Get(ical.PropOrganizer); p != nil {
		organizer = address(p.Value)
	}
	for _, p := range ev.Props.Values(ical.PropAttendee) {
		email := address(p.Value)
		if email == "" {
			continue
		}
		m.Participants = append(m.Participants, domain.Participant{
			Name:        p.Params.Get(ical.ParamCommonName),
			Email:       email,
			IsOrganizer: domain.SameEmail(email, organizer) || p.Params.Get(ical.ParamRole) == "CHAIR",
		})
	}
	if organizer != "" && !m.HasParticipant(organizer) {
		var name string
		if p := ev.Props.Get(ical.PropOrganizer); p != nil {
			name = p.Params.Get(ical.ParamCommonName)
		}
		m.Participants = append([]domain.Participant{{Name: name, Email: organizer, IsOrganizer: true}}, m.Participants...)
	}
	return m, nil
}

func text(props ical.Props, name string) string {
	v, err := props.Text(name)
	if err != nil {
		if p := props.Get(name); p != nil {
			return p.Value
		}
		return ""
	}
	return v
}

func address(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= len(mailtoPrefix) && strings.EqualFold(v[:len(mailtoPrefix)], mailtoPrefix) {
		v = v[len(mailtoPrefix):]
	}
	return strings.TrimSpace(v)
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Added    int
	Replaced int
}

// Import merges the calendar in r into s. Meetings with an id already in the
// store replace the stored record.
func Import(ctx context.Context, s store.EventStore, r io.Reader) (ImportResult, error) {
	incoming, err := Decode(r)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	_, err = store.Update(ctx, s, func(meetings []domain.Meeting) ([]domain.Meeting, error) {
		res = ImportResult{}
		for _, m := range incoming {
			before := len(meetings)
			meetings = store.RemoveByID(meetings, m.ID)
			if len(meetings) < before {
				res.Replaced++
			} else {
				res.Added++
			}
			meetings = store.Append(meetings, m)
		}
		return meetings, nil
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import calendar: %w", err)
	}
	slog.Info("Imported calendar", "added", res.Added, "replaced", res.Replaced)
	return res, nil
}
