// Package negotiation implements the multi-turn scheduling protocol: intent
// gating, conflict checks, replacement negotiation and the commit.
package negotiation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/calgenie/internal/conflict"
	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/intent"
	"github.com/ashureev/calgenie/internal/logging"
	"github.com/ashureev/calgenie/internal/metrics"
	"github.com/ashureev/calgenie/internal/store"
)

// Config wires the engine to its collaborators.
type Config struct {
	Store     store.EventStore
	Gate      *intent.Gate
	Completer *details.Completer
	Metrics   *metrics.Recorder
	// Location is used for display and for the "now" handed to the gate.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs negotiation turns against explicit Session values. It holds no
// per-session state and is safe for concurrent use across sessions.
type Engine struct {
	store     store.EventStore
	gate      *intent.Gate
	completer *details.Completer
	metrics   *metrics.Recorder
	loc       *time.Location
	now       func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:     cfg.Store,
		gate:      cfg.Gate,
		completer: cfg.Completer,
		metrics:   cfg.Metrics,
		loc:       cfg.Location,
		now:       cfg.Now,
	}
}

var affirmativeReplies = map[string]bool{
	"yes":         true,
	"confirm":     true,
	"ok":          true,
	"sure":        true,
	"schedule it": true,
	"add it":      true,
}

// Submit routes free text the way a chat surface does: an open replacement
// negotiation takes the reply first, then an open confirmation, and
// otherwise the text is a new request.
func (e *Engine) Submit(ctx context.Context, sess *Session, text string) Response {
	switch {
	case sess.Replacement != nil:
		return e.HandleRequest(ctx, sess, text)
	case sess.Confirmation != nil:
		return e.ConfirmAndSchedule(ctx, sess, text)
	default:
		return e.HandleRequest(ctx, sess, text)
	}
}

// HandleRequest runs one top-level turn. The trace is rebuilt from scratch.
func (e *Engine) HandleRequest(ctx context.Context, sess *Session, query string) Response {
	sess.Trace.Reset()

	var resp Response
	if sess.Replacement != nil {
		resp = e.followUp(ctx, sess, query)
	} else {
		resp = e.analyze(ctx, sess, query)
	}
	return e.finish(sess, query, resp)
}

// ConfirmAndSchedule commits the pending draft on an affirmative reply and
// cancels it on anything else.
func (e *Engine) ConfirmAndSchedule(ctx context.Context, sess *Session, reply string) Response {
	return e.finish(sess, reply, e.confirm(ctx, sess, reply))
}

// Cancel drops every pending artifact of the session.
func (e *Engine) Cancel(sess *Session) Response {
	had := sess.State() != StateIdle
	sess.Reset()
	msg := "Nothing was pending."
	if had {
		msg = "Meeting scheduling cancelled."
	}
	return e.finish(sess, "", Response{Action: ActionCancelled, Message: msg})
}

func (e *Engine) analyze(ctx context.Context, sess *Session, query string) Response {
	res := e.gate.Classify(ctx, query, e.now().In(e.loc))
	sess.Trace.Record(PhaseAnalyze, map[string]any{
		"scheduling": res.Kind != intent.NotScheduling,
		"verdict":    res.Kind.String(),
	})

	switch res.Kind {
	case intent.NotScheduling:
		return Response{Action: ActionNotScheduling, Message: "This doesn't appear to be a scheduling request."}
	case intent.InvalidSlot:
		return Response{
			Action:  ActionInvalidSlot,
			Message: "I couldn't work out a valid time for that meeting. Please give a start and an end time, with the end after the start.",
		}
	case intent.PastTime:
		return Response{
			Action:  ActionPastTime,
			Message: "The requested time (" + e.formatTime(res.Slot.Start) + ") is in the past. Please choose a future time.",
		}
	}

	meetings, warning := e.loadForCheck(ctx)
	conflicts := conflict.FindIn(res.Slot, meetings, e.loc)
	sess.Trace.Record(PhaseCheckConflicts, map[string]any{"conflicts": len(conflicts)})

	var resp Response
	if len(conflicts) > 0 {
		resp = e.conflictOutcome(sess, query, res, conflicts)
	} else {
		resp = e.draft(ctx, sess, details.Request{
			Query:     query,
			Slot:      res.Slot,
			Hints:     res.Hints,
			Template:  templateMeeting(meetings),
			Requester: sess.Requester,
		})
	}
	resp.Warning = warning
	return resp
}

// loadForCheck reads the store for a conflict check. An unreadable store is
// treated as empty and reported through the warning.
func (e *Engine) loadForCheck(ctx context.Context) ([]domain.Meeting, string) {
	snap, err := e.store.Load(ctx)
	if err != nil {
		slog.Warn("failed to load meetings for conflict check", logging.Err(err))
		return nil, "The calendar could not be read, so conflicts may not have been detected."
	}
	return snap.Meetings, ""
}

func (e *Engine) conflictOutcome(sess *Session, query string, res intent.Result, conflicts []domain.Meeting) Response {
	lines := e.formatConflicts(conflicts)
	organized, _ := conflict.Partition(conflicts, sess.Requester.Email)

	// Organizing any one of the conflicts blocks the request outright, even if
	// others could be negotiated.
	if len(organized) > 0 {
		return Response{
			Action:    ActionConflict,
			Blocked:   true,
			Conflicts: conflicts,
			Message: "This time isn't free. You're the organizer of the conflicting meeting(s):\n" +
				lines + "\n\nPlease pick another time.",
		}
	}

	sess.Confirmation = nil
	sess.Replacement = &domain.PendingReplacement{
		Stage:          domain.StageOffer,
		Slot:           res.Slot,
		Hints:          res.Hints,
		Conflicts:      store.CloneAll(conflicts),
		OriginalQuery:  query,
		RequesterEmail: sess.Requester.Email,
	}
	return Response{
		Action:    ActionConflict,
		Conflicts: conflicts,
		Message: "This time isn't free. Here are the conflicting meeting(s):\n" + lines +
			"\nYou're not the organizer. Do you want to replace one of these with your new meeting?" +
			"\nReply 'replace' to proceed with a replacement, or 'another time' to choose a different slot.",
	}
}

// draft completes details for a conflict-free slot and makes the result the
// session's pending confirmation.
func (e *Engine) draft(ctx context.Context, sess *Session, req details.Request) Response {
	res := e.completer.Complete(ctx, req)
	sess.Trace.Record(PhaseGatherDetails, map[string]any{"complete": res.Complete})
	if !res.Complete {
		return needInfo("To schedule this meeting, I need:\n", res)
	}

	draft := res.Draft
	sess.Replacement = nil
	sess.Confirmation = &domain.PendingConfirmation{Draft: draft}
	return Response{
		Action:            ActionSchedulePending,
		Message:           e.formatConfirmation(draft) + "\n\nReply 'yes' or 'confirm' to add this meeting.",
		Details:           &draft,
		NeedsConfirmation: true,
	}
}

func (e *Engine) confirm(ctx context.Context, sess *Session, reply string) Response {
	if sess.Confirmation == nil {
		return Response{Action: ActionError, Message: "No pending meeting to confirm."}
	}
	if !isAffirmative(reply) {
		sess.Confirmation = nil
		return Response{Action: ActionCancelled, Message: "Meeting scheduling cancelled."}
	}

	pending := *sess.Confirmation
	draft := pending.Draft.Clone()
	res, err := store.Update(ctx, e.store, func(meetings []domain.Meeting) ([]domain.Meeting, error) {
		if pending.ReplaceID != "" {
			meetings = store.RemoveByID(meetings, pending.ReplaceID)
		}
		return store.Append(meetings, draft), nil
	})
	e.metrics.Commit(err, res.Conflicts)
	sess.Trace.Record(PhaseCommit, map[string]any{"success": err == nil})

	if err != nil {
		slog.Error("failed to commit meeting",
			logging.Session(sess.ID),
			logging.Meeting(draft.ID),
			logging.Err(err))
		return Response{
			Action:            ActionError,
			Message:           "Failed to save the meeting. Your draft is kept; reply 'yes' to try again.",
			Details:           &draft,
			NeedsConfirmation: true,
			ReplaceID:         pending.ReplaceID,
		}
	}

	sess.Confirmation = nil
	slog.Info("Meeting committed",
		logging.Session(sess.ID),
		logging.Meeting(draft.ID),
		"replaced", pending.ReplaceID,
		"store_version", res.Version)

	note := ""
	if pending.ReplaceID != "" && pending.ReplaceTitle != "" {
		note = " (Replaced '" + pending.ReplaceTitle + "')"
	}
	return Response{
		Action: ActionScheduled,
		Message: "Meeting '" + draft.Title + "' scheduled successfully" + note + "!\n\n" +
			e.formatRange(draft.StartTime, draft.EndTime) + "\n" + draft.Location,
		Meeting:   &draft,
		ReplaceID: pending.ReplaceID,
	}
}

func (e *Engine) finish(sess *Session, query string, resp Response) Response {
	if resp.Trace == "" {
		resp.Trace = sess.Trace.String()
	}
	sess.remember(query, resp.Action, e.now())
	e.metrics.Outcome(string(resp.Action))
	slog.Debug("Negotiation turn",
		logging.Session(sess.ID),
		logging.Action(string(resp.Action)),
		"state", sess.State())
	return resp
}

func needInfo(prefix string, res details.Result) Response {
	resp := Response{
		Action:  ActionNeedInfo,
		Message: prefix + res.Message,
		Missing: res.Missing,
	}
	if res.Draft.ID != "" {
		partial := res.Draft
		resp.Details = &partial
	}
	return resp
}

func isAffirmative(reply string) bool {
	r := strings.ToLower(strings.TrimSpace(reply))
	r = strings.TrimRight(r, ".! ")
	return affirmativeReplies[r]
}

// templateMeeting is the style example handed to the synthesizer.
func templateMeeting(meetings []domain.Meeting) *domain.Meeting {
	if len(meetings) == 0 {
		return nil
	}
	t := meetings[0].Clone()
	return &t
}
