package negotiation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
)

var anotherTimeKeywords = []string{"another time", "different time", "other time", "pick another"}

// followUp handles replies while a replacement negotiation is open.
func (e *Engine) followUp(ctx context.Context, sess *Session, query string) Response {
	p := sess.Replacement
	q := strings.ToLower(strings.TrimSpace(query))
	sess.Trace.Record(PhaseFollowup, map[string]any{"stage": string(p.Stage)})

	for _, kw := range anotherTimeKeywords {
		if strings.Contains(q, kw) {
			sess.Replacement = nil
			return Response{
				Action:  ActionChooseAnotherTime,
				Message: "No worries. Please provide a different time slot to try again.",
			}
		}
	}

	switch p.Stage {
	case domain.StageOffer:
		if !strings.Contains(q, "replace") {
			break
		}
		switch len(p.Conflicts) {
		case 0:
			sess.Replacement = nil
			return Response{Action: ActionError, Message: "No conflicts available to replace."}
		case 1:
			return e.prepareReplacement(ctx, sess, p.Conflicts[0])
		default:
			p.Stage = domain.StageAwaitSelection
			return Response{
				Action:    ActionReplacementSelect,
				Conflicts: p.Conflicts,
				Message: "Which meeting do you want to replace? Reply with the number or meeting_id.\n" +
					e.formatSelection(p.Conflicts),
			}
		}

	case domain.StageAwaitSelection:
		target, ok := selectConflict(p.Conflicts, q)
		if !ok {
			return Response{
				Action:    ActionReplacementSelect,
				Conflicts: p.Conflicts,
				Message: "I couldn't match that. Please reply with a valid number or meeting_id.\n" +
					e.formatSelection(p.Conflicts),
			}
		}
		return e.prepareReplacement(ctx, sess, target)
	}

	return Response{
		Action:    ActionAwaitingFollowup,
		Conflicts: p.Conflicts,
		Message:   "Please reply 'replace' to proceed, 'another time' to try a different slot, or select which meeting to replace.",
	}
}

// selectConflict resolves a 1-based index or a case-insensitive meeting id.
func selectConflict(conflicts []domain.Meeting, reply string) (domain.Meeting, bool) {
	reply = strings.TrimSpace(reply)
	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(conflicts) {
			return conflicts[n-1], true
		}
	}
	for _, m := range conflicts {
		if m.ID != "" && strings.EqualFold(m.ID, reply) {
			return m, true
		}
	}
	return domain.Meeting{}, false
}

// prepareReplacement drafts the new meeting for the original request and
// stages it for confirmation with the target marked for removal. The
// negotiation ends here whatever the outcome.
func (e *Engine) prepareReplacement(ctx context.Context, sess *Session, target domain.Meeting) Response {
	p := sess.Replacement
	sess.Replacement = nil

	requester := sess.Requester
	if !domain.SameEmail(requester.Email, p.RequesterEmail) {
		requester = domain.Participant{Email: p.RequesterEmail}
	}

	meetings, _ := e.loadForCheck(ctx)
	res := e.completer.Complete(ctx, details.Request{
		Query:     p.OriginalQuery,
		Slot:      p.Slot,
		Hints:     p.Hints,
		Template:  templateMeeting(meetings),
		Requester: requester,
	})
	sess.Trace.Record(PhaseGatherDetails, map[string]any{"complete": res.Complete, "replace_id": target.ID})
	if !res.Complete {
		return needInfo("To proceed with replacement, I need: ", res)
	}

	draft := res.Draft
	sess.Confirmation = &domain.PendingConfirmation{
		Draft:        draft,
		ReplaceID:    target.ID,
		ReplaceTitle: target.Title,
	}
	return Response{
		Action: ActionSchedulePending,
		Message: e.formatConfirmation(draft) +
			fmt.Sprintf("\n\nThis will replace: %s (ID: %s).", target.Title, target.ID) +
			"\n\nReply 'yes' or 'confirm' to replace and add the new meeting.",
		Details:           &draft,
		NeedsConfirmation: true,
		ReplaceID:         target.ID,
	}
}
