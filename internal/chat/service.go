// Package chat runs negotiation turns for the HTTP and WebSocket surfaces and
// records them in the conversation transcript.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/logging"
	"github.com/ashureev/calgenie/internal/negotiation"
	"github.com/ashureev/calgenie/internal/session"
	"github.com/ashureev/calgenie/internal/transcript"
)

// Kind selects which engine operation a turn runs.
type Kind int

const (
	// KindChat routes the text through the pending-state dispatcher.
	KindChat Kind = iota
	// KindRequest starts or continues a scheduling request.
	KindRequest
	// KindConfirm answers a pending confirmation.
	KindConfirm
	// KindCancel drops everything pending.
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindRequest:
		return "request"
	case KindConfirm:
		return "confirm"
	case KindCancel:
		return "cancel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Turn is one caller message.
type Turn struct {
	UserID     string
	SessionID  string
	SessionKey string
	Requester  domain.Participant
	Channel    string
	Kind       Kind
	Text       string
	RequestID  string
}

// Service binds the engine to the session manager.
type Service struct {
	engine     *negotiation.Engine
	sessions   *session.Manager
	transcript transcript.Logger
}

// NewService creates a Service. A nil transcript logger discards events.
func NewService(engine *negotiation.Engine, sessions *session.Manager, log transcript.Logger) *Service {
	if log == nil {
		log = transcript.Nop{}
	}
	return &Service{engine: engine, sessions: sessions, transcript: log}
}

// Run executes one turn against the caller's session.
func (s *Service) Run(ctx context.Context, t Turn) (negotiation.Response, error) {
	start := time.Now()
	s.logInbound(t)

	resp, err := s.sessions.Do(ctx, t.SessionKey, t.Requester, func(sess *negotiation.Session) negotiation.Response {
		switch t.Kind {
		case KindRequest:
			return s.engine.HandleRequest(ctx, sess, t.Text)
		case KindConfirm:
			return s.engine.ConfirmAndSchedule(ctx, sess, t.Text)
		case KindCancel:
			return s.engine.Cancel(sess)
		default:
			return s.engine.Submit(ctx, sess, t.Text)
		}
	})
	if err != nil {
		slog.Error("Negotiation turn failed",
			logging.Operation("chat.run"),
			logging.Session(t.SessionKey),
			logging.Err(err))
		return negotiation.Response{}, err
	}

	slog.Info("Negotiation turn",
		logging.Session(t.SessionKey),
		logging.Action(string(resp.Action)),
		logging.UserHash(t.Requester.Email),
		"kind", t.Kind.String(),
		"channel", t.Channel,
		"duration", time.Since(start))
	s.logOutbound(t, resp)
	return resp, nil
}

// View returns a copy of the caller's session, or nil.
func (s *Service) View(ctx context.Context, sessionKey string) (*negotiation.Session, error) {
	return s.sessions.View(ctx, sessionKey)
}

func (s *Service) logInbound(t Turn) {
	text := t.Text
	if t.Kind == KindCancel {
		text = "(cancel)"
	}
	s.transcript.Log(transcript.Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     t.UserID,
		SessionID:  t.SessionID,
		Channel:    t.Channel,
		Direction:  transcript.DirectionInbound,
		EventType:  transcript.EventUserMessage,
		ContentRaw: text,
		Meta: map[string]any{
			"kind":       t.Kind.String(),
			"request_id": t.RequestID,
		},
	})
}

func (s *Service) logOutbound(t Turn, resp negotiation.Response) {
	meta := map[string]any{
		"action":             string(resp.Action),
		"needs_confirmation": resp.NeedsConfirmation,
		"request_id":         t.RequestID,
	}
	if len(resp.Conflicts) > 0 {
		meta["conflicts"] = len(resp.Conflicts)
	}
	if resp.Meeting != nil {
		meta["meeting_id"] = resp.Meeting.ID
	}
	if resp.ReplaceID != "" {
		meta["replace_id"] = resp.ReplaceID
	}
	s.transcript.Log(transcript.Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     t.UserID,
		SessionID:  t.SessionID,
		Channel:    t.Channel,
		Direction:  transcript.DirectionOutbound,
		EventType:  transcript.EventResponse,
		ContentRaw: resp.Message,
		Meta:       meta,
	})
}
