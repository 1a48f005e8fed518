package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/calgenie/internal/identity"
	"github.com/ashureev/calgenie/internal/negotiation"
	"github.com/ashureev/calgenie/internal/transcript"
)

const writeTimeout = 10 * time.Second

// Message types.
const (
	TypeMessage  = "message"
	TypeCancel   = "cancel"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeResponse = "response"
	TypeError    = "error"
)

// wsMessage is a client frame.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// wsResponse wraps a negotiation response for the socket.
type wsResponse struct {
	Type string `json:"type"`
	negotiation.Response
}

type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// WebSocketHandler serves the live chat socket. Each text frame of type
// "message" is one turn.
type WebSocketHandler struct {
	svc            *Service
	conns          *Connections
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(svc *Service, conns *Connections, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:            svc,
		conns:          conns,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	base := Turn{
		UserID:     userID,
		SessionID:  sessionID,
		SessionKey: identity.SessionKey(r.Context()),
		Requester:  identity.RequesterFromContext(r.Context()),
		Channel:    transcript.ChannelWebSocket,
	}
	h.readLoop(r.Context(), ws, base)
	slog.Info("Chat socket ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, base Turn) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", base.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", base.UserID)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsError{Type: TypeError, Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		var reply any
		switch msg.Type {
		case TypeMessage:
			reply = h.turn(ctx, base, KindChat, msg.Content)
		case TypeCancel:
			reply = h.turn(ctx, base, KindCancel, "")
		case TypePing:
			reply = map[string]string{"type": TypePong}
		default:
			reply = wsError{Type: TypeError, Error: "unknown message type"}
		}
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			slog.Debug("WebSocket write failed", "error", err, "user_id", base.UserID)
			return
		}
	}
}

func (h *WebSocketHandler) turn(ctx context.Context, base Turn, kind Kind, text string) any {
	t := base
	t.Kind = kind
	t.Text = text
	resp, err := h.svc.Run(ctx, t)
	if err != nil {
		return wsError{Type: TypeError, Error: "failed to process message"}
	}
	return wsResponse{Type: TypeResponse, Response: resp}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
