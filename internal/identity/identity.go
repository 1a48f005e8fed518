// Package identity provides anonymous per-device identity and the requester
// on whose behalf meetings are negotiated.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
)

const (
	AnonCookieName        = "calgenie_anon_id"
	SessionHeaderName     = "X-Calgenie-Session-ID"
	UserEmailHeaderName   = "X-Calgenie-User-Email"
	UserNameHeaderName    = "X-Calgenie-User-Name"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
	requesterKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserIDFromContext extracts the anonymous user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// RequesterFromContext returns the requester supplied by the client, or the
// zero participant when none was given.
func RequesterFromContext(ctx context.Context) domain.Participant {
	if v, ok := ctx.Value(requesterKey).(domain.Participant); ok {
		return v
	}
	return domain.Participant{}
}

// SessionKey identifies one negotiation session: a device plus a tab.
func SessionKey(ctx context.Context) string {
	return JoinSessionKey(UserIDFromContext(ctx), SessionIDFromContext(ctx))
}

// JoinSessionKey builds a session key from its parts.
func JoinSessionKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

// SplitSessionKey is the inverse of JoinSessionKey.
func SplitSessionKey(key string) (userID, sessionID string) {
	userID, sessionID, _ = strings.Cut(key, "/")
	return userID, sessionID
}

// WithIdentity returns a context carrying the given identity. Used by
// non-HTTP callers such as the CLI.
func WithIdentity(ctx context.Context, userID, sessionID string, requester domain.Participant) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
	return context.WithValue(ctx, requesterKey, requester)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// requesterFromRequest reads the requester headers. Invalid addresses are
// ignored so the server-side default applies.
func requesterFromRequest(r *http.Request) domain.Participant {
	email := strings.TrimSpace(r.Header.Get(UserEmailHeaderName))
	if email == "" {
		return domain.Participant{}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return domain.Participant{}
	}
	name := strings.TrimSpace(r.Header.Get(UserNameHeaderName))
	if name == "" {
		name = addr.Name
	}
	if name == "" {
		name = strings.SplitN(addr.Address, "@", 2)[0]
	}
	return domain.Participant{Name: name, Email: addr.Address}
}

// Middleware injects anonymous per-device identity, the per-request session
// ID and the requester.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r), requesterFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
