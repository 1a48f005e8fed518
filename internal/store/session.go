package store

import (
	"context"
	"time"
)

// SessionRecord is the persisted form of one negotiation session. The state
// itself is opaque to the store.
type SessionRecord struct {
	SessionID string
	StateJSON []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionRepository persists negotiation session state between requests.
type SessionRepository interface {
	// GetSession returns nil, nil when no record exists.
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	UpsertSession(ctx context.Context, rec *SessionRecord) error
	DeleteSession(ctx context.Context, sessionID string) error
	// CleanupExpiredSessions deletes records idle longer than ttl and returns
	// their ids.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)
}
