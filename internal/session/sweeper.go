package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/calgenie/internal/logging"
)

// DefaultSweepInterval is how often the sweeper looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// ExpireCallback is called for every session the sweeper removes.
type ExpireCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically drops sessions
// idle for longer than the manager's TTL.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration, onExpire ExpireCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", m.ttl)

		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx, onExpire)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep removes idle sessions from memory and from the repository and
// returns their ids. Sessions in the middle of a turn are skipped.
func (m *Manager) Sweep(ctx context.Context, onExpire ExpireCallback) []string {
	threshold := time.Now().Add(-m.ttl)
	expired := make(map[string]struct{})

	m.mu.Lock()
	for id, e := range m.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(threshold) {
			delete(m.entries, id)
			expired[id] = struct{}{}
		}
		e.mu.Unlock()
	}
	n := len(m.entries)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(n)

	for id := range expired {
		if err := m.repo.DeleteSession(ctx, id); err != nil {
			slog.Warn("Session sweeper failed to delete session",
				logging.Session(id),
				logging.Err(err))
		}
	}

	removed, err := m.repo.CleanupExpiredSessions(ctx, m.ttl)
	if err != nil {
		slog.Error("Session sweeper failed to cleanup persisted sessions", logging.Err(err))
	}
	for _, id := range removed {
		expired[id] = struct{}{}
	}

	ids := make([]string, 0, len(expired))
	for id := range expired {
		ids = append(ids, id)
		if onExpire != nil {
			onExpire(id)
		}
	}
	if len(ids) > 0 {
		slog.Info("Session sweeper expired sessions", "count", len(ids))
	}
	return ids
}
