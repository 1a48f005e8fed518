// Package session keeps negotiation sessions between turns: it serializes
// turns of one session, persists state after each turn and expires idle
// sessions.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/logging"
	"github.com/ashureev/calgenie/internal/metrics"
	"github.com/ashureev/calgenie/internal/negotiation"
	"github.com/ashureev/calgenie/internal/store"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 60 * time.Minute

type entry struct {
	mu   sync.Mutex
	sess *negotiation.Session

	// lastUsed is guarded by Manager.mu.
	lastUsed time.Time
}

// Manager owns every live negotiation session.
type Manager struct {
	repo             store.SessionRepository
	ttl              time.Duration
	defaultRequester domain.Participant
	metrics          *metrics.Recorder

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager creates a manager. A non-positive ttl uses DefaultTTL.
func NewManager(repo store.SessionRepository, ttl time.Duration, defaultRequester domain.Participant, m *metrics.Recorder) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		repo:             repo,
		ttl:              ttl,
		defaultRequester: defaultRequester,
		metrics:          m,
		entries:          make(map[string]*entry),
	}
}

// TurnFunc runs one turn against a session the caller holds exclusively.
type TurnFunc func(sess *negotiation.Session) negotiation.Response

// Do loads or creates the session, runs fn while holding the session lock,
// and persists the result. A persistence failure is logged but does not
// change the response: session state is best effort across restarts.
func (m *Manager) Do(ctx context.Context, id string, requester domain.Participant, fn TurnFunc) (negotiation.Response, error) {
	e := m.lockEntry(id)
	defer e.mu.Unlock()

	if e.sess == nil {
		sess, err := m.load(ctx, id)
		if err != nil {
			return negotiation.Response{}, err
		}
		e.sess = sess
	}
	if requester.Email != "" {
		e.sess.Requester = requester
	}
	if e.sess.Requester.Email == "" {
		e.sess.Requester = m.defaultRequester
	}

	resp := fn(e.sess)
	m.touch(e)

	if err := m.persist(ctx, e.sess); err != nil {
		slog.Warn("failed to persist negotiation session",
			logging.Session(id),
			logging.Err(err))
	}
	return resp, nil
}

// View returns a deep copy of the session for read-only use, or nil when it
// does not exist.
func (m *Manager) View(ctx context.Context, id string) (*negotiation.Session, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()

	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.sess != nil {
			return cloneSession(e.sess)
		}
	}

	rec, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	return decodeSession(rec.StateJSON)
}

// Delete forgets the session everywhere.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	n := len(m.entries)
	m.mu.Unlock()
	m.metrics.SetActiveSessions(n)

	if err := m.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Active returns the number of sessions held in memory.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// lockEntry returns the live entry for id with its lock held. An entry that
// was swept or deleted while the caller waited for its lock is abandoned and
// the lookup is repeated.
func (m *Manager) lockEntry(id string) *entry {
	for {
		e := m.entry(id)
		e.mu.Lock()
		m.mu.Lock()
		live := m.entries[id] == e
		m.mu.Unlock()
		if live {
			return e
		}
		e.mu.Unlock()
	}
}

// entry returns the entry for id, creating it if needed. Its lastUsed is
// refreshed so the sweeper does not expire a session a turn is about to use.
func (m *Manager) entry(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{}
		m.entries[id] = e
		m.metrics.SetActiveSessions(len(m.entries))
	}
	e.lastUsed = time.Now()
	return e
}

func (m *Manager) touch(e *entry) {
	m.mu.Lock()
	e.lastUsed = time.Now()
	m.mu.Unlock()
}

func (m *Manager) load(ctx context.Context, id string) (*negotiation.Session, error) {
	rec, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if rec == nil {
		return negotiation.NewSession(id, m.defaultRequester), nil
	}
	sess, err := decodeSession(rec.StateJSON)
	if err != nil {
		slog.Warn("discarding unreadable session state",
			logging.Session(id),
			logging.Err(err))
		return negotiation.NewSession(id, m.defaultRequester), nil
	}
	return sess, nil
}

func (m *Manager) persist(ctx context.Context, sess *negotiation.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return m.repo.UpsertSession(ctx, &store.SessionRecord{
		SessionID: sess.ID,
		StateJSON: data,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: time.Now(),
	})
}

func decodeSession(data []byte) (*negotiation.Session, error) {
	var sess negotiation.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func cloneSession(s *negotiation.Session) (*negotiation.Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return decodeSession(data)
}
