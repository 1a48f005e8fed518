package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
)

// MemoryStore is a versioned in-process EventStore.
type MemoryStore struct {
	mu       sync.Mutex
	meetings []domain.Meeting
	version  int64

	// FailSave, when set, is returned by Save before any change is made.
	FailSave error
}

// NewMemoryStore returns a store seeded with meetings.
func NewMemoryStore(seed ...domain.Meeting) *MemoryStore {
	return &MemoryStore{meetings: CloneAll(seed)}
}

// Load returns a copy of the current set.
func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meetings := CloneAll(s.meetings)
	if meetings == nil {
		meetings = []domain.Meeting{}
	}
	return Snapshot{Meetings: meetings, Version: strconv.FormatInt(s.version, 10)}, nil
}

// Save replaces the set when expectedVersion is current.
func (s *MemoryStore) Save(_ context.Context, meetings []domain.Meeting, expectedVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return "", s.FailSave
	}
	current := strconv.FormatInt(s.version, 10)
	if current != expectedVersion {
		return "", &ConflictError{Expected: expectedVersion, Current: current}
	}
	s.meetings = CloneAll(meetings)
	s.version++
	return strconv.FormatInt(s.version, 10), nil
}

// MemorySessions is an in-process SessionRepository.
type MemorySessions struct {
	mu      sync.Mutex
	records map[string]SessionRecord
}

// NewMemorySessions returns an empty session repository.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{records: make(map[string]SessionRecord)}
}

// GetSession returns the record or nil.
func (m *MemorySessions) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, nil
	}
	rec.StateJSON = append([]byte(nil), rec.StateJSON...)
	return &rec, nil
}

// UpsertSession stores the record.
func (m *MemorySessions) UpsertSession(_ context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	c.StateJSON = append([]byte(nil), rec.StateJSON...)
	if existing, ok := m.records[rec.SessionID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.records[rec.SessionID] = c
	return nil
}

// DeleteSession removes the record.
func (m *MemorySessions) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}

// CleanupExpiredSessions removes records idle for longer than ttl.
func (m *MemorySessions) CleanupExpiredSessions(_ context.Context, ttl time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	threshold := time.Now().Add(-ttl)
	var removed []string
	for id, rec := range m.records {
		if rec.UpdatedAt.Before(threshold) {
			delete(m.records, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}
