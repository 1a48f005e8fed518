// Package store provides meeting persistence and negotiation session storage.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
)

var (
	// ErrVersionConflict is returned by Save when the stored set changed since
	// the snapshot the caller read.
	ErrVersionConflict = errors.New("store version conflict")

	// ErrUnavailable wraps failures to read or write the backing store.
	ErrUnavailable = errors.New("store unavailable")
)

// ConflictError carries the versions involved in a failed compare-and-swap.
type ConflictError struct {
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store version conflict: expected %q, current %q", e.Expected, e.Current)
}

// Is lets errors.Is match ErrVersionConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Snapshot is the persisted meeting set together with its version token.
type Snapshot struct {
	Meetings []domain.Meeting
	Version  string
}

// EventStore is a versioned collection of meetings. Save replaces the whole
// set atomically and fails with ErrVersionConflict when expectedVersion is
// stale.
type EventStore interface {
	// Load returns the current meeting set and its version.
	Load(ctx context.Context) (Snapshot, error)

	// Save overwrites the set if the stored version still equals
	// expectedVersion, returning the new version.
	Save(ctx context.Context, meetings []domain.Meeting, expectedVersion string) (string, error)
}

// MutateFunc transforms a loaded meeting set into the set to persist.
type MutateFunc func(meetings []domain.Meeting) ([]domain.Meeting, error)

// UpdateResult describes a completed read-modify-write.
type UpdateResult struct {
	Meetings  []domain.Meeting
	Version   string
	Conflicts int
}

const (
	maxUpdateAttempts = 5
	updateBaseDelay   = 10 * time.Millisecond
)

// Update runs load -> fn -> save as a compare-and-swap loop so concurrent
// commits never overwrite each other. fn may be invoked more than once and
// must be a pure transformation of its input.
func Update(ctx context.Context, s EventStore, fn MutateFunc) (UpdateResult, error) {
	var res UpdateResult
	for i := 0; i < maxUpdateAttempts; i++ {
		snap, err := s.Load(ctx)
		if err != nil {
			return res, err
		}

		next, err := fn(CloneAll(snap.Meetings))
		if err != nil {
			return res, err
		}

		version, err := s.Save(ctx, next, snap.Version)
		if err == nil {
			res.Meetings = next
			res.Version = version
			return res, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return res, err
		}

		res.Conflicts++
		delay := updateBaseDelay * time.Duration(1<<i)
		slog.Debug("store update lost compare-and-swap, retrying",
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(delay):
		}
	}
	return res, fmt.Errorf("store update gave up after %d attempts: %w", maxUpdateAttempts, ErrVersionConflict)
}

// RemoveByID returns meetings without any record whose id equals id.
func RemoveByID(meetings []domain.Meeting, id string) []domain.Meeting {
	out := make([]domain.Meeting, 0, len(meetings))
	for _, m := range meetings {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// Append returns meetings with m added at the end.
func Append(meetings []domain.Meeting, m domain.Meeting) []domain.Meeting {
	out := make([]domain.Meeting, 0, len(meetings)+1)
	out = append(out, meetings...)
	return append(out, m)
}

// CloneAll deep-copies a meeting slice.
func CloneAll(meetings []domain.Meeting) []domain.Meeting {
	if meetings == nil {
		return nil
	}
	out := make([]domain.Meeting, len(meetings))
	for i, m := range meetings {
		out[i] = m.Clone()
	}
	return out
}
