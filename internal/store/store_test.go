package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/calgenie/internal/domain"
)

func sampleMeetings() []domain.Meeting {
	return []domain.Meeting{
		{
			ID:          "m1",
			Title:       "Standup",
			Description: "Daily sync",
			Location:    "Room 1",
			StartTime:   "2025-11-15T15:00:00Z",
			EndTime:     "2025-11-15T15:30:00Z",
			Participants: []domain.Participant{
				{Name: "Ana", Email: "ana@example.com", IsOrganizer: true},
				{Name: "You", Email: "you@example.com"},
			},
		},
		{
			ID:           "broken",
			Title:        "Corrupt",
			StartTime:    "whenever",
			EndTime:      "later",
			Participants: []domain.Participant{},
		},
	}
}

func backends(t *testing.T) map[string]EventStore {
	t.Helper()
	sq, err := NewSQLite(filepath.Join(t.TempDir(), "calgenie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]EventStore{
		"json":   NewJSONFileStore(filepath.Join(t.TempDir(), "meetings.json")),
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestEventStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snap, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, snap.Meetings)

			_, err = s.Save(ctx, sampleMeetings(), snap.Version)
			require.NoError(t, err)

			first, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, sampleMeetings(), first.Meetings)

			// Saving what was loaded must not change any record.
			_, err = s.Save(ctx, first.Meetings, first.Version)
			require.NoError(t, err)
			second, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, first.Meetings, second.Meetings)
		})
	}
}

func TestEventStoreRejectsStaleVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snap, err := s.Load(ctx)
			require.NoError(t, err)
			_, err = s.Save(ctx, sampleMeetings()[:1], snap.Version)
			require.NoError(t, err)

			_, err = s.Save(ctx, nil, snap.Version)
			require.ErrorIs(t, err, ErrVersionConflict)

			var ce *ConflictError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, snap.Version, ce.Expected)

			after, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, after.Meetings, 1)
		})
	}
}

func TestJSONFileStoreFormat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "meetings.json")
	s := NewJSONFileStore(path)

	_, err := s.Save(ctx, nil, "")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"meetings\": []\n}\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestJSONFileStoreDetectsExternalEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meetings.json")
	s := NewJSONFileStore(path)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(`{"meetings": []}`), 0o644))

	_, err = s.Save(ctx, sampleMeetings(), snap.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestJSONFileStoreCorruptFileIsUnavailable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "meetings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewJSONFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUpdateSerializesConcurrentWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewJSONFileStore(filepath.Join(t.TempDir(), "meetings.json"))

	const writers = 4
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := domain.Meeting{
				ID:        string(rune('a' + i)),
				StartTime: "2025-11-15T15:00:00Z",
				EndTime:   "2025-11-15T16:00:00Z",
			}
			_, err := Update(ctx, s, func(ms []domain.Meeting) ([]domain.Meeting, error) {
				return Append(ms, m), nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Meetings, writers)
}

// flakyStore loses the first n compare-and-swaps.
type flakyStore struct {
	*MemoryStore
	losses int
}

func (f *flakyStore) Save(ctx context.Context, ms []domain.Meeting, v string) (string, error) {
	if f.losses > 0 {
		f.losses--
		return "", &ConflictError{Expected: v, Current: "other"}
	}
	return f.MemoryStore.Save(ctx, ms, v)
}

func TestUpdateRetriesAndReportsConflicts(t *testing.T) {
	t.Parallel()
	s := &flakyStore{MemoryStore: NewMemoryStore(sampleMeetings()...), losses: 2}

	res, err := Update(context.Background(), s, func(ms []domain.Meeting) ([]domain.Meeting, error) {
		return RemoveByID(ms, "m1"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Conflicts)
	require.Len(t, res.Meetings, 1)
	assert.Equal(t, "broken", res.Meetings[0].ID)
}

func TestUpdateGivesUp(t *testing.T) {
	t.Parallel()
	s := &flakyStore{MemoryStore: NewMemoryStore(), losses: maxUpdateAttempts}

	_, err := Update(context.Background(), s, func(ms []domain.Meeting) ([]domain.Meeting, error) {
		return ms, nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestUpdatePropagatesSaveFailure(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(sampleMeetings()...)
	s.FailSave = ErrUnavailable

	_, err := Update(context.Background(), s, func(ms []domain.Meeting) ([]domain.Meeting, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, ErrUnavailable)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Meetings, 2)
}

func TestRemoveByIDDoesNotAlias(t *testing.T) {
	t.Parallel()
	in := sampleMeetings()
	out := RemoveByID(in, "missing")
	require.Len(t, out, 2)
	out[0].Title = "changed"
	assert.Equal(t, "Standup", in[0].Title)
}

func TestSessionRepositories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sq, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	repos := map[string]SessionRepository{
		"memory": NewMemorySessions(),
		"sqlite": sq,
	}
	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			got, err := repo.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Nil(t, got)

			now := time.Now()
			require.NoError(t, repo.UpsertSession(ctx, &SessionRecord{
				SessionID: "s1", StateJSON: []byte(`{"a":1}`), CreatedAt: now, UpdatedAt: now,
			}))
			require.NoError(t, repo.UpsertSession(ctx, &SessionRecord{
				SessionID: "old", StateJSON: []byte(`{}`),
				CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour),
			}))

			got, err = repo.GetSession(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.JSONEq(t, `{"a":1}`, string(got.StateJSON))

			removed, err := repo.CleanupExpiredSessions(ctx, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, []string{"old"}, removed)

			require.NoError(t, repo.DeleteSession(ctx, "s1"))
			got, err = repo.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestIsLockContention(t *testing.T) {
	t.Parallel()

	assert.False(t, isLockContention(nil))
	assert.True(t, isLockContention(errors.New("exec: database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isLockContention(fmt.Errorf("save: %w", errors.New("database is locked"))))
	assert.False(t, isLockContention(errors.New("no such table: meetings")))
}
