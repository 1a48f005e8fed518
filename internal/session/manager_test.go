package session

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/negotiation"
	"github.com/ashureev/calgenie/internal/store"
)

var defaultRequester = domain.Participant{Name: "You", Email: "you@example.com"}

func pendingTurn(sess *negotiation.Session) negotiation.Response {
	sess.Confirmation = &domain.PendingConfirmation{Draft: domain.Meeting{ID: "draft-1"}}
	return negotiation.Response{Action: negotiation.ActionSchedulePending}
}

func TestManagerPersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "s.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	m := NewManager(repo, time.Hour, defaultRequester, nil)
	resp, err := m.Do(ctx, "s1", domain.Participant{}, pendingTurn)
	require.NoError(t, err)
	assert.Equal(t, negotiation.ActionSchedulePending, resp.Action)

	// A fresh manager over the same repository sees the pending draft.
	restarted := NewManager(repo, time.Hour, defaultRequester, nil)
	_, err = restarted.Do(ctx, "s1", domain.Participant{}, func(sess *negotiation.Session) negotiation.Response {
		require.NotNil(t, sess.Confirmation)
		assert.Equal(t, "draft-1", sess.Confirmation.Draft.ID)
		assert.Equal(t, "you@example.com", sess.Requester.Email)
		return negotiation.Response{}
	})
	require.NoError(t, err)
}

func TestManagerUsesCallerRequester(t *testing.T) {
	t.Parallel()
	m := NewManager(store.NewMemorySessions(), 0, defaultRequester, nil)

	alice := domain.Participant{Name: "Alice", Email: "alice@example.com"}
	_, err := m.Do(context.Background(), "s1", alice, func(sess *negotiation.Session) negotiation.Response {
		assert.Equal(t, alice, sess.Requester)
		return negotiation.Response{}
	})
	require.NoError(t, err)
}

func TestManagerSerializesTurns(t *testing.T) {
	t.Parallel()
	m := NewManager(store.NewMemorySessions(), time.Hour, defaultRequester, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Do(context.Background(), "shared", domain.Participant{}, func(sess *negotiation.Session) negotiation.Response {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return negotiation.Response{}
			})
		}()
	}
	wg.Wait()
	assert.False(t, overlap, "two turns of one session ran concurrently")
	assert.Equal(t, 1, m.Active())
}

func TestManagerViewIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(store.NewMemorySessions(), time.Hour, defaultRequester, nil)

	missing, err := m.View(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = m.Do(ctx, "s1", domain.Participant{}, pendingTurn)
	require.NoError(t, err)

	view, err := m.View(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, view)
	view.Confirmation = nil

	again, err := m.View(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, again.Confirmation)
}

func TestManagerDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := store.NewMemorySessions()
	m := NewManager(repo, time.Hour, defaultRequester, nil)

	_, err := m.Do(ctx, "s1", domain.Participant{}, pendingTurn)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "s1"))

	assert.Zero(t, m.Active())
	rec, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := store.NewMemorySessions()
	m := NewManager(repo, time.Minute, defaultRequester, nil)

	for _, id := range []string{"idle", "busy"} {
		_, err := m.Do(ctx, id, domain.Participant{}, pendingTurn)
		require.NoError(t, err)
	}
	require.NoError(t, repo.UpsertSession(ctx, &store.SessionRecord{
		SessionID: "orphan", StateJSON: []byte(`{}`), UpdatedAt: time.Now().Add(-time.Hour),
	}))

	m.mu.Lock()
	m.entries["idle"].lastUsed = time.Now().Add(-2 * time.Minute)
	m.mu.Unlock()

	var callbacks []string
	ids := m.Sweep(ctx, func(id string) { callbacks = append(callbacks, id) })
	sort.Strings(ids)
	assert.Equal(t, []string{"idle", "orphan"}, ids)
	assert.ElementsMatch(t, ids, callbacks)
	assert.Equal(t, 1, m.Active())
}

func TestManagerDoSkipsRemovedEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(store.NewMemorySessions(), time.Minute, defaultRequester, nil)

	_, err := m.Do(ctx, "s", domain.Participant{}, pendingTurn)
	require.NoError(t, err)

	m.mu.Lock()
	stale := m.entries["s"]
	m.mu.Unlock()

	// Hold the entry so the next turn waits on it, then remove it.
	stale.mu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Do(ctx, "s", domain.Participant{}, func(sess *negotiation.Session) negotiation.Response {
			sess.Confirmation = &domain.PendingConfirmation{Draft: domain.Meeting{ID: "draft-2"}}
			return negotiation.Response{Action: negotiation.ActionSchedulePending}
		})
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Delete(ctx, "s"))
	stale.mu.Unlock()
	<-done

	assert.Equal(t, "draft-1", stale.sess.Confirmation.Draft.ID, "turn ran on a removed entry")
	require.Equal(t, 1, m.Active())
	sess, err := m.View(ctx, "s")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "draft-2", sess.Confirmation.Draft.ID)
}

func TestEntryRefreshesLastUsed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(store.NewMemorySessions(), time.Minute, defaultRequester, nil)

	_, err := m.Do(ctx, "s", domain.Participant{}, pendingTurn)
	require.NoError(t, err)
	m.mu.Lock()
	m.entries["s"].lastUsed = time.Now().Add(-2 * time.Minute)
	m.mu.Unlock()

	e := m.entry("s")
	assert.Empty(t, m.Sweep(ctx, nil))
	m.mu.Lock()
	assert.Same(t, e, m.entries["s"])
	m.mu.Unlock()
}
