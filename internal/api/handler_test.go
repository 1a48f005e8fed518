//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/calgenie/internal/chat"
	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/identity"
	"github.com/ashureev/calgenie/internal/intent"
	"github.com/ashureev/calgenie/internal/negotiation"
	"github.com/ashureev/calgenie/internal/session"
	"github.com/ashureev/calgenie/internal/store"
)

const (
	testAnonID = "anon_0123456789abcdef0123456789abcdef"
	bookQuery  = "book planning tomorrow at 3pm"
	clashQuery = "book planning at 10am"
)

var testNow = time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)

type stubExtractor struct{}

func (stubExtractor) ExtractIntent(_ context.Context, query string, _ time.Time) (intent.Extraction, error) {
	switch query {
	case bookQuery:
		return intent.Extraction{
			IsScheduling: true,
			TimeSlot:     &intent.RawSlot{Start: "2025-11-11T15:00:00Z", End: "2025-11-11T16:00:00Z"},
		}, nil
	case clashQuery:
		return intent.Extraction{
			IsScheduling: true,
			TimeSlot:     &intent.RawSlot{Start: "2025-11-11T10:00:00Z", End: "2025-11-11T10:30:00Z"},
		}, nil
	}
	return intent.Extraction{}, nil
}

type stubSynth struct{}

func (stubSynth) SynthesizeMeeting(context.Context, details.Request) (domain.Meeting, error) {
	return domain.Meeting{ID: "planning-1", Title: "Planning", Description: "Plan the quarter", Location: "Online"}, nil
}

func standup() domain.Meeting {
	return domain.Meeting{
		ID:          "standup",
		Title:       "Standup",
		Description: "Daily standup",
		Location:    "Room 2",
		StartTime:   "2025-11-11T10:00:00Z",
		EndTime:     "2025-11-11T10:15:00Z",
		Participants: []domain.Participant{
			{Name: "Bob", Email: "bob@example.com", IsOrganizer: true},
			{Name: "Alice", Email: "alice@example.com"},
		},
	}
}

type testServer struct {
	router http.Handler
	store  *store.MemoryStore
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	st := store.NewMemoryStore(standup())
	engine := negotiation.NewEngine(negotiation.Config{
		Store:     st,
		Gate:      intent.NewGate(stubExtractor{}, time.Second, nil),
		Completer: details.NewCompleter(stubSynth{}, time.Second, nil),
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
	})
	mgr := session.NewManager(store.NewMemorySessions(), time.Hour,
		domain.Participant{Name: "Alice", Email: "alice@example.com"}, nil)
	h := NewHandler(chat.NewService(engine, mgr, nil), st, limiter)
	h.now = func() time.Time { return testNow }

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return &testServer{router: r, store: st}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testAnonID})
	req.Header.Set(identity.SessionHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) negotiation.Response {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp negotiation.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestScheduleAndConfirm(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	resp := decodeResponse(t, s.do(t, http.MethodPost, "/api/schedule", `{"query":"`+bookQuery+`"}`))
	assert.Equal(t, negotiation.ActionSchedulePending, resp.Action)
	require.NotNil(t, resp.Details)
	assert.Equal(t, "Planning", resp.Details.Title)

	rec := s.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "tab-1", view.SessionID)
	assert.Equal(t, negotiation.StateSchedulePending, view.State)
	require.NotNil(t, view.Confirmation)
	assert.NotEmpty(t, view.TraceEntries)
	assert.Contains(t, view.Trace, "Negotiation trace:")

	resp = decodeResponse(t, s.do(t, http.MethodPost, "/api/schedule/confirm", `{"reply":"yes"}`))
	assert.Equal(t, negotiation.ActionScheduled, resp.Action)

	rec = s.do(t, http.MethodGet, "/api/meetings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Meetings []domain.Meeting `json:"meetings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Meetings, 2)
	assert.Equal(t, "planning-1", listing.Meetings[1].ID)
}

func TestChatRoutesReplacementOffer(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	resp := decodeResponse(t, s.do(t, http.MethodPost, "/api/chat", `{"text":"`+clashQuery+`"}`))
	assert.Equal(t, negotiation.ActionConflict, resp.Action)
	assert.False(t, resp.Blocked)
	require.Len(t, resp.Conflicts, 1)

	resp = decodeResponse(t, s.do(t, http.MethodPost, "/api/chat", `{"text":"replace"}`))
	assert.Equal(t, negotiation.ActionSchedulePending, resp.Action)
	assert.Equal(t, "standup", resp.ReplaceID)

	resp = decodeResponse(t, s.do(t, http.MethodPost, "/api/chat", `{"text":"yes"}`))
	assert.Equal(t, negotiation.ActionScheduled, resp.Action)

	snap, err := s.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Meetings, 1)
	assert.Equal(t, "planning-1", snap.Meetings[0].ID)
}

func TestCancelSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	decodeResponse(t, s.do(t, http.MethodPost, "/api/schedule", `{"query":"`+bookQuery+`"}`))
	resp := decodeResponse(t, s.do(t, http.MethodDelete, "/api/session", ""))
	assert.Equal(t, negotiation.ActionCancelled, resp.Action)
	assert.Equal(t, "Meeting scheduling cancelled.", resp.Message)

	rec := s.do(t, http.MethodGet, "/api/session", "")
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, negotiation.StateIdle, view.State)
}

func TestSessionWithoutHistory(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, negotiation.StateIdle, view.State)
	assert.Equal(t, "No trace available", view.Trace)
	assert.Empty(t, view.History)
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "malformed json", path: "/api/schedule", body: `{"query":`},
		{name: "empty query", path: "/api/schedule", body: `{"query":"  "}`},
		{name: "unknown field", path: "/api/chat", body: `{"message":"hi"}`},
		{name: "empty text", path: "/api/chat", body: `{"text":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, NewRateLimiter(2, time.Minute))

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/chat", `{"text":"hello"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/chat", `{"text":"hello"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/meetings", "").Code)
}

func TestRateLimiterEviction(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, time.Minute)
	now := time.Now()

	assert.True(t, rl.reserve("a", now))
	assert.False(t, rl.reserve("a", now))
	assert.True(t, rl.reserve("b", now))

	rl.evict(now.Add(2 * time.Minute))
	assert.Equal(t, 0, rl.size())
}

func TestMeetingsICS(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/meetings.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "UID:standup")
}

type unavailableStore struct{ store.EventStore }

func (unavailableStore) Load(context.Context) (store.Snapshot, error) {
	return store.Snapshot{}, store.ErrUnavailable
}

func TestMeetingsUnavailable(t *testing.T) {
	t.Parallel()

	h := NewHandler(nil, unavailableStore{}, nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/meetings", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
