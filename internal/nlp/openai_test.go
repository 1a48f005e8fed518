package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
)

// chatServer answers every chat completion with reply and records prompts.
func chatServer(t *testing.T, status int, reply string) (*httptest.Server, *[]string) {
	t.Helper()
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && len(body.Messages) > 0 {
			prompts = append(prompts, body.Messages[0].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  body.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &prompts
}

func newTestOpenAI(t *testing.T, srv *httptest.Server) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "test-model"})
	require.NoError(t, err)
	return c
}

func TestOpenAIExtractIntent(t *testing.T) {
	t.Parallel()

	reply := "```json\n" + `{
	  "is_scheduling": true,
	  "time_slot": {"start_time": "2025-11-19T08:00:00Z", "end_time": "2025-11-19T09:00:00Z"},
	  "mentioned_details": {"title": "Design review"},
	  "reasoning": "asked to book"
	}` + "\n```"
	srv, prompts := chatServer(t, http.StatusOK, reply)
	c := newTestOpenAI(t, srv)

	ex, err := c.ExtractIntent(context.Background(), "book a design review", time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ex.IsScheduling)
	require.NotNil(t, ex.TimeSlot)
	assert.Equal(t, "2025-11-19T08:00:00Z", ex.TimeSlot.Start)
	assert.Equal(t, "Design review", ex.Hints.Title)

	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], `User Query: "book a design review"`)
	assert.Contains(t, (*prompts)[0], "November 10, 2025")
}

func TestOpenAISynthesizeMeeting(t *testing.T) {
	t.Parallel()

	srv, prompts := chatServer(t, http.StatusOK, `{"meeting_id":"meeting_review_1","title":"Design review",
		"description":"Review","location":"Room 4","start_time":"2025-11-19T08:00:00Z","end_time":"2025-11-19T09:00:00Z",
		"participants":[{"name":"You","email":"you@example.com","is_organizer":true}]}`)
	c := newTestOpenAI(t, srv)

	start := time.Date(2025, 11, 19, 8, 0, 0, 0, time.UTC)
	tmpl := domain.Meeting{ID: "template-1", Title: "Weekly sync"}
	m, err := c.SynthesizeMeeting(context.Background(), details.Request{
		Query:     "book a design review",
		Slot:      domain.TimeSlot{Start: start, End: start.Add(time.Hour)},
		Template:  &tmpl,
		Requester: domain.Participant{Name: "You", Email: "you@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "meeting_review_1", m.ID)
	require.Len(t, m.Participants, 1)
	assert.True(t, m.Participants[0].IsOrganizer)

	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "template-1")
	assert.Contains(t, (*prompts)[0], "2025-11-19T08:00:00Z to 2025-11-19T09:00:00Z")
}

func TestOpenAIFailures(t *testing.T) {
	t.Parallel()

	srv, _ := chatServer(t, http.StatusBadGateway, "")
	_, err := newTestOpenAI(t, srv).ExtractIntent(context.Background(), "q", time.Now())
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)

	srv, _ = chatServer(t, http.StatusOK, "I cannot help with that.")
	_, err = newTestOpenAI(t, srv).ExtractIntent(context.Background(), "q", time.Now())
	assert.True(t, errors.Is(err, ErrMalformedResponse), "got %v", err)
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	t.Parallel()
	_, err := Unavailable{}.ExtractIntent(context.Background(), "q", time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = Unavailable{}.SynthesizeMeeting(context.Background(), details.Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
