package nlp

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/intent"
)

// Defaults for the OpenAI-compatible provider.
const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "anthropic/claude-3.5-sonnet"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompts *Prompts
}

// OpenAIClient asks a chat model to extract intent and synthesize meetings.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	prompts *Prompts
}

// NewOpenAIClient builds a client. Missing base URL and model fall back to
// the OpenRouter defaults.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai provider requires an API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Prompts == nil {
		p, err := DefaultPrompts()
		if err != nil {
			return nil, err
		}
		cfg.Prompts = p
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.BaseURL
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		prompts: cfg.Prompts,
	}, nil
}

// ExtractIntent implements intent.Extractor.
func (c *OpenAIClient) ExtractIntent(ctx context.Context, query string, now time.Time) (ex intent.Extraction, err error) {
	ctx, span := startSpan(ctx, "extract_intent", "openai")
	defer func() { endSpan(span, err) }()

	prompt, err := c.prompts.renderIntent(intentPromptData{
		Query: query,
		Now:   now.Format("January 2, 2006 03:04 PM MST (-07:00)"),
	})
	if err != nil {
		return intent.Extraction{}, err
	}
	reply, err := c.complete(ctx, prompt, 0.2)
	if err != nil {
		return intent.Extraction{}, err
	}
	if err := decodeJSONReply(reply, &ex); err != nil {
		return intent.Extraction{}, err
	}
	return ex, nil
}

// SynthesizeMeeting implements details.Synthesizer.
func (c *OpenAIClient) SynthesizeMeeting(ctx context.Context, req details.Request) (m domain.Meeting, err error) {
	ctx, span := startSpan(ctx, "synthesize_meeting", "openai")
	defer func() { endSpan(span, err) }()

	data, err := synthesizeData(req)
	if err != nil {
		return domain.Meeting{}, err
	}
	prompt, err := c.prompts.renderSynthesize(data)
	if err != nil {
		return domain.Meeting{}, err
	}
	reply, err := c.complete(ctx, prompt, 0.3)
	if err != nil {
		return domain.Meeting{}, err
	}
	if err := decodeJSONReply(reply, &m); err != nil {
		return domain.Meeting{}, err
	}
	return m, nil
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}
	return resp.Choices[0].Message.Content, nil
}
