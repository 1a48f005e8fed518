// Package nlp implements the language collaborators used by the intent gate
// and the detail completer: an OpenAI-compatible chat client, a gRPC client
// to a remote language service, and a placeholder for when neither is
// configured.
package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/calgenie/internal/details"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/intent"
)

var (
	// ErrUnavailable means the collaborator could not be reached or refused
	// the call.
	ErrUnavailable = errors.New("language service unavailable")

	// ErrMalformedResponse means the collaborator answered with output that
	// could not be decoded.
	ErrMalformedResponse = errors.New("malformed language service response")
)

const tracerName = "github.com/ashureev/calgenie/internal/nlp"

// Client is a collaborator serving both capabilities.
type Client interface {
	intent.Extractor
	details.Synthesizer
}

var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*GRPCClient)(nil)
	_ Client = Unavailable{}
)

// Unavailable is used when no provider is configured. Every call fails, so
// the gate answers NotScheduling and the completer asks for details.
type Unavailable struct{}

// ExtractIntent always fails.
func (Unavailable) ExtractIntent(context.Context, string, time.Time) (intent.Extraction, error) {
	return intent.Extraction{}, fmt.Errorf("%w: no provider configured", ErrUnavailable)
}

// SynthesizeMeeting always fails.
func (Unavailable) SynthesizeMeeting(context.Context, details.Request) (domain.Meeting, error) {
	return domain.Meeting{}, fmt.Errorf("%w: no provider configured", ErrUnavailable)
}

// decodeJSONReply extracts the first JSON object from a model reply, which
// may be wrapped in prose or a markdown code fence.
func decodeJSONReply(reply string, v any) error {
	s := strings.TrimSpace(reply)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func startSpan(ctx context.Context, op, provider string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "nlp."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("nlp.provider", provider),
			attribute.String("nlp.operation", op),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func synthesizeData(req details.Request) (synthesizePromptData, error) {
	hints, err := json.MarshalIndent(req.Hints, "", "  ")
	if err != nil {
		return synthesizePromptData{}, fmt.Errorf("encode hints: %w", err)
	}
	d := synthesizePromptData{
		Query:          req.Query,
		Start:          req.Slot.WireStart(),
		End:            req.Slot.WireEnd(),
		Hints:          string(hints),
		RequesterName:  req.Requester.Name,
		RequesterEmail: req.Requester.Email,
	}
	if req.Template != nil {
		tmpl, err := json.MarshalIndent(req.Template, "", "  ")
		if err != nil {
			return synthesizePromptData{}, fmt.Errorf("encode template meeting: %w", err)
		}
		d.Template = string(tmpl)
	}
	return d, nil
}
