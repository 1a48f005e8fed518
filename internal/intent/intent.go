// Package intent decides whether a query asks for a meeting and, if so, which
// slot. Language understanding is delegated to an Extractor; this package
// only applies policy to its result.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/logging"
	"github.com/ashureev/calgenie/internal/metrics"
)

// RawSlot is a slot as reported by the extractor, ISO 8601 with offset.
type RawSlot struct {
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

// Extraction is the collaborator's structured reading of a query.
type Extraction struct {
	IsScheduling bool         `json:"is_scheduling"`
	TimeSlot     *RawSlot     `json:"time_slot,omitempty"`
	Hints        domain.Hints `json:"mentioned_details"`
}

// Extractor is the language understanding capability. Any error is treated
// as the capability being unavailable for this turn.
type Extractor interface {
	ExtractIntent(ctx context.Context, query string, now time.Time) (Extraction, error)
}

// Kind is the gate's verdict.
type Kind int

const (
	// NotScheduling covers non-scheduling queries and every collaborator failure.
	NotScheduling Kind = iota
	// PastTime means the requested start is before now, whatever the end.
	PastTime
	// InvalidSlot means a scheduling request came without a usable slot.
	InvalidSlot
	// Scheduling carries a valid future slot.
	Scheduling
)

func (k Kind) String() string {
	switch k {
	case NotScheduling:
		return "not_scheduling"
	case PastTime:
		return "past_time"
	case InvalidSlot:
		return "invalid_slot"
	case Scheduling:
		return "scheduling"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the classified query.
type Result struct {
	Kind Kind
	// Slot is complete for Scheduling; PastTime sets only Start.
	Slot  domain.TimeSlot
	Hints domain.Hints
	// Reason explains NotScheduling and InvalidSlot verdicts for the trace.
	Reason string
}

// DefaultTimeout bounds a single extraction call.
const DefaultTimeout = 20 * time.Second

// Gate applies scheduling policy on top of an Extractor.
type Gate struct {
	extractor Extractor
	timeout   time.Duration
	metrics   *metrics.Recorder
}

// NewGate creates a gate. A non-positive timeout uses DefaultTimeout.
func NewGate(extractor Extractor, timeout time.Duration, m *metrics.Recorder) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{extractor: extractor, timeout: timeout, metrics: m}
}

// Classify never fails: collaborator errors, timeouts and malformed output
// all degrade to NotScheduling.
func (g *Gate) Classify(ctx context.Context, query string, now time.Time) Result {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	ex, err := g.extractor.ExtractIntent(callCtx, query, now)
	g.metrics.Collaborator(metrics.CallExtractIntent, time.Since(started), err)
	if err != nil {
		slog.Warn("intent extraction failed, treating as non-scheduling",
			logging.Operation(metrics.CallExtractIntent),
			logging.Err(err))
		return Result{Kind: NotScheduling, Reason: "intent extraction unavailable"}
	}

	if !ex.IsScheduling {
		return Result{Kind: NotScheduling, Reason: "not a scheduling request"}
	}
	if ex.TimeSlot == nil {
		return Result{Kind: InvalidSlot, Hints: ex.Hints, Reason: "no time slot given"}
	}

	// Timestamps without an offset are in the caller's zone, carried by now.
	loc := now.Location()
	start, err := domain.ParseTimestampIn(ex.TimeSlot.Start, loc)
	if err != nil {
		return Result{Kind: InvalidSlot, Hints: ex.Hints,
			Reason: fmt.Errorf("%w: start: %w", domain.ErrInvalidSlot, err).Error()}
	}
	if start.Before(now) {
		return Result{Kind: PastTime, Slot: domain.TimeSlot{Start: start}, Hints: ex.Hints}
	}

	end, err := domain.ParseTimestampIn(ex.TimeSlot.End, loc)
	if err != nil {
		return Result{Kind: InvalidSlot, Hints: ex.Hints,
			Reason: fmt.Errorf("%w: end: %w", domain.ErrInvalidSlot, err).Error()}
	}
	slot, err := domain.NewTimeSlot(start, end)
	if err != nil {
		return Result{Kind: InvalidSlot, Hints: ex.Hints, Reason: err.Error()}
	}
	return Result{Kind: Scheduling, Slot: slot, Hints: ex.Hints}
}
