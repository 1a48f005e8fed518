package negotiation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase is a step of the scheduling pipeline.
type Phase string

// Trace phases.
const (
	PhaseAnalyze        Phase = "analyze"
	PhaseCheckConflicts Phase = "check_conflicts"
	PhaseGatherDetails  Phase = "gather_details"
	PhaseFollowup       Phase = "followup"
	PhaseCommit         Phase = "commit"
)

// TraceEntry is one recorded phase transition.
type TraceEntry struct {
	Phase Phase          `json:"phase"`
	Data  map[string]any `json:"data,omitempty"`
	At    time.Time      `json:"at"`
}

// Trace is the ordered phase log of the current top-level request.
type Trace struct {
	entries []TraceEntry
}

// Reset drops all entries.
func (t *Trace) Reset() {
	t.entries = nil
}

// Record appends an entry.
func (t *Trace) Record(phase Phase, data map[string]any) {
	t.entries = append(t.entries, TraceEntry{Phase: phase, Data: data, At: time.Now()})
}

// Entries returns a copy of the log.
func (t *Trace) Entries() []TraceEntry {
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Trace) Len() int {
	return len(t.entries)
}

// String renders the log for debugging output.
func (t *Trace) String() string {
	if len(t.entries) == 0 {
		return "No trace available"
	}
	var b strings.Builder
	b.WriteString("Negotiation trace:")
	for _, e := range t.entries {
		fmt.Fprintf(&b, "\n  %s:", e.Phase)
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}
	return b.String()
}

// MarshalJSON exposes the entries.
func (t Trace) MarshalJSON() ([]byte, error) {
	if t.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.entries)
}

// UnmarshalJSON restores persisted entries.
func (t *Trace) UnmarshalJSON(data []byte) error {
	var entries []TraceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	t.entries = entries
	return nil
}
