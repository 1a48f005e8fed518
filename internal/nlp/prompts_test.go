package nlp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPromptsOverlay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	override := "extract_intent: |\n  Classify {{.Query}} at {{.Now}}\n"
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}

	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("LoadPrompts: %v", err)
	}
	got, err := p.renderIntent(intentPromptData{Query: "lunch", Now: "noon"})
	if err != nil {
		t.Fatalf("renderIntent: %v", err)
	}
	if strings.TrimSpace(got) != "Classify lunch at noon" {
		t.Fatalf("unexpected intent prompt %q", got)
	}
	if !strings.Contains(p.SynthesizeMeeting, "Generate complete meeting details") {
		t.Fatal("synthesize prompt should fall back to the embedded default")
	}
}

func TestLoadPromptsRejectsBadTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("synthesize_meeting: \"{{.Broken\"\n"), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}
	if _, err := LoadPrompts(path); err == nil {
		t.Fatal("expected template parse error")
	}
}

func TestDefaultSynthesizePromptWithoutTemplate(t *testing.T) {
	t.Parallel()

	p, err := DefaultPrompts()
	if err != nil {
		t.Fatalf("DefaultPrompts: %v", err)
	}
	got, err := p.renderSynthesize(synthesizePromptData{Query: "q", Start: "a", End: "b", Hints: "{}"})
	if err != nil {
		t.Fatalf("renderSynthesize: %v", err)
	}
	if !strings.Contains(got, "No template available") {
		t.Fatalf("expected template placeholder in %q", got)
	}
}

func TestDecodeJSONReply(t *testing.T) {
	t.Parallel()

	var v struct {
		A int `json:"a"`
	}
	if err := decodeJSONReply("Sure! ```json\n{\"a\": 3}\n```", &v); err != nil || v.A != 3 {
		t.Fatalf("decodeJSONReply = %v, a=%d", err, v.A)
	}
	if err := decodeJSONReply("nothing here", &v); err == nil {
		t.Fatal("expected error for reply without JSON")
	}
}
