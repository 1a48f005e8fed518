package nlp

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// Prompts holds the collaborator prompt templates.
type Prompts struct {
	ExtractIntent     string `yaml:"extract_intent"`
	SynthesizeMeeting string `yaml:"synthesize_meeting"`

	extract    *template.Template
	synthesize *template.Template
}

type intentPromptData struct {
	Query string
	Now   string
}

type synthesizePromptData struct {
	Query          string
	Start          string
	End            string
	Hints          string
	Template       string
	RequesterName  string
	RequesterEmail string
}

// DefaultPrompts returns the embedded templates.
func DefaultPrompts() (*Prompts, error) {
	return LoadPrompts("")
}

// LoadPrompts parses the embedded templates, then overlays any non-empty
// entries from the YAML file at path.
func LoadPrompts(path string) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(defaultPromptsYAML, &p); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompts %s: %w", path, err)
		}
		var override Prompts
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse prompts %s: %w", path, err)
		}
		if override.ExtractIntent != "" {
			p.ExtractIntent = override.ExtractIntent
		}
		if override.SynthesizeMeeting != "" {
			p.SynthesizeMeeting = override.SynthesizeMeeting
		}
	}

	var err error
	if p.extract, err = template.New("extract_intent").Parse(p.ExtractIntent); err != nil {
		return nil, fmt.Errorf("parse extract_intent template: %w", err)
	}
	if p.synthesize, err = template.New("synthesize_meeting").Parse(p.SynthesizeMeeting); err != nil {
		return nil, fmt.Errorf("parse synthesize_meeting template: %w", err)
	}
	return &p, nil
}

func (p *Prompts) renderIntent(d intentPromptData) (string, error) {
	return render(p.extract, d)
}

func (p *Prompts) renderSynthesize(d synthesizePromptData) (string, error) {
	return render(p.synthesize, d)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}
