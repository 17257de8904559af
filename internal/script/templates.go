package script

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultStyle is used when a request names no style or an unknown one.
const DefaultStyle = "educational"

// minSectionSeconds is the floor applied when scaling section durations.
const minSectionSeconds = 2.0

// Section is one slot in a template's layout.
type Section struct {
	Type    string  `yaml:"type"`
	Seconds float64 `yaml:"seconds"`
	Purpose string  `yaml:"purpose"`
}

// Template describes the structure and voice of one script style.
type Template struct {
	Sections   []Section `yaml:"sections"`
	Tone       string    `yaml:"tone"`
	Vocabulary string    `yaml:"vocabulary"`
}

// NominalSeconds sums the unscaled section durations.
func (t Template) NominalSeconds() float64 {
	var total float64
	for _, s := range t.Sections {
		total += s.Seconds
	}
	return total
}

// Templates maps style names to templates.
type Templates map[string]Template

// BuiltinTemplates returns a fresh copy of the built-in styles.
func BuiltinTemplates() Templates {
	return Templates{
		"educational": {
			Sections: []Section{
				{Type: "hook", Seconds: 3, Purpose: "grab the viewer's attention"},
				{Type: "intro", Seconds: 5, Purpose: "introduce the topic"},
				{Type: "main_content", Seconds: 20, Purpose: "explain the core steps"},
				{Type: "example", Seconds: 7, Purpose: "walk through a practical example"},
				{Type: "recap", Seconds: 3, Purpose: "summarize the key points"},
				{Type: "call_to_action", Seconds: 2, Purpose: "close with a call to action"},
			},
			Tone:       "professional but approachable",
			Vocabulary: "technical terms, always explained",
		},
		"casual": {
			Sections: []Section{
				{Type: "hook", Seconds: 4, Purpose: "casual greeting"},
				{Type: "intro", Seconds: 6, Purpose: "say what we are going to look at"},
				{Type: "main_content", Seconds: 18, Purpose: "go through it step by step"},
				{Type: "tips", Seconds: 5, Purpose: "share extra tips"},
				{Type: "outro", Seconds: 7, Purpose: "sign off with a call to action"},
			},
			Tone:       "conversational and friendly",
			Vocabulary: "everyday and simple",
		},
		"professional": {
			Sections: []Section{
				{Type: "intro", Seconds: 3, Purpose: "direct introduction"},
				{Type: "overview", Seconds: 4, Purpose: "high-level overview"},
				{Type: "main_content", Seconds: 22, Purpose: "technical walkthrough"},
				{Type: "best_practices", Seconds: 6, Purpose: "best practices"},
				{Type: "conclusion", Seconds: 5, Purpose: "conclusions"},
			},
			Tone:       "formal and authoritative",
			Vocabulary: "specialized technical",
		},
	}
}

// LoadTemplates returns the built-in templates merged with any styles defined
// in the YAML file at path. A missing file is not an error.
func LoadTemplates(path string) (Templates, error) {
	templates := BuiltinTemplates()
	path = strings.TrimSpace(path)
	if path == "" {
		return templates, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return templates, nil
		}
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var overrides Templates
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	for name, tmpl := range overrides {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if err := tmpl.validate(); err != nil {
			return nil, fmt.Errorf("template %q: %w", name, err)
		}
		templates[name] = tmpl
	}
	return templates, nil
}

func (t Template) validate() error {
	if len(t.Sections) == 0 {
		return errors.New("at least one section is required")
	}
	for i, s := range t.Sections {
		if strings.TrimSpace(s.Type) == "" {
			return fmt.Errorf("section %d: type is required", i)
		}
		if s.Seconds <= 0 {
			return fmt.Errorf("section %d (%s): seconds must be positive", i, s.Type)
		}
	}
	return nil
}

// Lookup resolves a style, falling back to DefaultStyle. The resolved style
// name is returned alongside the template.
func (ts Templates) Lookup(style string) (string, Template) {
	style = strings.ToLower(strings.TrimSpace(style))
	if tmpl, ok := ts[style]; ok {
		return style, tmpl
	}
	if tmpl, ok := ts[DefaultStyle]; ok {
		return DefaultStyle, tmpl
	}
	return DefaultStyle, BuiltinTemplates()[DefaultStyle]
}

// Names lists the available styles in sorted order.
func (ts Templates) Names() []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Digest is a short content hash of the templates, used in artifact keys.
func (ts Templates) Digest() string {
	data, err := yaml.Marshal(map[string]Template(ts))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}

// ScaleSections stretches or shrinks the template layout to target seconds.
// Each section keeps at least two seconds and whole-second durations.
func ScaleSections(sections []Section, target float64) []Section {
	var nominal float64
	for _, s := range sections {
		nominal += s.Seconds
	}
	out := make([]Section, len(sections))
	copy(out, sections)
	if nominal <= 0 || target <= 0 {
		return out
	}
	ratio := target / nominal
	for i := range out {
		out[i].Seconds = math.Max(minSectionSeconds, math.Floor(out[i].Seconds*ratio))
	}
	return out
}
