package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/justchokingaround/cuepoint/internal/ads"
	"github.com/justchokingaround/cuepoint/internal/player"
	"github.com/justchokingaround/cuepoint/internal/quality"
)

// ErrEmptyStep is returned for a step that does nothing
var ErrEmptyStep = errors.New("step has no action")

// NativeStep injects a native ad module event
type NativeStep struct {
	Type       string `yaml:"type"`
	AdPosition string `yaml:"ad_position,omitempty"`
	Message    string `yaml:"message,omitempty"`
}

// Step is one scripted action. When several fields are set the first one in
// declaration order wins.
type Step struct {
	Event    *player.Event `yaml:"event,omitempty"`
	Native   *NativeStep   `yaml:"native,omitempty"`
	Quality  string        `yaml:"quality,omitempty"`
	Rate     float64       `yaml:"rate,omitempty"`
	Fallback string        `yaml:"fallback,omitempty"`
}

// Kind names the action a step performs
func (s Step) Kind() string {
	switch {
	case s.Event != nil:
		return "event"
	case s.Native != nil:
		return "native"
	case s.Quality != "":
		return "quality"
	case s.Rate > 0:
		return "rate"
	case s.Fallback != "":
		return "fallback"
	default:
		return ""
	}
}

// Script describes a playback session to replay against the orchestrator
type Script struct {
	Title  string          `yaml:"title,omitempty"`
	Main   player.Source   `yaml:"main,omitempty"`
	Tracks []quality.Track `yaml:"tracks,omitempty"`
	Breaks []ads.Break     `yaml:"breaks,omitempty"`
	Steps  []Step          `yaml:"steps"`
}

// Parse decodes and validates a script
func Parse(data []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a script file
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Parse(data)
}

// Validate checks that every step names exactly one known action
func (s *Script) Validate() error {
	for i, step := range s.Steps {
		if step.Kind() == "" {
			return fmt.Errorf("step %d: %w", i, ErrEmptyStep)
		}
		if step.Event != nil && !step.Event.Type.Valid() {
			return fmt.Errorf("step %d: unknown event type %q", i, step.Event.Type)
		}
	}
	return nil
}
