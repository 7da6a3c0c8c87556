// Package quality tracks the selectable renditions of the main content.
package quality

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/justchokingaround/cuepoint/internal/player"
)

// ErrUnknownQuality is returned when a track id or label matches nothing
var ErrUnknownQuality = errors.New("unknown quality")

// Track is one selectable rendition
type Track struct {
	ID        string `json:"id" yaml:"id" mapstructure:"id"`
	URI       string `json:"uri" yaml:"uri" mapstructure:"uri"`
	Label     string `json:"label" yaml:"label" mapstructure:"label"`
	IsDefault bool   `json:"is_default,omitempty" yaml:"is_default,omitempty" mapstructure:"is_default"`
}

// Selection is the current track id plus the id -> track table
type Selection struct {
	current string
	order   []string
	tracks  map[string]Track
}

// NewSelection builds a selection from tracks. Tracks without id or uri are
// skipped; the first track flagged IsDefault is selected, else the first track.
func NewSelection(tracks []Track) *Selection {
	s := &Selection{tracks: make(map[string]Track)}
	for _, t := range tracks {
		if t.ID == "" || t.URI == "" {
			continue
		}
		if _, dup := s.tracks[t.ID]; dup {
			continue
		}
		s.tracks[t.ID] = t
		s.order = append(s.order, t.ID)
		if t.IsDefault && s.current == "" {
			s.current = t.ID
		}
	}
	if s.current == "" && len(s.order) > 0 {
		s.current = s.order[0]
	}
	return s
}

// Len returns the number of tracks
func (s *Selection) Len() int {
	return len(s.order)
}

// Current returns the selected track
func (s *Selection) Current() (Track, bool) {
	t, ok := s.tracks[s.current]
	return t, ok
}

// Tracks returns the tracks in configuration order
func (s *Selection) Tracks() []Track {
	out := make([]Track, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tracks[id])
	}
	return out
}

// Get returns the track with the given id
func (s *Selection) Get(id string) (Track, bool) {
	t, ok := s.tracks[id]
	return t, ok
}

// Select makes id the current track
func (s *Selection) Select(id string) (Track, error) {
	t, ok := s.tracks[id]
	if !ok {
		return Track{}, fmt.Errorf("%w: %s", ErrUnknownQuality, id)
	}
	s.current = id
	return t, nil
}

// Resolve finds a track by exact id, then case-insensitive label, then the
// best fuzzy match over labels ("1080" finds "1080p HD")
func (s *Selection) Resolve(query string) (Track, error) {
	if t, ok := s.tracks[query]; ok {
		return t, nil
	}

	labels := make([]string, 0, len(s.order))
	for _, id := range s.order {
		t := s.tracks[id]
		if strings.EqualFold(t.Label, query) {
			return t, nil
		}
		labels = append(labels, t.Label)
	}

	matches := fuzzy.Find(query, labels)
	if len(matches) == 0 {
		return Track{}, fmt.Errorf("%w: %q", ErrUnknownQuality, query)
	}
	return s.tracks[s.order[matches[0].Index]], nil
}

// Source returns the player source for a track
func (t Track) Source(title string) player.Source {
	return player.Source{URI: t.URI, Title: title}
}
