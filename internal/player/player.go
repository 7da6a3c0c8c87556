package player

import (
	"context"
	"time"

	"github.com/justchokingaround/cuepoint/internal/feed"
)

// Surface is a playback surface: something that can load a source and
// report what happens to it as a stream of raw events
type Surface interface {
	// Source control
	Load(ctx context.Context, src Source, options LoadOptions) error
	Seek(ctx context.Context, position float64) error
	SetRate(ctx context.Context, rate float64) error
	SetPaused(ctx context.Context, paused bool) error

	// Raw event stream
	Events() *feed.Feed[Event]

	// Teardown
	Close(ctx context.Context) error
}

// Source is what a surface loads
type Source struct {
	URI   string `json:"uri" yaml:"uri" mapstructure:"uri"`
	Title string `json:"title,omitempty" yaml:"title,omitempty" mapstructure:"title"`

	// Headers for HTTP requests
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
	Referer   string            `json:"referer,omitempty" yaml:"referer,omitempty" mapstructure:"referer"`
	UserAgent string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty" mapstructure:"user_agent"`
}

// IsZero reports whether no source is set
func (s Source) IsZero() bool {
	return s.URI == ""
}

// LoadOptions contains the inputs the orchestrator computes for a load
type LoadOptions struct {
	AutoPlay bool    `json:"auto_play"`
	Rate     float64 `json:"rate,omitempty"`   // Playback speed (1.0 = normal)
	Volume   int     `json:"volume,omitempty"` // 0-100

	// Passed through to the surface unmodified
	Skip SkipPolicy `json:"skip,omitempty"`

	Fullscreen bool     `json:"fullscreen"`
	MPVArgs    []string `json:"mpv_args,omitempty"`
}

// SkipPolicy controls the skip button a surface shows during ads
type SkipPolicy struct {
	Enabled      bool    `json:"enabled"`
	AfterSeconds float64 `json:"after_seconds,omitempty"`
}

// EventType identifies a raw playback event
type EventType string

const (
	EventReady       EventType = "ready"
	EventPlay        EventType = "play"
	EventPause       EventType = "pause"
	EventSeek        EventType = "seek"
	EventBufferStart EventType = "buffer_start"
	EventBufferEnd   EventType = "buffer_end"
	EventTimeUpdate  EventType = "time_update"
	EventEnded       EventType = "ended"
	EventError       EventType = "error"
)

// String returns the string representation of EventType
func (t EventType) String() string {
	return string(t)
}

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventReady, EventPlay, EventPause, EventSeek, EventBufferStart,
		EventBufferEnd, EventTimeUpdate, EventEnded, EventError:
		return true
	}
	return false
}

// Event is a raw playback event. Position and Duration are seconds.
type Event struct {
	Type      EventType `json:"type" yaml:"type"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp,omitempty"`
	Position  float64   `json:"position" yaml:"position"`
	Duration  float64   `json:"duration,omitempty" yaml:"duration,omitempty"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// PlaybackState represents the state of a surface
type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
	StateStopped PlaybackState = "stopped"
	StateLoading PlaybackState = "loading"
	StateError   PlaybackState = "error"
)

// String returns the string representation of PlaybackState
func (s PlaybackState) String() string {
	return string(s)
}
