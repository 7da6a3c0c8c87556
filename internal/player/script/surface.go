// Package script provides a playback surface driven by a YAML event script.
// It never renders anything; it records what it was asked to do and emits the
// events it is told to emit.
package script

import (
	"context"
	"errors"
	"sync"

	"github.com/justchokingaround/cuepoint/internal/feed"
	"github.com/justchokingaround/cuepoint/internal/player"
)

// ErrClosed is returned by calls on a closed surface
var ErrClosed = errors.New("surface closed")

// Op names a recorded surface call
type Op string

const (
	OpLoad   Op = "load"
	OpSeek   Op = "seek"
	OpRate   Op = "rate"
	OpPaused Op = "paused"
)

// Call is one recorded surface call
type Call struct {
	Op       Op
	Source   player.Source
	Options  player.LoadOptions
	Position float64
	Rate     float64
	Paused   bool
}

// Surface is a recording player.Surface
type Surface struct {
	mu      sync.Mutex
	events  *feed.Feed[player.Event]
	calls   []Call
	current player.Source
	state   player.PlaybackState
	closed  bool

	// OnCall, if set, is invoked after every recorded call
	OnCall func(Call)
}

// NewSurface creates an idle surface
func NewSurface() *Surface {
	return &Surface{
		events: feed.New[player.Event](),
		state:  player.StateStopped,
	}
}

// Load records the source change
func (s *Surface) Load(ctx context.Context, src player.Source, options player.LoadOptions) error {
	state := player.StatePaused
	if options.AutoPlay {
		state = player.StatePlaying
	}
	return s.record(Call{Op: OpLoad, Source: src, Options: options}, func() {
		s.current = src
		s.state = state
	})
}

// Seek records a seek request
func (s *Surface) Seek(ctx context.Context, position float64) error {
	return s.record(Call{Op: OpSeek, Position: position}, nil)
}

// SetRate records a rate change
func (s *Surface) SetRate(ctx context.Context, rate float64) error {
	return s.record(Call{Op: OpRate, Rate: rate}, nil)
}

// SetPaused records a pause toggle
func (s *Surface) SetPaused(ctx context.Context, paused bool) error {
	return s.record(Call{Op: OpPaused, Paused: paused}, func() {
		if paused {
			s.state = player.StatePaused
		} else {
			s.state = player.StatePlaying
		}
	})
}

// Events returns the raw event feed
func (s *Surface) Events() *feed.Feed[player.Event] {
	return s.events
}

// Close stops the surface and its feed
func (s *Surface) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.state = player.StateStopped
	s.events.Close()
	return nil
}

// Emit publishes ev as if the surface produced it
func (s *Surface) Emit(ev player.Event) {
	s.events.Publish(ev)
}

// Current returns the last loaded source
func (s *Surface) Current() player.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// State returns the surface state implied by the recorded calls
func (s *Surface) State() player.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Calls returns every recorded call
func (s *Surface) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Loads returns the recorded load calls
func (s *Surface) Loads() []Call {
	return s.filter(OpLoad)
}

// Seeks returns the positions of recorded seek calls
func (s *Surface) Seeks() []float64 {
	var out []float64
	for _, c := range s.filter(OpSeek) {
		out = append(out, c.Position)
	}
	return out
}

func (s *Surface) filter(op Op) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *Surface) record(c Call, apply func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.calls = append(s.calls, c)
	if apply != nil {
		apply()
	}
	onCall := s.OnCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(c)
	}
	return nil
}
