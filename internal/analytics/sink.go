package analytics

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// Sink receives analytics events
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

// Emit calls f(ev)
func (f SinkFunc) Emit(ev Event) {
	f(ev)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// Tee fans events out to every non-nil sink in order
func Tee(sinks ...Sink) Sink {
	var out []Sink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return SinkFunc(func(ev Event) {
		for _, s := range out {
			s.Emit(ev)
		}
	})
}

// JSONLinesSink writes one JSON object per event
type JSONLinesSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger *slog.Logger
}

// NewJSONLinesSink creates a sink writing to w. Encoding failures are logged
// and never returned to the emitter.
func NewJSONLinesSink(w io.Writer, logger *slog.Logger) *JSONLinesSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONLinesSink{
		enc:    json.NewEncoder(w),
		logger: logger,
	}
}

// Emit encodes ev
func (s *JSONLinesSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		s.logger.Warn("failed to write analytics event", "type", ev.Type, "error", err)
	}
}

// Recorder keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends ev
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// Count returns how many events of typ were recorded
func (r *Recorder) Count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// Reset drops all recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
