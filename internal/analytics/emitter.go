// Package analytics derives session, quartile and ad lifecycle events from
// the forwarded playback stream.
package analytics

import (
	"time"

	"github.com/justchokingaround/cuepoint/internal/player"
)

// Options configures an Emitter
type Options struct {
	SessionID string
	Now       func() time.Time
}

// AdInfo describes the ad an ad lifecycle event refers to
type AdInfo struct {
	AdPosition          string // preroll, midroll, postroll
	AdTagURL            string
	MainContentPosition float64
	Position            float64
	Duration            float64
}

// Emitter turns forwarded playback events into analytics events.
// It is not safe for concurrent use.
type Emitter struct {
	sink      Sink
	sessionID string
	now       func() time.Time

	quartiles         QuartileState
	sessionEndPending bool
}

// NewEmitter creates an emitter writing to sink. A nil sink discards events.
func NewEmitter(sink Sink, opts Options) *Emitter {
	if sink == nil {
		sink = Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Emitter{
		sink:      sink,
		sessionID: opts.SessionID,
		now:       opts.Now,
	}
}

// SessionID returns the configured session id
func (e *Emitter) SessionID() string {
	return e.sessionID
}

// Quartiles returns the current quartile flags
func (e *Emitter) Quartiles() QuartileState {
	return e.quartiles
}

// SessionEndPending reports whether session_end waits for a postroll
func (e *Emitter) SessionEndPending() bool {
	return e.sessionEndPending
}

// ResetQuartiles clears all quartile flags
func (e *Emitter) ResetQuartiles() {
	e.quartiles = QuartileState{}
}

// Track derives analytics from one forwarded event. postrollPending defers
// session_end on ended until the postroll completes.
func (e *Emitter) Track(ev player.Event, postrollPending bool) {
	base := Event{
		Timestamp: ev.Timestamp,
		Position:  ev.Position,
		Duration:  ev.Duration,
		SessionID: e.sessionID,
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = e.now()
	}

	switch ev.Type {
	case player.EventReady:
		e.ResetQuartiles()
		e.sessionEndPending = false
		e.emit(base, EventSessionStart)
	case player.EventPlay:
		e.emit(base, EventPlay)
	case player.EventPause:
		e.emit(base, EventPause)
	case player.EventSeek:
		e.emit(base, EventSeek)
	case player.EventBufferStart:
		e.emit(base, EventBufferStart)
	case player.EventBufferEnd:
		e.emit(base, EventBufferEnd)
	}

	if ev.Duration > 0 {
		for _, q := range e.quartiles.advance(ev.Position / ev.Duration) {
			quartile := base
			quartile.Quartile = q
			e.emit(quartile, EventQuartile)
		}
	}

	if ev.Type == player.EventEnded {
		e.emit(base, EventEnded)
		if postrollPending {
			e.sessionEndPending = true
		} else {
			e.emit(base, EventSessionEnd)
		}
	}
}

// AdStarted emits ad_start
func (e *Emitter) AdStarted(ad AdInfo) {
	e.emit(e.adEvent(ad), EventAdStart)
}

// AdCompleted emits ad_complete and, after a postroll, the deferred session_end
func (e *Emitter) AdCompleted(ad AdInfo) {
	e.emit(e.adEvent(ad), EventAdComplete)
	e.flushSessionEnd(ad)
}

// AdFailed emits ad_error and, after a postroll, the deferred session_end
func (e *Emitter) AdFailed(ad AdInfo, message string) {
	ev := e.adEvent(ad)
	ev.ErrorMessage = message
	e.emit(ev, EventAdError)
	e.flushSessionEnd(ad)
}

func (e *Emitter) flushSessionEnd(ad AdInfo) {
	if !e.sessionEndPending || ad.AdPosition != "postroll" {
		return
	}
	e.sessionEndPending = false
	e.emit(Event{
		Timestamp: e.now(),
		Position:  ad.MainContentPosition,
		SessionID: e.sessionID,
	}, EventSessionEnd)
}

func (e *Emitter) adEvent(ad AdInfo) Event {
	return Event{
		Timestamp:                    e.now(),
		Position:                     ad.Position,
		Duration:                     ad.Duration,
		AdPosition:                   ad.AdPosition,
		AdTagURL:                     ad.AdTagURL,
		MainContentPositionAtAdStart: ad.MainContentPosition,
		SessionID:                    e.sessionID,
	}
}

func (e *Emitter) emit(ev Event, typ EventType) {
	ev.Type = typ
	e.sink.Emit(ev)
}
