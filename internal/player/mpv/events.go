package mpv

import (
	"math"

	"github.com/justchokingaround/cuepoint/internal/player"
)

// sample is one poll of mpv's playback properties
type sample struct {
	Position  float64
	Duration  float64
	Paused    bool
	EOF       bool
	Buffering bool
	Path      string
	// Valid is false while mpv has no time-pos, e.g. between files
	Valid bool
}

// tracker carries what deriveEvents needs across samples of one load
type tracker struct {
	loading  bool
	ended    bool
	uri      string
	interval float64 // seconds between samples
	rate     float64
}

// seekThreshold is the largest forward jump still explained by playback
func (t *tracker) seekThreshold() float64 {
	rate := math.Max(t.rate, 1)
	return 2*t.interval*rate + 1
}

// deriveEvents turns two consecutive samples into raw playback events
func deriveEvents(prev, cur sample, t *tracker) []player.Event {
	if !cur.Valid {
		return nil
	}

	if t.loading {
		// Samples from the previous file can arrive until mpv switches path
		if t.uri != "" && cur.Path != "" && cur.Path != t.uri {
			return nil
		}
		t.loading = false
		t.ended = false

		evs := []player.Event{{Type: player.EventReady, Position: cur.Position, Duration: cur.Duration}}
		if !cur.Paused {
			evs = append(evs, player.Event{Type: player.EventPlay, Position: cur.Position, Duration: cur.Duration})
		}
		return evs
	}

	at := func(typ player.EventType) player.Event {
		return player.Event{Type: typ, Position: cur.Position, Duration: cur.Duration}
	}

	var evs []player.Event
	if cur.Buffering != prev.Buffering {
		if cur.Buffering {
			evs = append(evs, at(player.EventBufferStart))
		} else {
			evs = append(evs, at(player.EventBufferEnd))
		}
	}

	if cur.Paused != prev.Paused {
		if cur.Paused {
			evs = append(evs, at(player.EventPause))
		} else {
			evs = append(evs, at(player.EventPlay))
		}
	}

	delta := cur.Position - prev.Position
	switch {
	case prev.Valid && (delta < -0.5 || delta > t.seekThreshold()):
		evs = append(evs, at(player.EventSeek))
	case delta != 0:
		evs = append(evs, at(player.EventTimeUpdate))
	}

	if !cur.EOF {
		t.ended = false
	} else if !t.ended {
		t.ended = true
		evs = append(evs, at(player.EventEnded))
	}

	return evs
}
