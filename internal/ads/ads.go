// Package ads holds the ad break registry and the one-shot ad state machine.
//
// State is a value. Every transition returns a new State and leaves the
// receiver untouched, so callers can keep old snapshots around and tests can
// compare them directly.
package ads

import (
	"fmt"
	"math"
	"sort"

	"github.com/justchokingaround/cuepoint/internal/player"
)

// Kind is the insertion point of an ad break
type Kind string

const (
	KindPreroll  Kind = "preroll"
	KindMidroll  Kind = "midroll"
	KindPostroll Kind = "postroll"
)

// Break is a configured ad break. Offset is only meaningful for midrolls.
type Break struct {
	Kind   Kind          `json:"kind" yaml:"kind" mapstructure:"kind"`
	Offset float64       `json:"offset,omitempty" yaml:"offset,omitempty" mapstructure:"offset"`
	Source player.Source `json:"source" yaml:"source" mapstructure:"source"`
}

// String returns a short description used in logs
func (b Break) String() string {
	if b.Kind == KindMidroll {
		return fmt.Sprintf("midroll@%gs", b.Offset)
	}
	return string(b.Kind)
}

// Registry is the normalized view of the configured ad breaks
type Registry struct {
	preroll  *Break
	midrolls []Break
	postroll *Break
}

// NewRegistry partitions breaks into at most one preroll, the valid midrolls
// sorted by offset and deduplicated, and at most one postroll.
// Malformed entries are dropped without error.
func NewRegistry(breaks []Break) Registry {
	var reg Registry
	seen := make(map[float64]bool)

	for _, b := range breaks {
		switch b.Kind {
		case KindPreroll:
			if reg.preroll == nil {
				pre := b
				pre.Offset = 0
				reg.preroll = &pre
			}
		case KindMidroll:
			if !validOffset(b.Offset) || seen[b.Offset] {
				continue
			}
			seen[b.Offset] = true
			reg.midrolls = append(reg.midrolls, b)
		case KindPostroll:
			if reg.postroll == nil {
				post := b
				post.Offset = 0
				reg.postroll = &post
			}
		}
	}

	sort.SliceStable(reg.midrolls, func(i, j int) bool {
		return reg.midrolls[i].Offset < reg.midrolls[j].Offset
	})

	return reg
}

func validOffset(offset float64) bool {
	return !math.IsNaN(offset) && !math.IsInf(offset, 0) && offset >= 0
}

// Preroll returns the configured preroll, if any
func (r Registry) Preroll() (Break, bool) {
	if r.preroll == nil {
		return Break{}, false
	}
	return *r.preroll, true
}

// Postroll returns the configured postroll, if any
func (r Registry) Postroll() (Break, bool) {
	if r.postroll == nil {
		return Break{}, false
	}
	return *r.postroll, true
}

// Midrolls returns a copy of the midrolls in ascending offset order
func (r Registry) Midrolls() []Break {
	out := make([]Break, len(r.midrolls))
	copy(out, r.midrolls)
	return out
}

// Len returns the number of breaks in the registry
func (r Registry) Len() int {
	n := len(r.midrolls)
	if r.preroll != nil {
		n++
	}
	if r.postroll != nil {
		n++
	}
	return n
}

// Breaks returns every break, preroll first and postroll last
func (r Registry) Breaks() []Break {
	out := make([]Break, 0, r.Len())
	if r.preroll != nil {
		out = append(out, *r.preroll)
	}
	out = append(out, r.midrolls...)
	if r.postroll != nil {
		out = append(out, *r.postroll)
	}
	return out
}
