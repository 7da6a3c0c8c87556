package ads

// Phase is the tag of the state machine: Idle or Playing a break
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlaying
)

// String returns the string representation of Phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// State is the one-shot bookkeeping for a session. The zero value is a fresh
// Idle session.
type State struct {
	phase   Phase
	current Break

	playedPreroll  bool
	playedMidrolls map[float64]struct{}
	playedPostroll bool
}

// Phase returns the current phase
func (s State) Phase() Phase {
	return s.phase
}

// IsAdPlaying reports whether a break is active
func (s State) IsAdPlaying() bool {
	return s.phase == PhasePlaying
}

// Current returns the active break while Playing
func (s State) Current() (Break, bool) {
	if s.phase != PhasePlaying {
		return Break{}, false
	}
	return s.current, true
}

// PlayedPreroll reports whether the preroll completed
func (s State) PlayedPreroll() bool {
	return s.playedPreroll
}

// PlayedPostroll reports whether the postroll completed
func (s State) PlayedPostroll() bool {
	return s.playedPostroll
}

// PlayedMidroll reports whether the midroll at offset completed
func (s State) PlayedMidroll(offset float64) bool {
	_, ok := s.playedMidrolls[offset]
	return ok
}

// Next returns the break that should play now, if any. Nothing is returned
// while an ad is playing. Otherwise the first match wins: the unplayed
// preroll, the earliest unplayed midroll with offset <= position, the unplayed
// postroll when atEnd is set.
func (s State) Next(reg Registry, position float64, atEnd bool) (Break, bool) {
	if s.IsAdPlaying() {
		return Break{}, false
	}

	if pre, ok := reg.Preroll(); ok && !s.playedPreroll {
		return pre, true
	}

	for _, mid := range reg.midrolls {
		if mid.Offset > position {
			break
		}
		if !s.PlayedMidroll(mid.Offset) {
			return mid, true
		}
	}

	if atEnd {
		if post, ok := reg.Postroll(); ok && !s.playedPostroll {
			return post, true
		}
	}

	return Break{}, false
}

// Started enters Playing(b)
func (s State) Started(b Break) State {
	next := s.clone()
	next.phase = PhasePlaying
	next.current = b
	return next
}

// Completed marks b as played and returns to Idle. Completing an already
// completed break only re-marks the flag.
func (s State) Completed(b Break) State {
	next := s.clone()

	switch b.Kind {
	case KindPreroll:
		next.playedPreroll = true
	case KindMidroll:
		if next.playedMidrolls == nil {
			next.playedMidrolls = make(map[float64]struct{})
		}
		next.playedMidrolls[b.Offset] = struct{}{}
	case KindPostroll:
		next.playedPostroll = true
	}

	// Idle never carries a current break, matching or not
	next.phase = PhaseIdle
	next.current = Break{}
	return next
}

// Reset returns a fresh Idle state
func (s State) Reset() State {
	return State{}
}

// PrerollPending reports whether reg has a preroll that has not played
func (s State) PrerollPending(reg Registry) bool {
	_, ok := reg.Preroll()
	return ok && !s.playedPreroll
}

// PostrollPending reports whether reg has a postroll that has not played
func (s State) PostrollPending(reg Registry) bool {
	_, ok := reg.Postroll()
	return ok && !s.playedPostroll
}

func (s State) clone() State {
	next := s
	if s.playedMidrolls != nil {
		next.playedMidrolls = make(map[float64]struct{}, len(s.playedMidrolls))
		for k := range s.playedMidrolls {
			next.playedMidrolls[k] = struct{}{}
		}
	}
	return next
}
