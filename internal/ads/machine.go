package ads

// Machine pairs a registry with the session state it is evaluated against.
// It is not safe for concurrent use; the orchestrator owns it from a single
// goroutine.
type Machine struct {
	registry Registry
	state    State
}

// NewMachine creates a machine for the given breaks
func NewMachine(breaks []Break) *Machine {
	return &Machine{registry: NewRegistry(breaks)}
}

// Configure replaces the registry. Played flags are kept.
func (m *Machine) Configure(breaks []Break) {
	m.registry = NewRegistry(breaks)
}

// Registry returns the current registry
func (m *Machine) Registry() Registry {
	return m.registry
}

// State returns a snapshot of the session state
func (m *Machine) State() State {
	return m.state
}

// NextAdToPlay returns the break to start at position, if any
func (m *Machine) NextAdToPlay(position float64, isAtEnd bool) (Break, bool) {
	return m.state.Next(m.registry, position, isAtEnd)
}

// OnAdStarted records that b is now playing
func (m *Machine) OnAdStarted(b Break) {
	m.state = m.state.Started(b)
}

// OnAdCompleted records that b finished
func (m *Machine) OnAdCompleted(b Break) {
	m.state = m.state.Completed(b)
}

// Reset starts a fresh session against the same registry
func (m *Machine) Reset() {
	m.state = m.state.Reset()
}

// IsAdPlaying reports whether a break is active
func (m *Machine) IsAdPlaying() bool {
	return m.state.IsAdPlaying()
}

// PrerollPending reports whether a configured preroll has not played yet
func (m *Machine) PrerollPending() bool {
	return m.state.PrerollPending(m.registry)
}

// PostrollPending reports whether a configured postroll has not played yet
func (m *Machine) PostrollPending() bool {
	return m.state.PostrollPending(m.registry)
}
