package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatlink/internal/bus"
)

// State represents a realtime connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Closing      State = "CLOSING"
	Error        State = "ERROR"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
// disconnected → connecting → open → (closing|error) → disconnected, with
// RECONNECTING parked between an unclean close and the next dial.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Reconnecting},
	Connecting:   {Open, Closing, Error},
	Open:         {Closing, Error},
	Closing:      {Disconnected},
	Error:        {Disconnected},
	Reconnecting: {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is currently in s.
func (m *Machine) Is(s State) bool {
	return m.Current() == s
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStateChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// Settle walks the machine back to Disconnected from wherever it is, using only
// legal transitions. Used on teardown paths that may race with the read pump.
func (m *Machine) Settle() {
	switch m.Current() {
	case Connecting, Open:
		_ = m.Transition(Closing)
		_ = m.Transition(Disconnected)
	case Closing, Error, Reconnecting:
		_ = m.Transition(Disconnected)
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
