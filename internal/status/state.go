package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
)

// State is the lifecycle state of an account connection.
type State string

const (
	None         State = "NONE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
)

// KindStatusChanged is published on every state change.
const KindStatusChanged = "session.status_changed"

// validTransitions defines allowed state transitions. A fatal receive-loop
// error leaves the account Connected, so Connected may start a new attempt.
var validTransitions = map[State][]State{
	None:         {Connecting, Disconnected},
	Connecting:   {Connected, Disconnected},
	Connected:    {Connecting, Disconnected},
	Disconnected: {Connecting},
}

// Machine tracks and enforces the connection lifecycle of one account.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	account int
}

// NewMachine creates a new state machine starting in None state.
func NewMachine(b *bus.Bus, account int) *Machine {
	return &Machine{
		current: None,
		bus:     b,
		account: account,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Moving to the current state is
// a no-op. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      KindStatusChanged,
			Account:   m.account,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
