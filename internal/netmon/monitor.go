// Package netmon tracks the process-wide connectivity state. It is the
// single writer of that state; everything else observes it through reads
// or through the edge-triggered bus events.
package netmon

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"chatsync/internal/bus"
)

// State is a connectivity state.
type State string

const (
	Unknown      State = "UNKNOWN"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
)

// validTransitions defines allowed state transitions. Unknown exists only
// until the startup probe resolves it.
var validTransitions = map[State][]State{
	Unknown:      {Connected, Disconnected},
	Connected:    {Disconnected},
	Disconnected: {Connected},
}

// Change is the payload of net.connected / net.disconnected events.
type Change struct {
	Connected bool
	Since     time.Time
}

// Monitor tracks connectivity transitions and publishes one bus event per
// edge. Consumers never poll it for changes.
type Monitor struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMonitor creates a monitor in the Unknown state.
func NewMonitor(b *bus.Bus) *Monitor {
	return &Monitor{current: Unknown, bus: b}
}

// Resolve runs the startup probe and sets the initial state synchronously,
// without publishing: it happens before any subscriber can observe an
// edge, so the first published event is always a real transition.
func (m *Monitor) Resolve(probe func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != Unknown {
		return
	}
	if probe() {
		m.current = Connected
	} else {
		m.current = Disconnected
	}
	m.since = time.Now()
}

// Connected reports the current state.
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == Connected
}

// Since returns the time of the last transition.
func (m *Monitor) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Set records a connectivity observation. A repeated observation of the
// current state is a no-op; a genuine edge updates the state and publishes
// exactly one event for it.
func (m *Monitor) Set(connected bool) error {
	to := Disconnected
	kind := bus.KindNetDisconnected
	if connected {
		to = Connected
		kind = bus.KindNetConnected
	}

	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.since = time.Now()
	since := m.since
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Emit(kind, Change{Connected: connected, Since: since})
	}
	return nil
}
