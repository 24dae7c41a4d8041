// Package lifecycle tracks whether the host application is in the foreground.
package lifecycle

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// State is the host lifecycle state.
type State int

const (
	StateForeground State = iota
	StateBackground
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateForeground:
		return "foreground"
	case StateBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Listener is called with every reported transition.
type Listener func(State)

// Monitor records lifecycle reports and notifies listeners of transitions.
// Listeners run synchronously, in registration order, one report at a time.
type Monitor struct {
	mu        sync.Mutex // Serializes reports
	listenMu  sync.RWMutex
	state     State
	listeners map[string]Listener
	order     []string
}

// NewMonitor creates a monitor in the foreground.
func NewMonitor() *Monitor {
	return &Monitor{
		state:     StateForeground,
		listeners: make(map[string]Listener),
	}
}

// Report records s. It returns false when s equals the current state, in
// which case nobody is notified.
func (m *Monitor) Report(s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == s {
		return false
	}
	m.state = s
	zlog.Info().Msgf("lifecycle: state changed: state=%s", s)

	for _, fn := range m.snapshotListeners() {
		fn(s)
	}
	return true
}

// Current returns the last reported state.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers fn and returns a function that removes it.
func (m *Monitor) OnChange(fn Listener) func() {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()

	id := uuid.New().String()
	m.listeners[id] = fn
	m.order = append(m.order, id)

	return func() {
		m.listenMu.Lock()
		defer m.listenMu.Unlock()
		if _, ok := m.listeners[id]; !ok {
			return
		}
		delete(m.listeners, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

func (m *Monitor) snapshotListeners() []Listener {
	m.listenMu.RLock()
	defer m.listenMu.RUnlock()

	fns := make([]Listener, 0, len(m.order))
	for _, id := range m.order {
		fns = append(fns, m.listeners[id])
	}
	return fns
}
