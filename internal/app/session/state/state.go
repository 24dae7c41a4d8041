// Package state provides session state management.
package state

import (
	"sync"
	"time"
)

// Phase represents the session lifecycle phase.
type Phase int

const (
	PhaseReady  Phase = iota // Queue loaded, waiting for the first round
	PhaseActive              // Rounds are running
	PhaseEnded               // Session was ended or replaced
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SourceKind says what the queue was built from.
type SourceKind string

const (
	SourcePlaylist SourceKind = "playlist"
	SourceTrack    SourceKind = "track"
)

// Source describes the playlist or track a session plays.
type Source struct {
	Kind       SourceKind
	ID         string
	Name       string
	URL        string
	TrackCount int
}

// Manager manages session state with thread-safe access.
type Manager struct {
	mu sync.RWMutex

	sessionID string
	source    Source
	phase     Phase

	createdAt time.Time
	startedAt *time.Time
	endedAt   *time.Time
}

// New creates a new state manager in PhaseReady.
func New(sessionID string, source Source, now time.Time) *Manager {
	return &Manager{
		sessionID: sessionID,
		source:    source,
		phase:     PhaseReady,
		createdAt: now,
	}
}

// GetSessionID returns the session ID.
func (m *Manager) GetSessionID() string {
	return m.sessionID
}

// GetSource returns the session source.
func (m *Manager) GetSource() Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// GetPhase returns the current session phase.
func (m *Manager) GetPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Activate moves a ready session to PhaseActive. It reports whether the
// phase changed.
func (m *Manager) Activate(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseReady {
		return false
	}
	m.phase = PhaseActive
	m.startedAt = &now
	return true
}

// End moves the session to PhaseEnded. Ending twice is a no-op.
func (m *Manager) End(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseEnded {
		return false
	}
	m.phase = PhaseEnded
	m.endedAt = &now
	return true
}

// GetTimes returns when the session was created, started, and ended.
func (m *Manager) GetTimes() (created time.Time, started, ended *time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createdAt, m.startedAt, m.endedAt
}
