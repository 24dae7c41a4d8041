// Package round provides the round state machine that turns clock ticks
// into play/pause decisions.
package round

import (
	"time"

	"github.com/osa030/musicalchairs/internal/domain/track"
)

// Phase represents the round phase.
type Phase int

const (
	PhaseAwaitingStart  Phase = iota // Session created, nothing started yet
	PhasePlaying                     // Song timer counting down, music audible
	PhasePausedForRound              // Song timer hit zero, round timer counting down
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhasePlaying:
		return "playing"
	case PhasePausedForRound:
		return "paused_for_round"
	default:
		return "unknown"
	}
}

// State is the mutable round state. Only the Machine mutates it.
type State struct {
	Phase                 Phase
	SongSecondsRemaining  int
	RoundSecondsRemaining int
	IsClockActive         bool
	ManuallyPaused        bool // User pressed pause; cleared by resume or skip
	Backgrounded          bool // Host app is in the background
}

// Snapshot is a published copy of the state plus display data.
type Snapshot struct {
	State
	Track *track.Track // Current track as reported by the player (nil if none)
	At    time.Time
}
