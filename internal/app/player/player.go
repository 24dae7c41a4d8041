// Package player defines the track player boundary and an in-process realization.
package player

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/musicalchairs/internal/domain/track"
)

// Errors
var (
	ErrQueueEmpty    = errors.New("queue is empty")
	ErrNoTrack       = errors.New("no current track")
	ErrInvalidVolume = errors.New("volume must be between 0 and 100")
)

// Status represents the player's transport status.
type Status int

const (
	StatusStopped Status = iota // No current track or explicitly stopped
	StatusPlaying               // Current track is playing
	StatusPaused                // Current track is paused
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Event reports that the current track changed. Track is nil when nothing is current.
type Event struct {
	Track *track.Track
}

// Adapter is the only channel through which the round core affects audible output.
//
// SkipToNext keeps the transport status: a playing player keeps playing the
// next track, a paused one stays paused on it. Stop clears the current
// track and resets the position to zero; the queue is kept until SetQueue.
type Adapter interface {
	SetQueue(ctx context.Context, tracks []track.Track, shuffled bool) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SkipToNext(ctx context.Context) error
	Stop(ctx context.Context) error
	PlaybackPosition(ctx context.Context) (float64, error)
	// Subscribe returns a channel of track-changed events and a function
	// that ends the subscription.
	Subscribe() (<-chan Event, func())
}

// VolumeControl is implemented by adapters whose engine exposes an output
// volume. Volumes are percentages.
type VolumeControl interface {
	Volume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, percent int) error
}

// ValidateVolume rejects percentages outside 0..100.
func ValidateVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return errors.Wrapf(ErrInvalidVolume, "got %d", percent)
	}
	return nil
}

// VolumeLevel buckets a percentage into the speaker icon levels 1 to 3.
func VolumeLevel(percent int) int {
	switch {
	case percent > 60:
		return 3
	case percent > 30:
		return 2
	default:
		return 1
	}
}
