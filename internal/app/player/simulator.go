package player

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicalchairs/internal/domain/track"
)

// DefaultTrackDuration is used for tracks whose duration is unknown.
const DefaultTrackDuration = 3 * time.Minute

// Simulator is an in-process Adapter. It keeps a queue, tracks the
// playback position against its clock, and advances to the next track
// when the current one ends.
type Simulator struct {
	mu sync.RWMutex

	clock clockwork.Clock
	rng   *rand.Rand

	// Queue management
	queue  []track.Track // Tracks waiting to be played
	played []track.Track // History

	// Current track state
	current   *track.Track
	status    Status
	startedAt time.Time     // When the current play stretch began
	elapsed   time.Duration // Position accumulated before startedAt

	volume int

	endTimer clockwork.Timer
	timerGen uint64 // Invalidates callbacks from stopped timers

	subs map[string]chan Event
}

// NewSimulator creates a simulator. A nil clock uses the real clock.
func NewSimulator(clock clockwork.Clock, src rand.Source) *Simulator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Simulator{
		clock:  clock,
		rng:    rand.New(src),
		queue:  make([]track.Track, 0),
		played: make([]track.Track, 0),
		status: StatusStopped,
		volume: DefaultVolume,
		subs:   make(map[string]chan Event),
	}
}

// DefaultVolume is the simulator's initial volume.
const DefaultVolume = 50

var (
	_ Adapter       = (*Simulator)(nil)
	_ VolumeControl = (*Simulator)(nil)
)

// SetQueue replaces the queue and stops playback. A nil or empty slice clears it.
func (s *Simulator) SetQueue(ctx context.Context, tracks []track.Track, shuffled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := make([]track.Track, len(tracks))
	copy(queue, tracks)
	if shuffled {
		s.rng.Shuffle(len(queue), func(i, j int) {
			queue[i], queue[j] = queue[j], queue[i]
		})
	}

	s.stopTimerLocked()
	s.queue = queue
	s.played = make([]track.Track, 0)
	s.status = StatusStopped
	s.elapsed = 0
	s.setCurrentLocked(nil)

	zlog.Debug().Msgf("simulator: queue set: count=%d shuffled=%t", len(queue), shuffled)
	return nil
}

// Play starts or resumes playback. With no current track it dequeues the next one.
func (s *Simulator) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusPlaying {
		return nil
	}

	if s.current == nil {
		if !s.advanceLocked() {
			return ErrQueueEmpty
		}
	}

	s.status = StatusPlaying
	s.startedAt = s.clock.Now()
	s.startTimerLocked()
	return nil
}

// Pause pauses playback. Pausing a non-playing player is a no-op.
func (s *Simulator) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPlaying {
		return nil
	}

	s.stopTimerLocked()
	s.elapsed += s.clock.Since(s.startedAt)
	s.status = StatusPaused
	return nil
}

// SkipToNext moves to the next queued track, keeping the transport status.
func (s *Simulator) SkipToNext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasPlaying := s.status == StatusPlaying
	s.stopTimerLocked()

	if !s.advanceLocked() {
		s.status = StatusStopped
		return ErrQueueEmpty
	}

	if wasPlaying {
		s.status = StatusPlaying
		s.startedAt = s.clock.Now()
		s.startTimerLocked()
	} else {
		s.status = StatusPaused
	}
	return nil
}

// Stop stops playback and resets the position. The queue is kept.
func (s *Simulator) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	if s.current != nil {
		s.played = append(s.played, *s.current)
	}
	s.status = StatusStopped
	s.elapsed = 0
	s.setCurrentLocked(nil)
	return nil
}

// PlaybackPosition returns the current position in seconds.
func (s *Simulator) PlaybackPosition(ctx context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionLocked().Seconds(), nil
}

// Volume returns the output volume in percent.
func (s *Simulator) Volume(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume, nil
}

// SetVolume sets the output volume in percent.
func (s *Simulator) SetVolume(ctx context.Context, percent int) error {
	if err := ValidateVolume(percent); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = percent
	return nil
}

// Subscribe returns a channel of track-changed events.
func (s *Simulator) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Event, 8)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// GetStatus returns the transport status.
func (s *Simulator) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetCurrentTrack returns the current track.
func (s *Simulator) GetCurrentTrack() (*track.Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, false
	}
	t := *s.current
	return &t, true
}

// GetQueuedTracks returns a copy of the tracks still waiting to play.
func (s *Simulator) GetQueuedTracks() []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]track.Track, len(s.queue))
	copy(result, s.queue)
	return result
}

// GetPlayedTracks returns a copy of the history.
func (s *Simulator) GetPlayedTracks() []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]track.Track, len(s.played))
	copy(result, s.played)
	return result
}

// advanceLocked moves the current track to history and dequeues the next.
// Returns false when the queue is empty.
// Must be called with lock held.
func (s *Simulator) advanceLocked() bool {
	if s.current != nil {
		s.played = append(s.played, *s.current)
	}
	s.elapsed = 0

	if len(s.queue) == 0 {
		s.setCurrentLocked(nil)
		return false
	}

	next := s.queue[0]
	s.queue = s.queue[1:]
	s.setCurrentLocked(&next)
	return true
}

// positionLocked must be called with lock held.
func (s *Simulator) positionLocked() time.Duration {
	pos := s.elapsed
	if s.status == StatusPlaying {
		pos += s.clock.Since(s.startedAt)
	}
	return pos
}

// startTimerLocked schedules the end of the current track.
// Must be called with lock held.
func (s *Simulator) startTimerLocked() {
	s.stopTimerLocked()
	if s.current == nil {
		return
	}

	duration := s.current.Duration
	if duration <= 0 {
		duration = DefaultTrackDuration
	}
	remaining := duration - s.elapsed
	if remaining < 0 {
		remaining = 0
	}

	gen := s.timerGen
	s.endTimer = s.clock.AfterFunc(remaining, func() {
		s.onTrackEnd(gen)
	})
}

// stopTimerLocked must be called with lock held.
func (s *Simulator) stopTimerLocked() {
	s.timerGen++
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
}

func (s *Simulator) onTrackEnd(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timerGen || s.status != StatusPlaying {
		return
	}
	s.endTimer = nil

	if s.current != nil {
		zlog.Debug().Msgf("simulator: track ended: track=%s", s.current.Title)
	}
	if !s.advanceLocked() {
		s.status = StatusStopped
		return
	}
	s.startedAt = s.clock.Now()
	s.startTimerLocked()
}

// setCurrentLocked updates the current track and notifies subscribers on change.
// Must be called with lock held.
func (s *Simulator) setCurrentLocked(t *track.Track) {
	prev := s.current
	s.current = t
	if prev == nil && t == nil {
		return
	}
	if prev != nil && t != nil && prev.ID == t.ID {
		return
	}

	var ev Event
	if t != nil {
		copied := *t
		ev.Track = &copied
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind, drop
		}
	}
}
