package round

import (
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicalchairs/internal/domain/settings"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

// ConfigSource supplies the latest round configuration snapshot.
type ConfigSource interface {
	Snapshot() settings.RoundConfig
}

// Machine holds the round state and its transition rules.
// It is not safe for concurrent use; the Controller serializes access.
type Machine struct {
	state    State
	config   ConfigSource
	drawer   *Drawer
	dispatch Dispatcher
	seq      uint64
	track    *track.Track

	// playRetry is set when a play command failed; the next tick re-issues it.
	playRetry bool
}

// NewMachine creates a machine in PhaseAwaitingStart.
func NewMachine(config ConfigSource, drawer *Drawer, dispatch Dispatcher) *Machine {
	return &Machine{
		state:    State{Phase: PhaseAwaitingStart},
		config:   config,
		drawer:   drawer,
		dispatch: dispatch,
	}
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	return m.state
}

// Snapshot returns the state together with the current track.
func (m *Machine) Snapshot(at time.Time) Snapshot {
	snap := Snapshot{State: m.state, At: at}
	if m.track != nil {
		t := *m.track
		snap.Track = &t
	}
	return snap
}

// TrackChanged records the track reported by the player. It only feeds
// display data and never changes phase or counters.
func (m *Machine) TrackChanged(t *track.Track) {
	m.track = t
}

// Start begins the first round. It is a no-op once the session has started.
func (m *Machine) Start() {
	if m.state.Phase != PhaseAwaitingStart {
		zlog.Debug().Msgf("round: start ignored: phase=%s", m.state.Phase)
		return
	}
	m.resetTimers()
	m.state.Phase = PhasePlaying
	m.state.ManuallyPaused = false
	m.syncClock()
	m.play()
}

// Pause is the user pause. Counters are kept and ticking stops until Resume.
func (m *Machine) Pause() {
	if m.state.ManuallyPaused {
		return
	}
	m.state.ManuallyPaused = true
	m.syncClock()
	m.playRetry = false
	// Music is only audible while playing; other phases are already silent.
	if m.state.Phase == PhasePlaying {
		m.pause()
	}
}

// Resume undoes a user pause without touching counters.
// Before the first round it behaves like Start.
func (m *Machine) Resume() {
	if m.state.Phase == PhaseAwaitingStart {
		m.Start()
		return
	}
	if !m.state.ManuallyPaused {
		return
	}
	m.state.ManuallyPaused = false
	m.syncClock()
	if m.state.Phase == PhasePlaying {
		m.play()
	}
}

// Skip advances the player to the next track. Timers are redrawn when the
// configuration asks for it (or nothing has started yet), otherwise kept.
func (m *Machine) Skip() {
	wasAudible := m.state.Phase == PhasePlaying && !m.state.ManuallyPaused
	cfg := m.config.Snapshot()

	m.emit(CommandSkip)

	if m.state.Phase == PhaseAwaitingStart || cfg.ResetTimersOnManualSkip {
		m.resetTimersFrom(cfg)
	}
	m.state.ManuallyPaused = false

	if m.state.SongSecondsRemaining > 0 {
		m.state.Phase = PhasePlaying
		m.syncClock()
		if !wasAudible {
			m.play()
		}
		return
	}

	// Preserved counters with the song timer already spent: keep counting
	// the round down in silence.
	m.state.Phase = PhasePausedForRound
	m.syncClock()
}

// Tick advances the countdowns by one second. Ticks while the clock is
// inactive are discarded.
func (m *Machine) Tick() {
	if !m.state.IsClockActive {
		return
	}

	if m.state.SongSecondsRemaining > 0 {
		m.state.SongSecondsRemaining--
		if m.state.SongSecondsRemaining == 0 {
			m.state.Phase = PhasePausedForRound
			m.pause()
			return
		}
		if m.playRetry {
			zlog.Info().Msg("round: re-issuing play after failed attempt")
			m.play()
		}
		return
	}

	// The round timer only runs once the song timer is spent.
	if m.state.Phase == PhasePlaying {
		m.state.Phase = PhasePausedForRound
		m.pause()
	}
	if m.state.RoundSecondsRemaining > 0 {
		m.state.RoundSecondsRemaining--
	}
	if m.state.RoundSecondsRemaining == 0 {
		m.resetTimers()
		m.state.Phase = PhasePlaying
		m.play()
	}
}

// Background stops ticking without touching phase or counters.
func (m *Machine) Background() {
	m.state.Backgrounded = true
	m.syncClock()
}

// Foreground restores ticking to what the transport state implies.
// No catch-up is performed for time spent in the background.
func (m *Machine) Foreground() {
	m.state.Backgrounded = false
	m.syncClock()
}

// CommandFailed records a failed transport command. A failed play is
// retried on the next tick if the machine still wants music.
func (m *Machine) CommandFailed(cmd Command, err error) {
	zlog.Warn().Err(err).Msgf("round: transport command failed: command=%s seq=%d", cmd.Type, cmd.Seq)
	if cmd.Type != CommandPlay || cmd.Seq != m.seq {
		return
	}
	if m.state.Phase == PhasePlaying && !m.state.ManuallyPaused {
		m.playRetry = true
	}
}

func (m *Machine) resetTimers() {
	m.resetTimersFrom(m.config.Snapshot())
}

func (m *Machine) resetTimersFrom(cfg settings.RoundConfig) {
	song, round := m.drawer.DrawTimers(cfg)
	m.state.SongSecondsRemaining = max(song, 0)
	m.state.RoundSecondsRemaining = max(round, 0)
	zlog.Debug().Msgf("round: timers drawn: song=%d round=%d", song, round)
}

func (m *Machine) syncClock() {
	m.state.IsClockActive = m.state.Phase != PhaseAwaitingStart &&
		!m.state.ManuallyPaused &&
		!m.state.Backgrounded
}

func (m *Machine) play() {
	m.playRetry = false
	m.emit(CommandPlay)
}

func (m *Machine) pause() {
	m.playRetry = false
	m.emit(CommandPause)
}

func (m *Machine) emit(t CommandType) {
	m.seq++
	m.dispatch.Dispatch(Command{Type: t, Seq: m.seq})
}
