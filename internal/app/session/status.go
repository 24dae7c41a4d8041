package session

import (
	"context"
	"fmt"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicalchairs/internal/app/lifecycle"
	"github.com/osa030/musicalchairs/internal/app/player"
	"github.com/osa030/musicalchairs/internal/app/round"
	"github.com/osa030/musicalchairs/internal/app/session/state"
	"github.com/osa030/musicalchairs/internal/domain/settings"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

// Timer is one countdown as shown to the user. Message is empty when the
// timer is not the running one.
type Timer struct {
	Seconds   int
	Displayed bool
	Message   string
}

// Status represents the current session status with all information.
type Status struct {
	Active     bool
	SessionID  string
	Phase      state.Phase
	Source     state.Source
	SourceText string
	Round      round.Snapshot
	Foreground bool

	// Playback position of the current track
	Position     float64
	PositionText string
	DurationText string
	AlbumTitle   string

	SongTimer  Timer
	RoundTimer Timer
	Settings   settings.RoundConfig

	// Output volume, when the player exposes one
	HasVolume   bool
	Volume      int
	VolumeLevel int
}

// Status returns the current session status.
func (m *Manager) Status(ctx context.Context) Status {
	cfg := m.store.Snapshot()
	st := Status{
		Foreground: m.monitor.Current() == lifecycle.StateForeground,
		Settings:   cfg,
	}

	if vc, ok := m.adapter.(player.VolumeControl); ok {
		if v, err := vc.Volume(ctx); err == nil {
			st.HasVolume = true
			st.Volume = v
			st.VolumeLevel = player.VolumeLevel(v)
		} else {
			zlog.Debug().Err(err).Msg("session: volume unavailable")
		}
	}

	cur := m.cur.Load()
	if cur == nil {
		return st
	}

	st.Active = true
	st.SessionID = cur.state.GetSessionID()
	st.Phase = cur.state.GetPhase()
	st.Source = cur.state.GetSource()
	st.SourceText = describe(st.Source)
	st.Round = cur.controller.Snapshot()
	st.SongTimer, st.RoundTimer = Timers(st.Round, cfg)

	if t := st.Round.Track; t != nil {
		pos, err := m.adapter.PlaybackPosition(ctx)
		if err != nil {
			zlog.Debug().Err(err).Msg("session: playback position unavailable")
		}
		st.Position = pos
		st.PositionText = track.FormatDuration(pos)
		st.DurationText = track.FormatDuration(t.Duration.Seconds())
		st.AlbumTitle = t.AlbumTitleOrDefault()
	}
	return st
}

// Timers builds both countdowns. While the song timer runs it carries the
// pause message; once spent the round timer carries the restart message.
func Timers(snap round.Snapshot, cfg settings.RoundConfig) (song, rnd Timer) {
	song = Timer{Seconds: snap.SongSecondsRemaining, Displayed: cfg.IsSongTimerDisplayed}
	rnd = Timer{Seconds: snap.RoundSecondsRemaining, Displayed: cfg.IsRoundTimerDisplayed}

	if snap.Phase == round.PhaseAwaitingStart {
		return song, rnd
	}
	if snap.SongSecondsRemaining > 0 {
		song.Message = fmt.Sprintf("Will pause in %d seconds.", snap.SongSecondsRemaining)
	} else {
		rnd.Message = fmt.Sprintf("Next round starts in %d seconds.", snap.RoundSecondsRemaining)
	}
	return song, rnd
}

func describe(source state.Source) string {
	if source.Name != "" {
		return fmt.Sprintf("%s %q", source.Kind, source.Name)
	}
	return fmt.Sprintf("%s %s", source.Kind, source.ID)
}
