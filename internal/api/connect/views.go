package connect

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/musicalchairs/internal/app/notification"
	"github.com/osa030/musicalchairs/internal/app/round"
	"github.com/osa030/musicalchairs/internal/app/session"
	"github.com/osa030/musicalchairs/internal/domain/playlist"
	"github.com/osa030/musicalchairs/internal/domain/settings"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

// Messages on the wire are google.protobuf.Struct values. The view types
// below are their decoded form; the mapstructure tags are the field names.

// TimerView is one countdown.
type TimerView struct {
	Seconds   int    `mapstructure:"seconds"`
	Displayed bool   `mapstructure:"displayed"`
	Message   string `mapstructure:"message"`
}

// TrackView is the current track.
type TrackView struct {
	ID       string `mapstructure:"id"`
	Title    string `mapstructure:"title"`
	Artist   string `mapstructure:"artist"`
	Album    string `mapstructure:"album"`
	Duration string `mapstructure:"duration"`
}

// StatusView is the session status.
type StatusView struct {
	Active         bool       `mapstructure:"active"`
	SessionID      string     `mapstructure:"session_id"`
	SessionPhase   string     `mapstructure:"session_phase"`
	Source         string     `mapstructure:"source"`
	Phase          string     `mapstructure:"phase"`
	ClockActive    bool       `mapstructure:"clock_active"`
	ManuallyPaused bool       `mapstructure:"manually_paused"`
	Backgrounded   bool       `mapstructure:"backgrounded"`
	Foreground     bool       `mapstructure:"foreground"`
	Track          *TrackView `mapstructure:"track"`
	Position       string     `mapstructure:"position"`
	Volume         *int       `mapstructure:"volume"`
	VolumeLevel    int        `mapstructure:"volume_level"`
	SongTimer      TimerView  `mapstructure:"song_timer"`
	RoundTimer     TimerView  `mapstructure:"round_timer"`
}

// NotificationView is one Watch message.
type NotificationView struct {
	SequenceNo int64      `mapstructure:"sequence_no"`
	Kind       string     `mapstructure:"kind"`
	At         string     `mapstructure:"at"`
	Status     StatusView `mapstructure:"status"`
}

// PlaylistView is one library playlist.
type PlaylistView struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	URL         string `mapstructure:"url"`
	TrackCount  int    `mapstructure:"track_count"`
}

// SettingsView is the live settings record with its bounds.
type SettingsView struct {
	Record      settings.Record
	SongBounds  settings.Bounds
	RoundBounds settings.Bounds
}

func statusView(st session.Status) StatusView {
	v := roundView(st.Round)
	v.Active = st.Active
	v.SessionID = st.SessionID
	v.Foreground = st.Foreground
	v.SongTimer = timerView(st.SongTimer)
	v.RoundTimer = timerView(st.RoundTimer)
	if st.Active {
		v.SessionPhase = st.Phase.String()
		v.Source = st.SourceText
	}
	if v.Track != nil {
		v.Position = st.PositionText
	}
	if st.HasVolume {
		volume := st.Volume
		v.Volume = &volume
		v.VolumeLevel = st.VolumeLevel
	}
	return v
}

func notificationView(n *notification.Notification) NotificationView {
	v := roundView(n.Round)
	v.Active = n.Active
	v.SessionID = n.SessionID
	if n.Active {
		song, rnd := session.Timers(n.Round, n.Settings)
		v.SongTimer = timerView(song)
		v.RoundTimer = timerView(rnd)
	}
	return NotificationView{
		SequenceNo: int64(n.SequenceNo),
		Kind:       string(n.Kind),
		At:         n.At.Format(time.RFC3339),
		Status:     v,
	}
}

func roundView(snap round.Snapshot) StatusView {
	v := StatusView{
		Phase:          snap.Phase.String(),
		ClockActive:    snap.IsClockActive,
		ManuallyPaused: snap.ManuallyPaused,
		Backgrounded:   snap.Backgrounded,
	}
	if t := snap.Track; t != nil {
		v.Track = &TrackView{
			ID:       t.ID,
			Title:    t.Title,
			Artist:   t.ArtistName,
			Album:    t.AlbumTitleOrDefault(),
			Duration: track.FormatDuration(t.Duration.Seconds()),
		}
	}
	return v
}

func timerView(t session.Timer) TimerView {
	return TimerView{Seconds: t.Seconds, Displayed: t.Displayed, Message: t.Message}
}

func playlistView(p playlist.Playlist) PlaylistView {
	return PlaylistView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		URL:         p.URL,
		TrackCount:  p.Len(),
	}
}

func (v TimerView) fields() map[string]any {
	return map[string]any{
		"seconds":   v.Seconds,
		"displayed": v.Displayed,
		"message":   v.Message,
	}
}

func (v StatusView) fields() map[string]any {
	m := map[string]any{
		"active":          v.Active,
		"session_id":      v.SessionID,
		"session_phase":   v.SessionPhase,
		"source":          v.Source,
		"phase":           v.Phase,
		"clock_active":    v.ClockActive,
		"manually_paused": v.ManuallyPaused,
		"backgrounded":    v.Backgrounded,
		"foreground":      v.Foreground,
		"position":        v.Position,
		"song_timer":      v.SongTimer.fields(),
		"round_timer":     v.RoundTimer.fields(),
	}
	if v.Volume != nil {
		m["volume"] = *v.Volume
		m["volume_level"] = v.VolumeLevel
	}
	if v.Track != nil {
		m["track"] = map[string]any{
			"id":       v.Track.ID,
			"title":    v.Track.Title,
			"artist":   v.Track.Artist,
			"album":    v.Track.Album,
			"duration": v.Track.Duration,
		}
	}
	return m
}

func (v NotificationView) fields() map[string]any {
	return map[string]any{
		"sequence_no": v.SequenceNo,
		"kind":        v.Kind,
		"at":          v.At,
		"status":      v.Status.fields(),
	}
}

func (v PlaylistView) fields() map[string]any {
	return map[string]any{
		"id":          v.ID,
		"name":        v.Name,
		"description": v.Description,
		"url":         v.URL,
		"track_count": v.TrackCount,
	}
}

func settingsFields(cfg settings.RoundConfig) (map[string]any, error) {
	rec, err := cfg.Record().ToMap()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"record":       rec,
		"song_bounds":  boundsFields(cfg.SongDurationBounds),
		"round_bounds": boundsFields(cfg.RoundDurationBounds),
	}, nil
}

func boundsFields(b settings.Bounds) map[string]any {
	return map[string]any{"min": b.Min, "max": b.Max}
}

// newStruct converts plain fields into a wire message.
func newStruct(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return s, nil
}

// decodeStruct decodes a wire message into a view. Numbers arrive as
// float64 and are converted to the view's field types.
func decodeStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return errors.New("empty message")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(s.AsMap()); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	return nil
}

// decodeSettings reads a settings message produced by settingsFields.
func decodeSettings(s *structpb.Struct) (SettingsView, error) {
	var raw struct {
		Record      map[string]any  `mapstructure:"record"`
		SongBounds  settings.Bounds `mapstructure:"song_bounds"`
		RoundBounds settings.Bounds `mapstructure:"round_bounds"`
	}
	if err := decodeStruct(s, &raw); err != nil {
		return SettingsView{}, err
	}
	rec, err := settings.DecodeRecord(raw.Record)
	if err != nil {
		return SettingsView{}, err
	}
	return SettingsView{Record: rec, SongBounds: raw.SongBounds, RoundBounds: raw.RoundBounds}, nil
}
