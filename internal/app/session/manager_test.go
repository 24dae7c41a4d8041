package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/musicalchairs/internal/app/library"
	"github.com/osa030/musicalchairs/internal/app/lifecycle"
	"github.com/osa030/musicalchairs/internal/app/notification"
	"github.com/osa030/musicalchairs/internal/app/player"
	"github.com/osa030/musicalchairs/internal/app/round"
	"github.com/osa030/musicalchairs/internal/app/session/state"
	appsettings "github.com/osa030/musicalchairs/internal/app/settings"
	"github.com/osa030/musicalchairs/internal/domain/playlist"
	"github.com/osa030/musicalchairs/internal/domain/settings"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

type fakeCatalog struct {
	mu     sync.Mutex
	tracks map[string][]track.Track
	err    error
}

func (c *fakeCatalog) LibraryPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return []playlist.Playlist{
		{ID: "p1", Name: "Party", URL: "https://open.spotify.com/playlist/p1", TrackCount: 2},
	}, nil
}

func (c *fakeCatalog) PlaylistTracks(ctx context.Context, id string) ([]track.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.tracks[id], nil
}

func (c *fakeCatalog) GetTrack(ctx context.Context, id string) (*track.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	for _, ts := range c.tracks {
		for _, t := range ts {
			if t.ID == id {
				return &t, nil
			}
		}
	}
	return nil, errors.Mark(errors.Newf("track %s not found", id), library.ErrNetwork)
}

type memRepository struct {
	mu     sync.Mutex
	values map[string]any
}

func (r *memRepository) LoadSettings(ctx context.Context) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values, nil
}

func (r *memRepository) SaveSettings(ctx context.Context, values map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = values
	return nil
}

type recordingStream struct {
	mu  sync.Mutex
	got []notification.Notification
}

func (s *recordingStream) Send(n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, *n)
	return nil
}

func (s *recordingStream) has(kind notification.Kind, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.got {
		if n.Kind == kind && n.Active == active {
			return true
		}
	}
	return false
}

type fixture struct {
	m       *Manager
	sim     *player.Simulator
	catalog *fakeCatalog
	monitor *lifecycle.Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clockwork.NewFakeClock()
	catalog := &fakeCatalog{tracks: map[string][]track.Track{
		"p1": {
			{ID: "t1", Title: "One", ArtistName: "A", Duration: 3 * time.Minute},
			{ID: "t2", Title: "Two", ArtistName: "B", AlbumTitle: "Second", Duration: 2 * time.Minute},
		},
		"empty": {},
	}}
	sim := player.NewSimulator(clk, nil)
	store := appsettings.NewStore(&memRepository{},
		settings.Bounds{Min: 1, Max: 60}, settings.Bounds{Min: 5, Max: 30})
	monitor := lifecycle.NewMonitor()

	m := NewManager(Config{Round: round.Config{Clock: clk}},
		library.NewProvider(catalog, nil), sim, store, monitor)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	return &fixture{m: m, sim: sim, catalog: catalog, monitor: monitor}
}

func TestManager_StartPlaylistAndBegin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, state.SourcePlaylist, src.Kind)
	assert.Equal(t, 2, src.TrackCount)
	assert.Len(t, f.sim.GetQueuedTracks(), 2)

	st := f.m.Status(ctx)
	assert.True(t, st.Active)
	assert.Equal(t, state.PhaseReady, st.Phase)
	assert.Equal(t, round.PhaseAwaitingStart, st.Round.Phase)
	assert.Empty(t, st.SongTimer.Message)
	assert.Empty(t, st.RoundTimer.Message)

	require.NoError(t, f.m.Begin())
	st = f.m.Status(ctx)
	assert.Equal(t, state.PhaseActive, st.Phase)
	assert.Equal(t, round.PhasePlaying, st.Round.Phase)
	assert.Contains(t, st.SongTimer.Message, "Will pause in")

	assert.Eventually(t, func() bool { return f.sim.GetStatus() == player.StatusPlaying }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		tr := f.m.Status(ctx).Round.Track
		return tr != nil && tr.ID == "t1"
	}, time.Second, 5*time.Millisecond)

	st = f.m.Status(ctx)
	assert.Equal(t, "3:00", st.DurationText)
	assert.Equal(t, "0:00", st.PositionText)
	assert.Equal(t, track.DefaultAlbumTitle, st.AlbumTitle)
}

func TestManager_NoSession(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.m.Begin(), ErrNoSession)
	assert.ErrorIs(t, f.m.Pause(), ErrNoSession)
	assert.ErrorIs(t, f.m.Resume(), ErrNoSession)
	assert.ErrorIs(t, f.m.Skip(), ErrNoSession)
	assert.ErrorIs(t, f.m.End(context.Background()), ErrNoSession)

	st := f.m.Status(context.Background())
	assert.False(t, st.Active)
	assert.True(t, st.Foreground)
}

func TestManager_StartErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.StartPlaylist(ctx, "empty")
	assert.True(t, errors.Is(err, ErrEmptyPlaylist))

	f.catalog.err = errors.Mark(errors.New("offline"), library.ErrNetwork)
	_, err = f.m.StartPlaylist(ctx, "p1")
	assert.True(t, errors.Is(err, library.ErrFetchFailure))

	_, err = f.m.StartTrack(ctx, "t1")
	assert.True(t, errors.Is(err, library.ErrFetchFailure))
	assert.False(t, f.m.Status(ctx).Active)
}

func TestManager_StartTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src, err := f.m.StartTrack(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, state.SourceTrack, src.Kind)
	assert.Equal(t, "Two", src.Name)
	assert.Len(t, f.sim.GetQueuedTracks(), 1)
	assert.Equal(t, `track "Two"`, f.m.Status(ctx).SourceText)
}

func TestManager_PlaylistNamesFromLibrary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	playlists, err := f.m.Playlists(ctx)
	require.NoError(t, err)
	require.Len(t, playlists, 1)

	src, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Party", src.Name)
	assert.Equal(t, "https://open.spotify.com/playlist/p1", src.URL)
}

func TestManager_ReplaceSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, f.m.Begin())
	first := f.m.Status(ctx).SessionID

	_, err = f.m.StartTrack(ctx, "t2")
	require.NoError(t, err)
	st := f.m.Status(ctx)
	assert.NotEqual(t, first, st.SessionID)
	assert.Equal(t, round.PhaseAwaitingStart, st.Round.Phase)
	assert.Equal(t, player.StatusStopped, f.sim.GetStatus())
}

func TestManager_End(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, f.m.Begin())
	require.Eventually(t, func() bool { return f.sim.GetStatus() == player.StatusPlaying }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.m.End(ctx))
	assert.Equal(t, player.StatusStopped, f.sim.GetStatus())
	assert.Empty(t, f.sim.GetQueuedTracks())
	assert.False(t, f.m.Status(ctx).Active)
	assert.ErrorIs(t, f.m.Skip(), ErrNoSession)
}

func TestManager_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, f.m.Begin())

	assert.True(t, f.m.SetForeground(false))
	assert.False(t, f.m.SetForeground(false))
	st := f.m.Status(ctx)
	assert.False(t, st.Foreground)
	assert.True(t, st.Round.Backgrounded)
	assert.False(t, st.Round.IsClockActive)

	// A session started in the background starts backgrounded.
	_, err = f.m.StartTrack(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, f.m.Status(ctx).Round.Backgrounded)

	assert.True(t, f.m.SetForeground(true))
	st = f.m.Status(ctx)
	assert.True(t, st.Foreground)
	assert.False(t, st.Round.Backgrounded)
}

func TestManager_ResumeStartsFirstRound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, f.m.Resume())
	assert.Equal(t, state.PhaseActive, f.m.Status(ctx).Phase)
}

func TestManager_Notifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stream := &recordingStream{}
	f.m.Notifications().Subscribe(stream)

	_, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return stream.has(notification.KindSession, true) }, time.Second, 5*time.Millisecond)

	rec := settings.DefaultRecord()
	rec.CurrentSongTimer = 20
	rec.IsSongTimerRandom = false
	cfg, err := f.m.ApplySettings(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.FixedSongDuration)
	assert.Eventually(t, func() bool { return stream.has(notification.KindSettings, true) }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.m.Begin())
	assert.Eventually(t, func() bool { return stream.has(notification.KindRound, true) }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.m.End(ctx))
	assert.Eventually(t, func() bool { return stream.has(notification.KindSession, false) }, time.Second, 5*time.Millisecond)
}

func TestManager_SettingsRejected(t *testing.T) {
	f := newFixture(t)

	rec := settings.DefaultRecord()
	rec.CurrentRoundTimer = 99
	_, err := f.m.ApplySettings(context.Background(), rec)
	assert.True(t, errors.Is(err, settings.ErrInvalidSettings))

	cfg, song, rnd := f.m.Settings()
	assert.Equal(t, 10, cfg.FixedRoundDuration)
	assert.Equal(t, settings.Bounds{Min: 1, Max: 60}, song)
	assert.Equal(t, settings.Bounds{Min: 5, Max: 30}, rnd)
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.StartPlaylist(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, f.m.Close(ctx))
	require.NoError(t, f.m.Close(ctx))

	_, err = f.m.StartPlaylist(ctx, "p1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.m.Begin(), ErrNoSession)
}

func TestTimers(t *testing.T) {
	shown := settings.RoundConfig{IsSongTimerDisplayed: true, IsRoundTimerDisplayed: false}

	tests := []struct {
		name     string
		snap     round.Snapshot
		songMsg  string
		roundMsg string
	}{
		{
			name: "awaiting start",
			snap: round.Snapshot{State: round.State{Phase: round.PhaseAwaitingStart}},
		},
		{
			name:    "song running",
			snap:    round.Snapshot{State: round.State{Phase: round.PhasePlaying, SongSecondsRemaining: 12, RoundSecondsRemaining: 8}},
			songMsg: "Will pause in 12 seconds.",
		},
		{
			name:     "between rounds",
			snap:     round.Snapshot{State: round.State{Phase: round.PhasePausedForRound, RoundSecondsRemaining: 7}},
			roundMsg: "Next round starts in 7 seconds.",
		},
		{
			name:    "manually paused mid song",
			snap:    round.Snapshot{State: round.State{Phase: round.PhasePlaying, SongSecondsRemaining: 3, ManuallyPaused: true}},
			songMsg: "Will pause in 3 seconds.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			song, rnd := Timers(tt.snap, shown)
			assert.Equal(t, tt.songMsg, song.Message)
			assert.Equal(t, tt.roundMsg, rnd.Message)
			assert.Equal(t, tt.snap.SongSecondsRemaining, song.Seconds)
			assert.Equal(t, tt.snap.RoundSecondsRemaining, rnd.Seconds)
			assert.True(t, song.Displayed)
			assert.False(t, rnd.Displayed)
		})
	}
}

func TestManager_Volume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := f.m.Status(ctx)
	assert.True(t, st.HasVolume)
	assert.Equal(t, player.DefaultVolume, st.Volume)
	assert.Equal(t, 2, st.VolumeLevel)

	v, err := f.m.SetVolume(ctx, 75)
	require.NoError(t, err)
	assert.Equal(t, 75, v)

	st = f.m.Status(ctx)
	assert.Equal(t, 75, st.Volume)
	assert.Equal(t, 3, st.VolumeLevel)

	_, err = f.m.SetVolume(ctx, 150)
	assert.True(t, errors.Is(err, player.ErrInvalidVolume))
}

// plainAdapter hides the simulator's volume control.
type plainAdapter struct {
	player.Adapter
}

func TestManager_VolumeUnsupported(t *testing.T) {
	clk := clockwork.NewFakeClock()
	store := appsettings.NewStore(&memRepository{},
		settings.Bounds{Min: 1, Max: 60}, settings.Bounds{Min: 5, Max: 30})
	m := NewManager(Config{Round: round.Config{Clock: clk}},
		library.NewProvider(&fakeCatalog{}, nil), plainAdapter{player.NewSimulator(clk, nil)},
		store, lifecycle.NewMonitor())
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	_, err := m.SetVolume(context.Background(), 40)
	assert.True(t, errors.Is(err, ErrVolumeUnsupported))
	assert.False(t, m.Status(context.Background()).HasVolume)
}
