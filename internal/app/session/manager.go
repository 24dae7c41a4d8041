// Package session provides the session manager. A session is one queue of
// tracks driven by one round controller.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

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

var (
	ErrNoSession     = errors.New("no active session")
	ErrEmptyPlaylist = errors.New("nothing to play")
	ErrClosed        = errors.New("session manager is closed")

	ErrVolumeUnsupported = errors.New("player has no volume control")
)

// Config holds session manager configuration.
type Config struct {
	Round round.Config
}

// current is one running session.
type current struct {
	state      *state.Manager
	controller *round.Controller
	forwarded  chan struct{}
}

// Manager owns at most one session at a time and fans its changes out to
// notification subscribers.
type Manager struct {
	// mu serializes session start and end.
	mu sync.Mutex

	config   Config
	clock    clockwork.Clock
	provider *library.Provider
	adapter  player.Adapter
	store    *appsettings.Store
	monitor  *lifecycle.Monitor
	notify   *notification.Manager

	cur atomic.Pointer[current]

	knownMu sync.RWMutex
	known   map[string]playlist.Playlist // Last fetched library playlists by ID

	stopLifecycle func()
	settingsSub   string
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	closed        bool
}

// NewManager creates a session manager with no session.
func NewManager(
	cfg Config,
	provider *library.Provider,
	adapter player.Adapter,
	store *appsettings.Store,
	monitor *lifecycle.Monitor,
) *Manager {
	if cfg.Round.Clock == nil {
		cfg.Round.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:   cfg,
		clock:    cfg.Round.Clock,
		provider: provider,
		adapter:  adapter,
		store:    store,
		monitor:  monitor,
		notify:   notification.NewManager(),
		known:    make(map[string]playlist.Playlist),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.stopLifecycle = monitor.OnChange(m.onLifecycle)

	updates, id := store.Subscribe()
	m.settingsSub = id
	m.wg.Add(1)
	go m.settingsLoop(updates)

	return m
}

// Notifications returns the notification manager.
func (m *Manager) Notifications() *notification.Manager {
	return m.notify
}

// StartPlaylist replaces the current session with one that plays the
// playlist's tracks. The first round starts with Begin.
func (m *Manager) StartPlaylist(ctx context.Context, playlistID string) (state.Source, error) {
	tracks, err := m.provider.PlaylistTracks(ctx, playlistID)
	if err != nil {
		return state.Source{}, err
	}

	source := state.Source{Kind: state.SourcePlaylist, ID: playlistID, TrackCount: len(tracks)}
	m.knownMu.RLock()
	if p, ok := m.known[playlistID]; ok {
		source.Name = p.Name
		source.URL = p.URL
	}
	m.knownMu.RUnlock()

	return source, m.start(ctx, source, tracks)
}

// StartTrack replaces the current session with one that plays a single track.
func (m *Manager) StartTrack(ctx context.Context, trackID string) (state.Source, error) {
	t, err := m.provider.Track(ctx, trackID)
	if err != nil {
		return state.Source{}, err
	}
	source := state.Source{Kind: state.SourceTrack, ID: t.ID, Name: t.Title, TrackCount: 1}
	return source, m.start(ctx, source, []track.Track{*t})
}

func (m *Manager) start(ctx context.Context, source state.Source, tracks []track.Track) error {
	if len(tracks) == 0 {
		return errors.Wrapf(ErrEmptyPlaylist, "%s %s has no tracks", source.Kind, source.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if err := m.endLocked(ctx); err != nil {
		zlog.Warn().Err(err).Msg("session: previous session did not stop cleanly")
	}

	cfg := m.store.Snapshot()
	if err := m.adapter.SetQueue(ctx, tracks, cfg.IsShuffled); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to set queue"), round.ErrTransportFailure)
	}

	cur := &current{
		state:      state.New(uuid.New().String(), source, m.clock.Now()),
		controller: round.NewController(m.adapter, m.store, m.config.Round),
		forwarded:  make(chan struct{}),
	}
	m.cur.Store(cur)
	go m.forward(cur)

	if m.monitor.Current() == lifecycle.StateBackground {
		if err := cur.controller.SetForeground(false); err != nil {
			zlog.Warn().Err(err).Msg("session: failed to apply background state")
		}
	}

	zlog.Info().Msgf("session: started: id=%s source=%s:%s tracks=%d shuffled=%t",
		cur.state.GetSessionID(), source.Kind, source.ID, len(tracks), cfg.IsShuffled)
	m.broadcastSession(cur)
	return nil
}

// Begin starts the first round of the current session.
func (m *Manager) Begin() error {
	return m.command((*round.Controller).Start)
}

// Pause is the user pause.
func (m *Manager) Pause() error {
	return m.command((*round.Controller).Pause)
}

// Resume undoes a user pause.
func (m *Manager) Resume() error {
	return m.command((*round.Controller).Resume)
}

// Skip moves to the next track.
func (m *Manager) Skip() error {
	return m.command((*round.Controller).Skip)
}

func (m *Manager) command(fn func(*round.Controller) error) error {
	cur := m.cur.Load()
	if cur == nil {
		return ErrNoSession
	}
	if err := fn(cur.controller); err != nil {
		if errors.Is(err, round.ErrClosed) {
			return ErrNoSession
		}
		return err
	}
	// Resume and Skip start the first round too.
	if cur.controller.Snapshot().Phase != round.PhaseAwaitingStart && cur.state.Activate(m.clock.Now()) {
		zlog.Info().Msgf("session: first round started: id=%s", cur.state.GetSessionID())
		m.broadcastSession(cur)
	}
	return nil
}

// End stops the current session: the clock stops, the player stops and
// its queue is cleared.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur.Load() == nil {
		return ErrNoSession
	}
	return m.endLocked(ctx)
}

func (m *Manager) endLocked(ctx context.Context) error {
	cur := m.cur.Swap(nil)
	if cur == nil {
		return nil
	}
	err := cur.controller.Close(ctx)
	<-cur.forwarded
	cur.state.End(m.clock.Now())
	zlog.Info().Msgf("session: ended: id=%s", cur.state.GetSessionID())
	m.broadcastSession(nil)
	return err
}

// SetForeground reports a host lifecycle transition. It returns false when
// the host was already in that state.
func (m *Manager) SetForeground(foreground bool) bool {
	s := lifecycle.StateBackground
	if foreground {
		s = lifecycle.StateForeground
	}
	return m.monitor.Report(s)
}

// SetVolume sets the player's output volume in percent. It works with or
// without a session.
func (m *Manager) SetVolume(ctx context.Context, percent int) (int, error) {
	vc, ok := m.adapter.(player.VolumeControl)
	if !ok {
		return 0, ErrVolumeUnsupported
	}
	if err := vc.SetVolume(ctx, percent); err != nil {
		return 0, err
	}
	zlog.Info().Msgf("session: volume set: percent=%d", percent)
	return percent, nil
}

func (m *Manager) onLifecycle(s lifecycle.State) {
	cur := m.cur.Load()
	if cur == nil {
		return
	}
	if err := cur.controller.SetForeground(s == lifecycle.StateForeground); err != nil && !errors.Is(err, round.ErrClosed) {
		zlog.Warn().Err(err).Msgf("session: failed to apply lifecycle state: state=%s", s)
	}
}

// Playlists returns the library playlists, falling back to the cached list.
func (m *Manager) Playlists(ctx context.Context) ([]playlist.Playlist, error) {
	playlists, err := m.provider.FetchLibraryPlaylists(ctx)
	if len(playlists) > 0 {
		m.knownMu.Lock()
		for _, p := range playlists {
			m.known[p.ID] = p
		}
		m.knownMu.Unlock()
	}
	return playlists, err
}

// Settings returns the live settings and the configured bounds.
func (m *Manager) Settings() (cfg settings.RoundConfig, songBounds, roundBounds settings.Bounds) {
	songBounds, roundBounds = m.store.Bounds()
	return m.store.Snapshot(), songBounds, roundBounds
}

// ApplySettings validates and persists a record. Running rounds pick it up
// at their next reset point.
func (m *Manager) ApplySettings(ctx context.Context, rec settings.Record) (settings.RoundConfig, error) {
	return m.store.Apply(ctx, rec)
}

// UpdateSettings applies a change derived from the live record. The read
// and the write happen under the store's writer lock.
func (m *Manager) UpdateSettings(ctx context.Context, fn func(settings.Record) (settings.Record, error)) (settings.RoundConfig, error) {
	return m.store.Update(ctx, fn)
}

// Close ends the current session and stops all background work.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	err := m.endLocked(ctx)
	m.mu.Unlock()

	m.stopLifecycle()
	m.store.Unsubscribe(m.settingsSub)
	m.cancel()
	m.wg.Wait()
	m.notify.Close()
	return err
}

func (m *Manager) forward(cur *current) {
	defer close(cur.forwarded)
	for snap := range cur.controller.Changes() {
		m.notify.Broadcast(notification.Notification{
			Kind:      notification.KindRound,
			SessionID: cur.state.GetSessionID(),
			Round:     snap,
			Settings:  m.store.Snapshot(),
			Active:    true,
			At:        snap.At,
		})
	}
}

func (m *Manager) settingsLoop(updates <-chan settings.RoundConfig) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case cfg := <-updates:
			n := notification.Notification{
				Kind:     notification.KindSettings,
				Settings: cfg,
				At:       m.clock.Now(),
			}
			if cur := m.cur.Load(); cur != nil {
				n.SessionID = cur.state.GetSessionID()
				n.Round = cur.controller.Snapshot()
				n.Active = true
			}
			m.notify.Broadcast(n)
		}
	}
}

func (m *Manager) broadcastSession(cur *current) {
	n := notification.Notification{
		Kind:     notification.KindSession,
		Settings: m.store.Snapshot(),
		At:       m.clock.Now(),
	}
	if cur != nil {
		n.SessionID = cur.state.GetSessionID()
		n.Round = cur.controller.Snapshot()
		n.Active = true
	}
	m.notify.Broadcast(n)
}
