package spotify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/musicalchairs/internal/app/player"
	"github.com/osa030/musicalchairs/internal/domain/track"
)

// MaxQueueURIs is the number of URIs handed to the Connect API in one play request.
const MaxQueueURIs = 100

// DefaultPollInterval is how often the currently playing item is polled.
const DefaultPollInterval = 2 * time.Second

// PlayerConfig represents Connect player configuration.
type PlayerConfig struct {
	DeviceID     string          // Target device (empty: the active device)
	PollInterval time.Duration   // Currently-playing poll interval
	Clock        clockwork.Clock // Nil uses the real clock
}

// Player drives a Spotify Connect device.
//
// The queue is kept locally and handed to the device on the first Play.
// Track changes are detected by polling the currently playing item.
type Player struct {
	client   *spotify.Client
	deviceID *spotify.ID
	clock    clockwork.Clock
	interval time.Duration

	mu       sync.Mutex
	uris     []spotify.URI
	shuffled bool
	started  bool // Queue has been handed to the device
	playing  bool
	current  string // Last seen track ID

	subMu sync.Mutex
	subs  map[string]chan player.Event
}

var (
	_ player.Adapter       = (*Player)(nil)
	_ player.VolumeControl = (*Player)(nil)
)

// NewPlayer creates a Connect player on top of the catalog client.
func NewPlayer(c *Client, cfg PlayerConfig) *Player {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	var deviceID *spotify.ID
	if cfg.DeviceID != "" {
		id := spotify.ID(cfg.DeviceID)
		deviceID = &id
	}

	return &Player{
		client:   c.client,
		deviceID: deviceID,
		clock:    cfg.Clock,
		interval: cfg.PollInterval,
		subs:     make(map[string]chan player.Event),
	}
}

func (p *Player) opts() *spotify.PlayOptions {
	return &spotify.PlayOptions{DeviceID: p.deviceID}
}

// SetQueue replaces the local queue. The device keeps playing its old
// content until the next Play.
func (p *Player) SetQueue(ctx context.Context, tracks []track.Track, shuffled bool) error {
	uris := make([]spotify.URI, 0, len(tracks))
	for _, t := range tracks {
		if t.URI == "" {
			continue
		}
		uris = append(uris, spotify.URI(t.URI))
	}
	if len(uris) > MaxQueueURIs {
		zlog.Warn().Msgf("spotify: queue truncated: count=%d max=%d", len(uris), MaxQueueURIs)
		uris = uris[:MaxQueueURIs]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.uris = uris
	p.shuffled = shuffled
	p.started = false
	p.playing = false
	return nil
}

// Play resumes playback, handing the queue to the device first if needed.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		if err := p.client.PlayOpt(ctx, p.opts()); err != nil {
			return errors.Wrap(markError(err), "failed to resume playback")
		}
		p.playing = true
		return nil
	}

	if len(p.uris) == 0 {
		return player.ErrQueueEmpty
	}
	if err := p.client.ShuffleOpt(ctx, p.shuffled, p.opts()); err != nil {
		// Playback still works in order
		zlog.Warn().Err(err).Msg("spotify: failed to set shuffle")
	}

	opts := p.opts()
	opts.URIs = p.uris
	if err := p.client.PlayOpt(ctx, opts); err != nil {
		return errors.Wrap(markError(err), "failed to start playback")
	}
	p.started = true
	p.playing = true
	zlog.Info().Msgf("spotify: playback started: tracks=%d shuffled=%t", len(p.uris), p.shuffled)
	return nil
}

// Pause pauses playback. The device rejects pausing a paused player, so
// this is a no-op unless playing.
func (p *Player) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return nil
	}
	if err := p.client.PauseOpt(ctx, p.opts()); err != nil {
		return errors.Wrap(markError(err), "failed to pause playback")
	}
	p.playing = false
	return nil
}

// SkipToNext moves to the next track. The device starts playing on next,
// so a paused player is paused again.
func (p *Player) SkipToNext(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return player.ErrQueueEmpty
	}
	if err := p.client.NextOpt(ctx, p.opts()); err != nil {
		return errors.Wrap(markError(err), "failed to skip track")
	}
	if !p.playing {
		if err := p.client.PauseOpt(ctx, p.opts()); err != nil {
			return errors.Wrap(markError(err), "failed to keep playback paused")
		}
	}
	return nil
}

// Stop pauses the device and rewinds the current track.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}

	var errs error
	if p.playing {
		if err := p.client.PauseOpt(ctx, p.opts()); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(markError(err), "failed to pause playback"))
		}
	}
	if err := p.client.SeekOpt(ctx, 0, p.opts()); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(markError(err), "failed to rewind"))
	}
	p.started = false
	p.playing = false
	p.setCurrent(nil)
	return errs
}

// PlaybackPosition returns the device's progress in seconds.
func (p *Player) PlaybackPosition(ctx context.Context) (float64, error) {
	cp, err := p.client.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return 0, errors.Wrap(markError(err), "failed to get currently playing")
	}
	if cp == nil || cp.Item == nil {
		return 0, nil
	}
	return float64(cp.Progress) / 1000, nil
}

// Volume returns the device volume in percent.
func (p *Player) Volume(ctx context.Context) (int, error) {
	state, err := p.client.PlayerState(ctx)
	if err != nil {
		return 0, errors.Wrap(markError(err), "failed to get player state")
	}
	return int(state.Device.Volume), nil
}

// SetVolume sets the device volume in percent.
func (p *Player) SetVolume(ctx context.Context, percent int) error {
	if err := player.ValidateVolume(percent); err != nil {
		return err
	}
	if err := p.client.VolumeOpt(ctx, percent, p.opts()); err != nil {
		return errors.Wrap(markError(err), "failed to set volume")
	}
	return nil
}

// Subscribe returns a channel of track-changed events.
func (p *Player) Subscribe() (<-chan player.Event, func()) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := uuid.New().String()
	ch := make(chan player.Event, 8)
	p.subs[id] = ch

	return ch, func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs, id)
	}
}

// Run polls the currently playing item until ctx is done.
func (p *Player) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	zlog.Debug().Msgf("spotify: poller started: interval=%v", p.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := p.poll(ctx); err != nil {
				zlog.Debug().Err(err).Msg("spotify: poll failed")
			}
		}
	}
}

func (p *Player) poll(ctx context.Context) error {
	cp, err := p.client.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return markError(err)
	}

	var t *track.Track
	if cp != nil && cp.Item != nil {
		t = convertTrack(cp.Item)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.setCurrent(t)
	return nil
}

// setCurrent must be called with p.mu held.
func (p *Player) setCurrent(t *track.Track) {
	id := ""
	if t != nil {
		id = t.ID
	}
	if id == p.current {
		return
	}
	p.current = id

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- player.Event{Track: t}:
		default:
			// Subscriber is behind, drop
		}
	}
}
