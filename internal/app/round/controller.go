package round

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicalchairs/internal/app/clock"
	"github.com/osa030/musicalchairs/internal/app/player"
)

// Errors
var (
	ErrClosed           = errors.New("round controller is closed")
	ErrTransportFailure = errors.New("transport command failed")
)

// DefaultCommandTimeout bounds a single adapter call.
const DefaultCommandTimeout = 5 * time.Second

// Config holds controller configuration.
type Config struct {
	TickInterval   time.Duration   // Defaults to clock.DefaultInterval
	CommandTimeout time.Duration   // Per adapter call
	Clock          clockwork.Clock // Nil uses the real clock
	RandSource     rand.Source     // Nil seeds from the wall clock
}

type event struct {
	fn   func()
	done chan struct{} // Closed once fn ran and the snapshot was published
}

type result struct {
	cmd Command
	err error
}

// Controller runs a Machine on a single goroutine. Ticks, user commands,
// and track-changed events are processed one at a time to completion.
// Commands the machine issues are applied to the adapter by a separate
// worker, strictly in order and one at a time, so a slow adapter never
// delays tick arithmetic.
type Controller struct {
	machine *Machine
	adapter player.Adapter
	ticker  *clock.Ticker
	clock   clockwork.Clock
	config  Config

	events  chan event
	results chan result
	changes chan Snapshot

	tracks      <-chan player.Event
	unsubscribe func()

	snapMu sync.RWMutex
	snap   Snapshot

	// Transport queue
	pendingMu sync.Mutex
	pending   []Command
	wake      chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewController creates a controller and starts its goroutines.
// The machine starts in PhaseAwaitingStart; call Start to begin the first round.
func NewController(adapter player.Adapter, source ConfigSource, config Config) *Controller {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		adapter: adapter,
		ticker:  clock.New(config.Clock, config.TickInterval),
		clock:   config.Clock,
		config:  config,
		events:  make(chan event),
		results: make(chan result, 1),
		changes: make(chan Snapshot, 16),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.machine = NewMachine(source, NewDrawer(config.RandSource), DispatcherFunc(c.enqueue))
	c.snap = c.machine.Snapshot(c.clock.Now())
	c.tracks, c.unsubscribe = adapter.Subscribe()

	c.wg.Add(3)
	go c.loop()
	go c.transport()
	go func() {
		defer c.wg.Done()
		_ = c.ticker.Run(ctx, c.onTick)
	}()

	return c
}

// Changes returns the snapshot stream. A snapshot is published after every
// processed event; when the consumer falls behind, snapshots are dropped.
// The channel is closed by Close.
func (c *Controller) Changes() <-chan Snapshot {
	return c.changes
}

// Snapshot returns the latest published snapshot.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Start begins the first round.
func (c *Controller) Start() error {
	return c.submit(c.machine.Start)
}

// Pause is the user pause.
func (c *Controller) Pause() error {
	return c.submit(c.machine.Pause)
}

// Resume undoes a user pause.
func (c *Controller) Resume() error {
	return c.submit(c.machine.Resume)
}

// Skip moves to the next track.
func (c *Controller) Skip() error {
	return c.submit(c.machine.Skip)
}

// SetForeground applies a host lifecycle transition. Going to the
// background suspends the clock before the machine hears about it, so no
// late tick can reach an active machine; coming back restores the machine
// first and then the clock.
func (c *Controller) SetForeground(foreground bool) error {
	if foreground {
		if err := c.submit(c.machine.Foreground); err != nil {
			return err
		}
		c.ticker.Resume()
		return nil
	}
	c.ticker.Suspend()
	return c.submit(c.machine.Background)
}

// Close tears the session down: the clock stops, pending commands are
// dropped, the player is stopped and its queue cleared. Results of
// commands still in flight are ignored. Close is idempotent.
func (c *Controller) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.ticker.Suspend()
		c.cancel()
		c.wg.Wait()
		c.unsubscribe()

		c.pendingMu.Lock()
		dropped := len(c.pending)
		c.pending = nil
		c.pendingMu.Unlock()
		if dropped > 0 {
			zlog.Debug().Msgf("round: dropped pending commands on close: count=%d", dropped)
		}

		stopCtx, cancel := context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
		if err := c.adapter.Stop(stopCtx); err != nil {
			c.closeErr = errors.Mark(errors.Wrap(err, "failed to stop player"), ErrTransportFailure)
		}
		if err := c.adapter.SetQueue(stopCtx, nil, false); err != nil && c.closeErr == nil {
			c.closeErr = errors.Mark(errors.Wrap(err, "failed to clear queue"), ErrTransportFailure)
		}

		close(c.changes)
		zlog.Info().Msg("round: controller closed")
	})
	return c.closeErr
}

// submit runs fn on the loop and waits for it to complete.
func (c *Controller) submit(fn func()) error {
	done := make(chan struct{})
	select {
	case c.events <- event{fn: fn, done: done}:
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Controller) onTick(time.Time) {
	select {
	case c.events <- event{fn: c.machine.Tick}:
	case <-c.ctx.Done():
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()

	tracks := c.tracks
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			ev.fn()
			c.publish()
			if ev.done != nil {
				close(ev.done)
			}
			continue
		case ev, ok := <-tracks:
			if !ok {
				tracks = nil
				continue
			}
			c.machine.TrackChanged(ev.Track)
		case res := <-c.results:
			if res.err == nil {
				continue
			}
			c.machine.CommandFailed(res.cmd, res.err)
		}
		c.publish()
	}
}

func (c *Controller) publish() {
	snap := c.machine.Snapshot(c.clock.Now())

	c.snapMu.Lock()
	changed := !sameSnapshot(c.snap, snap)
	c.snap = snap
	c.snapMu.Unlock()

	if !changed {
		return
	}
	select {
	case c.changes <- snap:
	default:
		zlog.Debug().Msg("round: change subscriber is behind, dropping snapshot")
	}
}

func sameSnapshot(a, b Snapshot) bool {
	if a.State != b.State {
		return false
	}
	if a.Track == nil || b.Track == nil {
		return a.Track == b.Track
	}
	return a.Track.ID == b.Track.ID
}

// enqueue is the machine's dispatcher. It runs on the loop and never blocks.
func (c *Controller) enqueue(cmd Command) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, cmd)
	c.pendingMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) dequeue() (Command, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if len(c.pending) == 0 {
		return Command{}, false
	}
	cmd := c.pending[0]
	c.pending = c.pending[1:]
	return cmd, true
}

// transport applies commands to the adapter one at a time.
func (c *Controller) transport() {
	defer c.wg.Done()

	for {
		cmd, ok := c.dequeue()
		if !ok {
			select {
			case <-c.ctx.Done():
				return
			case <-c.wake:
				continue
			}
		}

		err := c.apply(cmd)
		if c.ctx.Err() != nil {
			return
		}
		select {
		case c.results <- result{cmd: cmd, err: err}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Controller) apply(cmd Command) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.config.CommandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case CommandPlay:
		err = c.adapter.Play(ctx)
	case CommandPause:
		err = c.adapter.Pause(ctx)
	case CommandSkip:
		err = c.adapter.SkipToNext(ctx)
	default:
		err = errors.Newf("unknown command %d", cmd.Type)
	}
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "%s (seq=%d)", cmd.Type, cmd.Seq), ErrTransportFailure)
	}
	zlog.Debug().Msgf("round: command applied: command=%s seq=%d", cmd.Type, cmd.Seq)
	return nil
}
