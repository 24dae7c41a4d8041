// Package clock provides the suspendable one-second tick source.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"
)

// DefaultInterval is the tick interval of a round.
const DefaultInterval = time.Second

// Ticker emits ticks at a fixed interval while active.
//
// Suspending stops the underlying ticker; resuming starts a fresh one, so
// ticks missed while suspended are never delivered afterwards.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration

	mu        sync.Mutex
	suspended bool
	epoch     uint64 // Bumped on every suspend/resume
	wake      chan struct{}
}

// New creates a ticker. A nil clock uses the real clock.
func New(clock clockwork.Clock, interval time.Duration) *Ticker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		clock:    clock,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Suspend stops tick delivery.
func (t *Ticker) Suspend() {
	t.setSuspended(true)
}

// Resume restarts tick delivery from a fresh interval.
func (t *Ticker) Resume() {
	t.setSuspended(false)
}

// Suspended reports whether delivery is suspended.
func (t *Ticker) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspended
}

func (t *Ticker) setSuspended(v bool) {
	t.mu.Lock()
	if t.suspended == v {
		t.mu.Unlock()
		return
	}
	t.suspended = v
	t.epoch++
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Ticker) current() (bool, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspended, t.epoch
}

// Run calls fn for every tick, in order, until ctx is done.
// fn runs on the Run goroutine; a slow fn delays but never queues ticks.
func (t *Ticker) Run(ctx context.Context, fn func(time.Time)) error {
	for {
		suspended, epoch := t.current()
		if suspended {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.wake:
				continue
			}
		}

		if err := t.runEpoch(ctx, epoch, fn); err != nil {
			return err
		}
	}
}

// runEpoch ticks until the epoch changes or ctx is done.
func (t *Ticker) runEpoch(ctx context.Context, epoch uint64, fn func(time.Time)) error {
	tk := t.clock.NewTicker(t.interval)
	defer tk.Stop()
	zlog.Debug().Msgf("clock: ticker started: interval=%v", t.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
			if _, e := t.current(); e != epoch {
				return nil
			}
		case now := <-tk.Chan():
			// Drop a tick that raced with a suspend.
			if suspended, e := t.current(); suspended || e != epoch {
				return nil
			}
			fn(now)
		}
	}
}
