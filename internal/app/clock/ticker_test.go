package clock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTicker(t *testing.T, tk *Ticker) (<-chan time.Time, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	ticks := make(chan time.Time, 100)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tk.Run(ctx, func(now time.Time) { ticks <- now })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ticks, cancel
}

func waitForTicker(t *testing.T, fc *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
}

func receiveTick(t *testing.T, ticks <-chan time.Time) time.Time {
	t.Helper()
	select {
	case now := <-ticks:
		return now
	case <-time.After(time.Second):
		t.Fatal("expected a tick")
		return time.Time{}
	}
}

func assertNoTick(t *testing.T, ticks <-chan time.Time) {
	t.Helper()
	select {
	case now := <-ticks:
		t.Fatalf("unexpected tick at %v", now)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTicker_EmitsOncePerInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := New(fc, time.Second)
	ticks, _ := startTicker(t, tk)

	waitForTicker(t, fc)

	var last time.Time
	for i := 0; i < 3; i++ {
		fc.Advance(time.Second)
		now := receiveTick(t, ticks)
		assert.True(t, now.After(last), "ticks must arrive in wall-clock order")
		last = now
	}
	assertNoTick(t, ticks)
}

func TestTicker_SuspendDropsBacklog(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := New(fc, time.Second)
	ticks, _ := startTicker(t, tk)

	waitForTicker(t, fc)
	fc.Advance(time.Second)
	receiveTick(t, ticks)

	tk.Suspend()
	assert.True(t, tk.Suspended())

	// Let the run loop stop its ticker before time moves.
	time.Sleep(50 * time.Millisecond)

	fc.Advance(100 * time.Second)
	assertNoTick(t, ticks)

	tk.Resume()
	waitForTicker(t, fc)
	assertNoTick(t, ticks)

	fc.Advance(time.Second)
	receiveTick(t, ticks)
	assertNoTick(t, ticks)
}

func TestTicker_StopsOnCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tk := New(fc, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- tk.Run(ctx, func(time.Time) {})
	}()

	waitForTicker(t, fc)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNew_Defaults(t *testing.T) {
	tk := New(nil, 0)
	assert.Equal(t, DefaultInterval, tk.interval)
	assert.NotNil(t, tk.clock)
	assert.False(t, tk.Suspended())
}
