package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featureflow/logger"
)

// fakeClock drives timeNow and sleep so window behaviour runs instantly.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func installFakeClock(t *testing.T) *fakeClock {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	timeNow = func() time.Time { return clock.now }
	sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.slept = append(clock.slept, d)
		clock.now = clock.now.Add(d)
		return nil
	}
	t.Cleanup(func() {
		timeNow = time.Now
		sleep = sleepContext
	})
	return clock
}

func TestWindowLimiterSpreadsCallsAcrossWindows(t *testing.T) {
	clock := installFakeClock(t)
	const maxRPM = 3
	const calls = 10

	limiter := NewWindow(maxRPM, "test", logger.Logger())
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < calls; i++ {
		require.NoError(t, limiter.Acquire(ctx))
		stamps = append(stamps, clock.now)
	}

	windows := map[int64]int{}
	origin := stamps[0]
	for _, ts := range stamps {
		windows[int64(ts.Sub(origin)/time.Minute)]++
	}

	assert.GreaterOrEqual(t, len(windows), (calls+maxRPM-1)/maxRPM)
	for idx, n := range windows {
		assert.LessOrEqualf(t, n, maxRPM, "window %d admitted %d calls", idx, n)
	}
	assert.Len(t, clock.slept, 3)
	assert.Equal(t, time.Minute, clock.slept[0])
}

func TestWindowLimiterResetsAfterIdleWindow(t *testing.T) {
	clock := installFakeClock(t)
	limiter := NewWindow(2, "test", logger.Logger())
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	require.NoError(t, limiter.Acquire(ctx))

	clock.now = clock.now.Add(61 * time.Second)
	require.NoError(t, limiter.Acquire(ctx))

	assert.Empty(t, clock.slept, "a new window should not require waiting")
	assert.Equal(t, 1, limiter.count, "idle window should restart the count")
}

func TestWindowLimiterWaitsOnlyRemainder(t *testing.T) {
	clock := installFakeClock(t)
	limiter := NewWindow(1, "test", logger.Logger())
	ctx := context.Background()

	require.NoError(t, limiter.Acquire(ctx))
	clock.now = clock.now.Add(45 * time.Second)
	require.NoError(t, limiter.Acquire(ctx))

	require.Len(t, clock.slept, 1)
	assert.Equal(t, 15*time.Second, clock.slept[0])
}

func TestWindowLimiterHonoursCancellation(t *testing.T) {
	installFakeClock(t)
	limiter := NewWindow(1, "test", logger.Logger())

	require.NoError(t, limiter.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := limiter.Acquire(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIntervalLimiterPacing(t *testing.T) {
	// 600 rpm is one request every 100ms.
	limiter := NewInterval(600, "test", logger.Logger())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(ctx))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 180*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New("burst", 60, "test", nil)
	assert.Error(t, err)

	_, err = New(ModeWindow, 0, "test", nil)
	assert.Error(t, err)

	l, err := New(ModeInterval, 60, "test", nil)
	require.NoError(t, err)
	assert.IsType(t, &IntervalLimiter{}, l)
}
