package schedule_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances instantly to whatever deadline After asks for.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 250*int(time.Millisecond), time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type recorder struct {
	mu   sync.Mutex
	runs map[string][]int
}

func (r *recorder) record(name string, elapsed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string][]int)
	}
	r.runs[name] = append(r.runs[name], elapsed)
}

func TestAddRejectsInvalidInterval(t *testing.T) {
	loop := schedule.New("test", func(context.Context, string) {})

	err := loop.Add(0, "a")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))
	assert.Empty(t, loop.Intervals())
}

func TestTickRunsDueBuckets(t *testing.T) {
	var elapsed int
	rec := &recorder{}
	loop := schedule.New("test", func(_ context.Context, name string) {
		rec.record(name, elapsed)
	})

	require.NoError(t, loop.Add(5, "five-a"))
	require.NoError(t, loop.Add(5, "five-b"))
	require.NoError(t, loop.Add(3, "three"))

	for elapsed = 0; elapsed <= 15; elapsed++ {
		loop.Tick(context.Background(), elapsed)
	}

	assert.Equal(t, []int{0, 5, 10, 15}, rec.runs["five-a"])
	assert.Equal(t, []int{0, 5, 10, 15}, rec.runs["five-b"])
	assert.Equal(t, []int{0, 3, 6, 9, 12, 15}, rec.runs["three"])
	assert.Equal(t, []int{3, 5}, loop.Intervals())
}

func TestTickCatchesUpAfterSkippedSecond(t *testing.T) {
	var count int32
	loop := schedule.New("test", func(context.Context, int) {
		atomic.AddInt32(&count, 1)
	})
	require.NoError(t, loop.Add(5, 1))

	ctx := context.Background()
	assert.Equal(t, 1, loop.Tick(ctx, 0))
	assert.Equal(t, 0, loop.Tick(ctx, 4))

	// Second 5 never happened; 6 is more than one interval after 0.
	assert.True(t, loop.Due(5, 6))
	assert.Equal(t, 1, loop.Tick(ctx, 6))
	assert.False(t, loop.Due(5, 7))
	assert.Equal(t, 1, loop.Tick(ctx, 10))
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestTickWaitsForAllItems(t *testing.T) {
	var finished int32
	loop := schedule.New("test", func(_ context.Context, d time.Duration) {
		time.Sleep(d)
		atomic.AddInt32(&finished, 1)
	})
	for i := 0; i < 4; i++ {
		require.NoError(t, loop.Add(1, 50*time.Millisecond))
	}

	start := time.Now()
	loop.Tick(context.Background(), 0)

	assert.Equal(t, int32(4), atomic.LoadInt32(&finished))
	// Items run concurrently; sequentially they would take 200ms.
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestTickSurvivesPanickingItem(t *testing.T) {
	var ran int32
	loop := schedule.New("test", func(_ context.Context, fail bool) {
		if fail {
			panic("sensor exploded")
		}
		atomic.AddInt32(&ran, 1)
	})
	require.NoError(t, loop.Add(1, true))
	require.NoError(t, loop.Add(1, false))

	assert.Equal(t, 1, loop.Tick(context.Background(), 0))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestObserver(t *testing.T) {
	var services []schedule.Service
	loop := schedule.New("files", func(context.Context, string) {},
		schedule.WithObserver(func(s schedule.Service) {
			services = append(services, s)
		}))
	require.NoError(t, loop.Add(2, "a"))
	require.NoError(t, loop.Add(2, "b"))

	loop.Tick(context.Background(), 0)
	loop.Tick(context.Background(), 1)
	loop.Tick(context.Background(), 2)

	require.Len(t, services, 2)
	assert.Equal(t, "files", services[1].Loop)
	assert.Equal(t, 2, services[1].Interval)
	assert.Equal(t, 2, services[1].Elapsed)
	assert.Equal(t, 2, services[1].Items)
}

func TestRunWithFakeClock(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []time.Time
	loop := schedule.New("test", func(context.Context, string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, clock.Now())
		if len(seen) == 3 {
			cancel()
		}
	}, schedule.WithClock(clock))
	require.NoError(t, loop.Add(2, "a"))

	loop.Run(ctx)

	require.Len(t, seen, 3)
	// The first tick happens immediately, later ones on whole seconds.
	assert.Equal(t, 250*int(time.Millisecond), seen[0].Nanosecond())
	assert.Equal(t, 0, seen[1].Nanosecond())
	assert.Equal(t, 2*time.Second, seen[2].Sub(seen[1]))
}

func TestStartStop(t *testing.T) {
	loop := schedule.New("test", func(context.Context, string) {})
	require.NoError(t, loop.Add(1, "a"))

	require.NoError(t, loop.Start(context.Background()))
	assert.True(t, loop.Running())

	err := loop.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidOperation))

	loop.Stop()
	assert.False(t, loop.Running())

	// Stopping twice is harmless.
	loop.Stop()
}

func TestRemove(t *testing.T) {
	rec := &recorder{}
	var elapsed int
	loop := schedule.New("test", func(_ context.Context, name string) {
		rec.record(name, elapsed)
	})

	require.NoError(t, loop.Add(5, "five-a"))
	require.NoError(t, loop.Add(5, "five-b"))
	require.NoError(t, loop.Add(3, "three"))

	assert.Equal(t, 1, loop.Remove(5, func(s string) bool { return s == "five-a" }))
	assert.Equal(t, []string{"five-b"}, loop.Items(5))

	assert.Equal(t, 1, loop.Remove(3, func(string) bool { return true }))
	assert.Equal(t, []int{5}, loop.Intervals())
	assert.Zero(t, loop.Remove(7, func(string) bool { return true }))

	loop.Tick(context.Background(), 0)
	assert.Equal(t, []int{0}, rec.runs["five-b"])
	assert.Empty(t, rec.runs["five-a"])
	assert.Empty(t, rec.runs["three"])
}
