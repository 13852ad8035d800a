// Package schedule runs items grouped by interval once per wall-clock
// second. Every second the loop works out which intervals are due, runs
// all items of a due interval concurrently, waits for them, and then
// sleeps to the top of the next second.
package schedule

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
)

// Service describes one serviced interval bucket.
type Service struct {
	Loop     string
	Interval int
	Elapsed  int
	Items    int
	Started  time.Time
	Duration time.Duration
}

// Observer is called after every serviced bucket.
type Observer func(Service)

type options struct {
	clock    Clock
	observer Observer
}

// Option configures a Loop.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithObserver registers an observer for serviced buckets.
func WithObserver(fn Observer) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// Loop services items bucketed by interval in seconds.
type Loop[T any] struct {
	name     string
	run      func(ctx context.Context, item T)
	clock    Clock
	observer Observer
	log      logger.Logger

	mu      sync.Mutex
	buckets map[int][]T
	order   []int
	lastRun map[int]int

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a loop that calls run for every item of a due bucket.
func New[T any](name string, run func(ctx context.Context, item T), opts ...Option) *Loop[T] {
	o := options{clock: WallClock}
	for _, opt := range opts {
		opt(&o)
	}

	return &Loop[T]{
		name:     name,
		run:      run,
		clock:    o.clock,
		observer: o.observer,
		log:      logger.WithComponent(name),
		buckets:  make(map[int][]T),
		lastRun:  make(map[int]int),
	}
}

// Add appends item to the bucket for interval. Buckets are serviced in
// the order they were first created.
func (l *Loop[T]) Add(interval int, item T) error {
	if interval < 1 {
		return errors.New().WithData(errors.ErrInvalidInterval, interval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.buckets[interval]; !ok {
		l.order = append(l.order, interval)
	}
	l.buckets[interval] = append(l.buckets[interval], item)

	return nil
}

// Remove drops the items of the bucket for interval that match and
// returns how many were dropped. An emptied bucket is deleted.
func (l *Loop[T]) Remove(interval int, match func(T) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := l.buckets[interval]
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if !match(item) {
			kept = append(kept, item)
		}
	}

	if len(kept) == 0 {
		delete(l.buckets, interval)
		delete(l.lastRun, interval)
		l.order = slices.DeleteFunc(l.order, func(i int) bool { return i == interval })
	} else {
		l.buckets[interval] = kept
	}

	return len(items) - len(kept)
}

// Items returns a copy of the bucket for interval.
func (l *Loop[T]) Items(interval int) []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]T, len(l.buckets[interval]))
	copy(items, l.buckets[interval])

	return items
}

// Intervals returns the bucket intervals in ascending order.
func (l *Loop[T]) Intervals() []int {
	l.mu.Lock()
	defer l.mu.Unlock()

	intervals := make([]int, len(l.order))
	copy(intervals, l.order)
	sort.Ints(intervals)

	return intervals
}

// Due reports whether interval should be serviced at elapsed seconds.
// Besides the plain modulo check, a bucket that has not run for more
// than one interval is due, so a second skipped by clock jitter is
// caught up on the next tick.
func (l *Loop[T]) Due(interval, elapsed int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return due(interval, elapsed, l.lastRun[interval])
}

func due(interval, elapsed, lastRun int) bool {
	return elapsed%interval == 0 || elapsed-lastRun > interval
}

// Tick services every bucket due at elapsed seconds and returns how many
// buckets ran. It blocks until all items of every due bucket finished.
func (l *Loop[T]) Tick(ctx context.Context, elapsed int) int {
	l.mu.Lock()
	order := make([]int, len(l.order))
	copy(order, l.order)
	l.mu.Unlock()

	serviced := 0
	for _, interval := range order {
		l.mu.Lock()
		if !due(interval, elapsed, l.lastRun[interval]) {
			l.mu.Unlock()
			continue
		}
		last := l.lastRun[interval]
		l.lastRun[interval] = elapsed
		items := make([]T, len(l.buckets[interval]))
		copy(items, l.buckets[interval])
		l.mu.Unlock()

		l.log.Debug().
			Int("interval", interval).
			Int("last_run_ago", elapsed-last).
			Int("items", len(items)).
			Msg("Running bucket")

		started := l.clock.Now()
		l.runAll(ctx, items)
		serviced++

		if l.observer != nil {
			l.observer(Service{
				Loop:     l.name,
				Interval: interval,
				Elapsed:  elapsed,
				Items:    len(items),
				Started:  started,
				Duration: l.clock.Now().Sub(started),
			})
		}
	}

	return serviced
}

// runAll runs every item in its own goroutine and waits for all of them.
func (l *Loop[T]) runAll(ctx context.Context, items []T) {
	var wg sync.WaitGroup
	wg.Add(len(items))

	for _, item := range items {
		go func(item T) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l.log.Error().Interface("panic", r).Msg("Item panicked during tick")
				}
			}()
			l.run(ctx, item)
		}(item)
	}

	wg.Wait()
}

// Run blocks, ticking once per second, until ctx is cancelled. An
// in-flight tick is allowed to finish.
func (l *Loop[T]) Run(ctx context.Context) {
	start := l.clock.Now().Unix()

	for {
		if ctx.Err() != nil {
			return
		}

		elapsed := int(l.clock.Now().Unix() - start)
		l.Tick(ctx, elapsed)

		select {
		case <-ctx.Done():
			return
		case <-l.clock.After(untilNextSecond(l.clock.Now())):
		}
	}
}

// Start runs the loop in the background.
func (l *Loop[T]) Start(ctx context.Context) error {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.done != nil {
		return errors.New().WithMessage(errors.ErrInvalidOperation, l.name+" loop already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		l.log.Info().Msg("Starting")
		l.Run(ctx)
		l.log.Info().Msg("Stopped")
	}(l.done)

	return nil
}

// Stop cancels the loop and waits for it to return. Stopping a loop that
// is not running is a no-op.
func (l *Loop[T]) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.done == nil {
		return
	}

	l.log.Info().Msg("Stopping")
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}

// Running reports whether the background loop is active.
func (l *Loop[T]) Running() bool {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.done == nil {
		return false
	}

	select {
	case <-l.done:
		return false
	default:
		return true
	}
}
