package datafile

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
	"codeberg.org/mutker/cdc/internal/schedule"
)

// Scheduler runs every writer at its sampling time. Writers sharing a
// sampling time collect concurrently.
type Scheduler struct {
	mu      sync.Mutex
	writers []*Writer
	loop    *schedule.Loop[*Writer]
	logger  logger.Logger
}

// NewScheduler creates an empty scheduler. Options configure its loop.
func NewScheduler(opts ...schedule.Option) *Scheduler {
	s := &Scheduler{logger: logger.WithComponent("datafile_scheduler")}
	s.loop = schedule.New("datafiles", s.collect, opts...)

	return s
}

func (s *Scheduler) collect(ctx context.Context, w *Writer) {
	if err := w.CollectData(ctx, time.Time{}); err != nil {
		s.logger.Error().Err(err).Str("file", w.Path()).Msg("Failed to write row")
	}
}

// Put schedules w. A writer, or another writer for the same path, can be
// scheduled only once.
func (s *Scheduler) Put(w *Writer) error {
	errFactory := errors.New()

	if w == nil {
		return errFactory.WithMessage(ErrInvalidObject, "nil is not a Writer object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.writers {
		if existing == w || existing.Path() == w.Path() {
			return errFactory.WithData(ErrDuplicateObject, w.Path())
		}
	}

	if err := s.loop.Add(w.SamplingTime(), w); err != nil {
		return err
	}
	s.writers = append(s.writers, w)

	s.logger.Info().
		Str("file", w.Path()).
		Int("sampling_time", w.SamplingTime()).
		Msg("Scheduling data file")

	return nil
}

// Writers returns the scheduled writers in the order they were added.
func (s *Scheduler) Writers() []*Writer {
	s.mu.Lock()
	defer s.mu.Unlock()

	writers := make([]*Writer, len(s.writers))
	copy(writers, s.writers)

	return writers
}

// Bucket returns the writers scheduled every interval seconds.
func (s *Scheduler) Bucket(interval int) []*Writer {
	return s.loop.Items(interval)
}

// Intervals returns the distinct sampling times in ascending order.
func (s *Scheduler) Intervals() []int {
	return s.loop.Intervals()
}

// Tick runs one pass of the loop at elapsed seconds.
func (s *Scheduler) Tick(ctx context.Context, elapsed int) int {
	return s.loop.Tick(ctx, elapsed)
}

func (s *Scheduler) Start(ctx context.Context) error {
	return s.loop.Start(ctx)
}

// Stop halts the loop and waits for in-flight writes to finish.
func (s *Scheduler) Stop() {
	s.loop.Stop()
}

func (s *Scheduler) Running() bool {
	return s.loop.Running()
}

// Close closes every scheduled writer. Call it after Stop.
func (s *Scheduler) Close() error {
	var first error
	for _, w := range s.Writers() {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
