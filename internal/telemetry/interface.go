package telemetry

import (
	"context"
	"time"
)

// Collector records how the daemon's loops spend their time.
type Collector interface {
	Record(ctx context.Context, snapshot *TickSnapshot) error
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snapshot *TickSnapshot) error
	Close() error
}

// TickSnapshot describes one serviced interval bucket of a loop.
type TickSnapshot struct {
	RunID    string
	Loop     string
	Interval int
	Elapsed  int
	Items    int
	Started  time.Time
	Duration time.Duration
}
