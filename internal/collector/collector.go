// Package collector assembles the daemon from its configuration: sensors
// go into a registry, data files into a scheduler, and both loops report
// their ticks to telemetry.
package collector

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/cdc/internal/config"
	"codeberg.org/mutker/cdc/internal/datafile"
	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
	"codeberg.org/mutker/cdc/internal/schedule"
	"codeberg.org/mutker/cdc/internal/sensor"
	"codeberg.org/mutker/cdc/internal/telemetry"
)

const recordTimeout = time.Second

type options struct {
	clock     schedule.Clock
	telemetry telemetry.Collector
	runID     string
	closers   []io.Closer
}

// Option configures a Collector.
type Option func(*options)

// WithClock replaces the wall clock of both loops.
func WithClock(c schedule.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithTelemetry uses t instead of building a collector from the
// configuration.
func WithTelemetry(t telemetry.Collector) Option {
	return func(o *options) {
		o.telemetry = t
	}
}

// WithRunID tags every telemetry record with id.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithCloser registers c to be closed by Close, after the data files.
// Drivers holding a library session use it.
func WithCloser(c io.Closer) Option {
	return func(o *options) {
		o.closers = append(o.closers, c)
	}
}

// Collector owns the sensor registry and the data file scheduler.
type Collector struct {
	registry  *sensor.Registry
	scheduler *datafile.Scheduler
	telemetry telemetry.Collector
	closers   []io.Closer
	runID     string
	logger    logger.Logger

	mu      sync.Mutex
	running bool
	closed  bool
}

// New builds every sensor group, applies display names and opens every
// data file in cfg. Sensors are created by factory. On failure all files
// opened so far are closed again.
func New(cfg *config.Config, factory *sensor.Factory, opts ...Option) (*Collector, error) {
	errFactory := errors.New()

	if cfg == nil || factory == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "collector needs a configuration and a sensor factory")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Collector{
		closers: o.closers,
		runID:   o.runID,
		logger:  logger.WithComponent("collector"),
	}

	c.telemetry = o.telemetry
	if c.telemetry == nil {
		t, err := telemetry.NewService(telemetry.Config{
			Enabled:      cfg.Telemetry.Enabled,
			DBPath:       cfg.Telemetry.DBPath,
			BatchSize:    cfg.Telemetry.BatchSize,
			BatchTimeout: cfg.Telemetry.BatchTimeout,
		})
		if err != nil {
			c.releaseClosers()
			return nil, errFactory.Wrap(ErrInitFailed, err)
		}
		c.telemetry = t
	}

	loopOpts := []schedule.Option{schedule.WithObserver(c.observe)}
	if o.clock != nil {
		loopOpts = append(loopOpts, schedule.WithClock(o.clock))
	}
	c.registry = sensor.NewRegistry(loopOpts...)
	c.scheduler = datafile.NewScheduler(loopOpts...)

	if err := c.build(cfg, factory); err != nil {
		if closeErr := c.scheduler.Close(); closeErr != nil {
			c.logger.Error().Err(closeErr).Msg("Failed to close data files after setup error")
		}
		if closeErr := c.telemetry.Close(); closeErr != nil {
			c.logger.Error().Err(closeErr).Msg("Failed to close telemetry after setup error")
		}
		c.releaseClosers()
		return nil, err
	}

	c.logger.Info().
		Int("sensors", len(c.registry.Keys())).
		Int("files", len(c.scheduler.Writers())).
		Msg("Collector ready")

	return c, nil
}

func (c *Collector) releaseClosers() {
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to release resource after setup error")
		}
	}
}

func (c *Collector) build(cfg *config.Config, factory *sensor.Factory) error {
	for _, g := range cfg.Groups {
		if err := c.buildGroup(g, factory); err != nil {
			return err
		}
	}

	for _, d := range cfg.DisplayNames {
		group, name, ok := strings.Cut(d.Sensor, ".")
		if !ok {
			return errors.New().WithMessage(ErrInvalidConfig,
				fmt.Sprintf("Display name sensor '%s' is not of the form group.name", d.Sensor))
		}
		s, err := c.registry.Get(group, name, 0)
		if err != nil {
			return err
		}
		s.SetDisplayName(d.Name)
	}

	paths := make(map[string]bool, len(cfg.Files))
	for _, f := range cfg.Files {
		// Checked before datafile.New, which may rotate an existing file
		path := filepath.Join(f.BaseDir, f.Name)
		if paths[path] {
			return errors.New().WithData(datafile.ErrDuplicateObject, path)
		}
		paths[path] = true

		w, err := datafile.New(c.registry, datafile.Options{
			ID:           f.Name,
			FileName:     f.Name,
			BaseDir:      f.BaseDir,
			DefaultGroup: f.DefaultGroup,
			DefaultMode:  f.DefaultMode,
			SamplingTime: f.Interval,
			Samples:      f.Samples,
			Sensors:      f.Sensors,
		})
		if err != nil {
			return err
		}
		if err := c.scheduler.Put(w); err != nil {
			if closeErr := w.Close(); closeErr != nil {
				c.logger.Error().Err(closeErr).Str("file", w.Path()).Msg("Failed to close data file")
			}
			return err
		}
	}

	return nil
}

// buildGroup creates the sensors of g. Parameters are merged with the
// most specific winning: inline type parameters, then group params, then
// the sensor's own params.
func (c *Collector) buildGroup(g config.Group, factory *sensor.Factory) error {
	sensorType, inline, err := sensor.ParseSensorType(g.Type)
	if err != nil {
		return err
	}

	for _, sc := range g.Sensors {
		params := make(map[string]string, len(inline)+len(g.Params)+len(sc.Params))
		for _, m := range []map[string]string{inline, g.Params, sc.Params} {
			for k, v := range m {
				params[k] = v
			}
		}

		s, err := factory.New(sensorType, sc.Name, sc.ID, params)
		if err != nil {
			return errors.New().Wrap(ErrInvalidConfig,
				fmt.Errorf("sensor %s.%s: %w", g.Name, sc.Name, err))
		}
		if err := c.registry.Put(s, g.Name, 0); err != nil {
			return err
		}

		c.logger.Debug().
			Str("group", g.Name).
			Str("sensor", sc.Name).
			Str("type", sensorType).
			Msg("Sensor created")
	}

	return nil
}

func (c *Collector) observe(svc schedule.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	err := c.telemetry.Record(ctx, &telemetry.TickSnapshot{
		RunID:    c.runID,
		Loop:     svc.Loop,
		Interval: svc.Interval,
		Elapsed:  svc.Elapsed,
		Items:    svc.Items,
		Started:  svc.Started,
		Duration: svc.Duration,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("loop", svc.Loop).Msg("Failed to record tick")
	}
}

// Registry returns the sensor registry.
func (c *Collector) Registry() *sensor.Registry {
	return c.registry
}

// Scheduler returns the data file scheduler.
func (c *Collector) Scheduler() *datafile.Scheduler {
	return c.scheduler
}

// Start starts the averaging loop, then the data file loop.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New().WithMessage(ErrInvalidOperation, "collector is closed")
	}
	if c.running {
		return errors.New().WithMessage(ErrInvalidOperation, "collector already started")
	}

	if err := c.registry.Start(ctx); err != nil {
		return err
	}
	if err := c.scheduler.Start(ctx); err != nil {
		c.registry.Stop()
		return err
	}
	c.running = true

	c.logger.Info().Msg("Collecting")

	return nil
}

// Stop halts the averaging loop, then the data file loop, waiting for
// each to finish its current tick.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stop()
}

func (c *Collector) stop() {
	if !c.running {
		return
	}
	c.registry.Stop()
	c.scheduler.Stop()
	c.running = false

	c.logger.Info().Msg("Stopped collecting")
}

// Close stops both loops and releases data files, telemetry and any
// registered closers. It returns the first error encountered.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.stop()
	c.closed = true

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = errors.New().Wrap(ErrShutdownFailed, err)
		}
	}

	keep(c.scheduler.Close())
	keep(c.telemetry.Close())
	for _, closer := range c.closers {
		keep(closer.Close())
	}

	return first
}
