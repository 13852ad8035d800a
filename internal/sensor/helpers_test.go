package sensor_test

import (
	"context"
	"sync"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/sensor"
)

// counter returns incr, 2*incr, 3*incr, ... on successive reads.
type counter struct {
	sensor.Base
	mu    sync.Mutex
	incr  float64
	value float64
}

func newCounter(name string, incr float64) *counter {
	return &counter{Base: sensor.NewBase("counter", name), incr: incr}
}

func (c *counter) Reading(_ context.Context) (sensor.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += c.incr
	return sensor.Of(c.value), nil
}

// scripted returns its values in order, then absent.
type scripted struct {
	sensor.Base
	mu     sync.Mutex
	values []sensor.Value
}

func newScripted(name string, values ...sensor.Value) *scripted {
	return &scripted{Base: sensor.NewBase("scripted", name), values: values}
}

func (s *scripted) Reading(_ context.Context) (sensor.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return sensor.Absent(), nil
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v, nil
}

type failing struct {
	sensor.Base
	panics bool
}

func (f *failing) Reading(_ context.Context) (sensor.Value, error) {
	if f.panics {
		panic("bus fault")
	}
	return sensor.Absent(), errors.New().New(sensor.ErrReadFailed)
}
