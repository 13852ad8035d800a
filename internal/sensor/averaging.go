package sensor

import (
	"context"
	"sync"

	"codeberg.org/mutker/cdc/internal/logger"
)

// DefaultSamples is the ring size used when none is given.
const DefaultSamples = 12

// AveragingSensor buffers the most recent readings of another sensor and
// reports their mean. It is itself a Sensor, so it can be registered and
// written like any other.
type AveragingSensor struct {
	Base
	sensor     Sensor
	numSamples int
	log        logger.Logger

	mu       sync.Mutex
	readings []Value
}

// NewAveraging wraps s with a ring of numSamples readings. The wrapped
// sensor stays usable on its own.
func NewAveraging(s Sensor, numSamples int) *AveragingSensor {
	if numSamples < 1 {
		numSamples = DefaultSamples
	}

	a := &AveragingSensor{
		Base:       NewBase("average", s.Name()),
		sensor:     s,
		numSamples: numSamples,
		readings:   make([]Value, 0, numSamples),
		log:        logger.WithComponent("averaging_sensor"),
	}
	a.SetDisplayName(s.DisplayName() + "_avg")

	return a
}

// Sensor returns the wrapped sensor.
func (a *AveragingSensor) Sensor() Sensor {
	return a.sensor
}

// NumSamples returns the ring capacity.
func (a *AveragingSensor) NumSamples() int {
	return a.numSamples
}

// CollectReading reads the wrapped sensor once and pushes the result,
// evicting the oldest reading when the ring is full.
func (a *AveragingSensor) CollectReading(ctx context.Context) {
	a.log.Debug().Str("sensor", a.sensor.Name()).Msg("Getting reading")
	v := ReadOrAbsent(ctx, a.sensor, a.log)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.readings = append(a.readings, v)
	if len(a.readings) > a.numSamples {
		a.readings = a.readings[1:]
	}
}

// Reading returns the mean of the buffered readings. Absent readings add
// nothing to the sum but still count towards the divisor. An empty ring,
// or one holding only absent readings, yields an absent value.
func (a *AveragingSensor) Reading(_ context.Context) (Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.readings) == 0 {
		return Absent(), nil
	}

	var sum float64
	valid := 0
	for _, r := range a.readings {
		if v, ok := r.Float(); ok {
			sum += v
			valid++
		}
	}

	if valid == 0 {
		return Absent(), nil
	}

	return Of(sum / float64(len(a.readings))), nil
}

// Readings returns a copy of the ring, oldest first.
func (a *AveragingSensor) Readings() []Value {
	a.mu.Lock()
	defer a.mu.Unlock()

	readings := make([]Value, len(a.readings))
	copy(readings, a.readings)

	return readings
}
