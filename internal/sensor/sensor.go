// Package sensor defines the sensor capability, the averaging sensor
// built on top of it, and the registry that owns sensors and feeds
// averaging sensors from a background loop.
package sensor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
)

// Sensor produces one reading on demand. Reading must honour ctx and
// never block indefinitely; an absent Value means no reading was
// available, an error means the read itself failed.
type Sensor interface {
	Name() string
	SetName(name string)
	DisplayName() string
	SetDisplayName(name string)
	Reading(ctx context.Context) (Value, error)
}

// Base carries the naming shared by all sensor implementations.
type Base struct {
	mu          sync.RWMutex
	sensorType  string
	name        string
	displayName string
}

// NewBase returns a Base for a sensor of the given type.
func NewBase(sensorType, name string) Base {
	return Base{sensorType: sensorType, name: name}
}

func (b *Base) Type() string {
	return b.sensorType
}

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

// DisplayName returns the override if one was set, else the name.
func (b *Base) DisplayName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.displayName != "" {
		return b.displayName
	}
	return b.name
}

func (b *Base) SetDisplayName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.displayName = name
}

// CheckParams rejects any parameter key not listed in valid.
func CheckParams(sensorType string, params map[string]string, valid ...string) error {
	allowed := make(map[string]bool, len(valid))
	for _, key := range valid {
		allowed[key] = true
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !allowed[key] {
			return errors.New().WithMessage(ErrInvalidArgument,
				fmt.Sprintf("Arg '%s' is invalid for sensor type '%s'", key, sensorType))
		}
	}

	return nil
}

// ReadOrAbsent reads s once. A failed or panicking read is logged and
// reported as absent so one bad sensor never costs a whole row.
func ReadOrAbsent(ctx context.Context, s Sensor, log logger.Logger) (v Value) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("sensor", s.Name()).
				Interface("panic", r).
				Msg("Sensor panicked during read")
			v = Absent()
		}
	}()

	v, err := s.Reading(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("sensor", s.Name()).
			Msg("Failed to read sensor")
		return Absent()
	}

	return v
}
