package sensor

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"codeberg.org/mutker/cdc/internal/errors"
)

// Constructor builds a sensor of one type from its name, hardware id and
// merged group and instance parameters.
type Constructor func(name, id string, params map[string]string) (Sensor, error)

// Factory maps sensor type identifiers to constructors.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory returns a factory that knows the null sensor type.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}
	f.Register(NullType, NewNull)

	return f
}

// Register adds or replaces the constructor for sensorType.
func (f *Factory) Register(sensorType string, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[sensorType] = c
}

// New builds a sensor of sensorType.
func (f *Factory) New(sensorType, name, id string, params map[string]string) (Sensor, error) {
	f.mu.RLock()
	c, ok := f.constructors[sensorType]
	f.mu.RUnlock()

	if !ok {
		return nil, errors.New().WithData(ErrUnknownSensorType, sensorType)
	}

	return c(name, id, params)
}

// Types lists the registered sensor types.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)

	return types
}

// ParseSensorType splits a type string such as "onewire/a=b;c=d" into
// the type and its inline parameters. The parameter part is optional.
func ParseSensorType(s string) (string, map[string]string, error) {
	params := make(map[string]string)

	sensorType, paramString, found := strings.Cut(strings.TrimSpace(s), "/")
	sensorType = strings.TrimSpace(sensorType)
	if sensorType == "" {
		return "", nil, errors.New().WithMessage(ErrInvalidArgument,
			fmt.Sprintf("Sensor type string '%s' has no type", s))
	}
	if !found || strings.TrimSpace(paramString) == "" {
		return sensorType, params, nil
	}

	for _, pair := range strings.Split(paramString, ";") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return "", nil, errors.New().WithMessage(ErrInvalidArgument,
				fmt.Sprintf("Malformed parameter '%s' in sensor type string '%s'", pair, s))
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return sensorType, params, nil
}
