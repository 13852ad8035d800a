package sensor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
	"codeberg.org/mutker/cdc/internal/schedule"
)

// Key identifies a registry entry. Interval is zero for a sampling sensor
// and the averaging period in seconds for an averaging sensor.
type Key struct {
	Group    string
	Name     string
	Interval int
}

func (k Key) String() string {
	if k.Interval == 0 {
		return k.Group + "." + k.Name
	}
	return fmt.Sprintf("%s.%s@%ds", k.Group, k.Name, k.Interval)
}

// Registry stores sensors by Key and feeds its averaging sensors from a
// background loop. Each averaging sensor is fed at its cadence, the
// averaging interval divided by the number of samples.
type Registry struct {
	mu      sync.RWMutex
	sensors map[Key]Sensor

	loop *schedule.Loop[*AveragingSensor]
	log  logger.Logger
}

// NewRegistry creates an empty registry. Options configure the
// averaging loop.
func NewRegistry(opts ...schedule.Option) *Registry {
	return &Registry{
		sensors: make(map[Key]Sensor),
		loop: schedule.New("averaging", func(ctx context.Context, a *AveragingSensor) {
			a.CollectReading(ctx)
		}, opts...),
		log: logger.WithComponent("registry"),
	}
}

// Cadence returns how many seconds apart an averaging sensor registered
// under interval must be fed.
func Cadence(interval, numSamples int) int {
	if numSamples < 1 {
		return interval
	}
	return max(interval/numSamples, 1)
}

// Entry is one sensor to register with PutAll.
type Entry struct {
	Sensor   Sensor
	Group    string
	Interval int
}

// Put registers s under (group, s.Name(), interval). A non-zero interval
// requires an averaging sensor whose sampling sensor is already
// registered.
func (r *Registry) Put(s Sensor, group string, interval int) error {
	return r.PutAll(Entry{Sensor: s, Group: group, Interval: interval})
}

// PutAll registers every entry or, if any entry is rejected, none of
// them. Entries are checked in order, so an averaging entry may follow
// the sampling entry it depends on.
func (r *Registry) PutAll(entries ...Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	staged := make(map[Key]Sensor, len(entries))
	cadences := make(map[Key]int, len(entries))
	order := make([]Key, 0, len(entries))

	for _, e := range entries {
		key, cadence, err := r.check(e, staged)
		if err != nil {
			return err
		}
		staged[key] = e.Sensor
		cadences[key] = cadence
		order = append(order, key)
	}

	for _, key := range order {
		s := staged[key]
		r.sensors[key] = s

		if key.Interval == 0 {
			r.log.Info().Str("key", key.String()).Msg("Adding sampling sensor")
			continue
		}

		avg := s.(*AveragingSensor)
		// Cadence is at least one, so Add cannot fail
		_ = r.loop.Add(cadences[key], avg)

		r.log.Info().
			Str("key", key.String()).
			Int("cadence", cadences[key]).
			Int("samples", avg.NumSamples()).
			Msg("Adding averaging sensor")
	}

	return nil
}

// check validates e against the registry and the entries staged before
// it. The caller holds r.mu.
func (r *Registry) check(e Entry, staged map[Key]Sensor) (Key, int, error) {
	errFactory := errors.New()

	if e.Sensor == nil {
		return Key{}, 0, errFactory.WithMessage(ErrInvalidObject, "nil is not a Sensor object")
	}
	if e.Interval < 0 {
		return Key{}, 0, errFactory.WithData(ErrInvalidInterval, e.Interval)
	}

	key := Key{Group: e.Group, Name: e.Sensor.Name(), Interval: e.Interval}
	exists := func(k Key) bool {
		if _, ok := r.sensors[k]; ok {
			return true
		}
		_, ok := staged[k]
		return ok
	}

	if exists(key) {
		return Key{}, 0, errFactory.WithData(ErrDuplicateKey, key.String())
	}
	if e.Interval == 0 {
		return key, 0, nil
	}

	avg, ok := e.Sensor.(*AveragingSensor)
	if !ok {
		return Key{}, 0, errFactory.WithData(ErrNotAveraging, key.String())
	}
	if !exists(Key{Group: e.Group, Name: key.Name}) {
		return Key{}, 0, errFactory.WithData(ErrOrphanAveraging, key.String())
	}

	return key, Cadence(e.Interval, avg.NumSamples()), nil
}

// Remove unregisters (group, name, interval). A sampling sensor that
// still has averaging sensors registered cannot be removed.
func (r *Registry) Remove(group, name string, interval int) error {
	errFactory := errors.New()
	key := Key{Group: group, Name: name, Interval: interval}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sensors[key]
	if !ok {
		return errFactory.WithData(ErrNotFound, key.String())
	}

	if interval == 0 {
		for k := range r.sensors {
			if k.Group == group && k.Name == name && k.Interval != 0 {
				return errFactory.WithMessage(ErrInvalidOperation,
					fmt.Sprintf("Sensor %s still has averaging sensor %s", key, k))
			}
		}
	} else if avg, ok := s.(*AveragingSensor); ok {
		r.loop.Remove(Cadence(interval, avg.NumSamples()), func(a *AveragingSensor) bool {
			return a == avg
		})
	}

	delete(r.sensors, key)
	r.log.Info().Str("key", key.String()).Msg("Removed sensor")

	return nil
}

// Get returns the sensor registered under (group, name, interval).
func (r *Registry) Get(group, name string, interval int) (Sensor, error) {
	key := Key{Group: group, Name: name, Interval: interval}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sensors[key]
	if !ok {
		return nil, errors.New().WithData(ErrNotFound, key.String())
	}

	return s, nil
}

// GetAveraging is Get for an averaging entry.
func (r *Registry) GetAveraging(group, name string, interval int) (*AveragingSensor, error) {
	s, err := r.Get(group, name, interval)
	if err != nil {
		return nil, err
	}

	avg, ok := s.(*AveragingSensor)
	if !ok {
		key := Key{Group: group, Name: name, Interval: interval}
		return nil, errors.New().WithData(ErrNotAveraging, key.String())
	}

	return avg, nil
}

// Contains reports whether (group, name, interval) is registered.
func (r *Registry) Contains(group, name string, interval int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sensors[Key{Group: group, Name: name, Interval: interval}]
	return ok
}

// Keys returns every registered key sorted by group, name and interval.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.sensors))
	for key := range r.sensors {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Group != keys[j].Group {
			return keys[i].Group < keys[j].Group
		}
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Interval < keys[j].Interval
	})

	return keys
}

// Cadences returns the distinct feeding cadences in ascending order.
func (r *Registry) Cadences() []int {
	return r.loop.Intervals()
}

// Averaging returns the averaging sensors fed at cadence.
func (r *Registry) Averaging(cadence int) []*AveragingSensor {
	return r.loop.Items(cadence)
}

func (r *Registry) String() string {
	keys := r.Keys()
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.String()
	}

	return "<Registry: " + strings.Join(names, ", ") + ">"
}

// Tick runs one pass of the averaging loop at elapsed seconds.
func (r *Registry) Tick(ctx context.Context, elapsed int) int {
	return r.loop.Tick(ctx, elapsed)
}

// Start begins feeding averaging sensors in the background.
func (r *Registry) Start(ctx context.Context) error {
	return r.loop.Start(ctx)
}

// Stop halts the averaging loop and waits for an in-flight pass.
func (r *Registry) Stop() {
	r.loop.Stop()
}
