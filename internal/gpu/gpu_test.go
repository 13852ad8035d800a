package gpu

import (
	"context"
	"testing"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/sensor"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	temperature uint32
	fanSpeeds   []uint32
	powerUsage  uint32
	powerLimit  uint32
	utilization nvml.Utilization
	memory      nvml.Memory
	ret         nvml.Return
}

func (d *fakeDevice) GetName() (string, nvml.Return) {
	return "Fake GPU", nvml.SUCCESS
}

func (d *fakeDevice) GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return) {
	return d.temperature, d.ret
}

func (d *fakeDevice) GetFanSpeed_v2(fan int) (uint32, nvml.Return) {
	if fan >= len(d.fanSpeeds) {
		return 0, nvml.ERROR_INVALID_ARGUMENT
	}
	return d.fanSpeeds[fan], d.ret
}

func (d *fakeDevice) GetPowerUsage() (uint32, nvml.Return) {
	return d.powerUsage, d.ret
}

func (d *fakeDevice) GetPowerManagementLimit() (uint32, nvml.Return) {
	return d.powerLimit, d.ret
}

func (d *fakeDevice) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	return d.utilization, d.ret
}

func (d *fakeDevice) GetMemoryInfo() (nvml.Memory, nvml.Return) {
	return d.memory, d.ret
}

type fakeLibrary struct {
	devices   []device
	byUUID    map[string]device
	initCalls int
	shutdowns int
	initErr   error
}

func (l *fakeLibrary) Initialize() error {
	l.initCalls++
	return l.initErr
}

func (l *fakeLibrary) Shutdown() error {
	l.shutdowns++
	return nil
}

func (l *fakeLibrary) GetDevice(index int) (device, error) {
	if index < 0 || index >= len(l.devices) {
		return nil, errors.New().WithData(ErrDeviceNotFound, index)
	}
	return l.devices[index], nil
}

func (l *fakeLibrary) GetDeviceByUUID(uuid string) (device, error) {
	dev, ok := l.byUUID[uuid]
	if !ok {
		return nil, errors.New().WithData(ErrDeviceNotFound, uuid)
	}
	return dev, nil
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		temperature: 61,
		fanSpeeds:   []uint32{40, 45},
		powerUsage:  123456,
		powerLimit:  250000,
		utilization: nvml.Utilization{Gpu: 87, Memory: 30},
		memory:      nvml.Memory{Used: 512 << 20},
		ret:         nvml.SUCCESS,
	}
}

func TestMetrics(t *testing.T) {
	lib := &fakeLibrary{devices: []device{newFakeDevice()}}
	d := newDriver(lib)

	tests := []struct {
		params map[string]string
		want   string
	}{
		{nil, "61"},
		{map[string]string{"metric": "temperature"}, "61"},
		{map[string]string{"metric": "FAN_SPEED", "fan": "1"}, "45"},
		{map[string]string{"metric": "fan_speed"}, "40"},
		{map[string]string{"metric": "power_usage"}, "123.456"},
		{map[string]string{"metric": "power_limit"}, "250"},
		{map[string]string{"metric": "utilization"}, "87"},
		{map[string]string{"metric": "memory_used"}, "512"},
	}

	for _, tt := range tests {
		s, err := d.New("core", "", tt.params)
		require.NoError(t, err)

		v, err := s.Reading(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, v.String(), tt.params)
	}

	assert.Equal(t, 1, lib.initCalls)
}

func TestDeviceSelection(t *testing.T) {
	first := newFakeDevice()
	second := newFakeDevice()
	second.temperature = 70
	lib := &fakeLibrary{
		devices: []device{first, second},
		byUUID:  map[string]device{"GPU-1234": second},
	}
	d := newDriver(lib)

	for _, id := range []string{"1", "GPU-1234"} {
		s, err := d.New("core", id, nil)
		require.NoError(t, err)
		v, err := s.Reading(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "70", v.String(), id)
	}

	s, err := d.New("core", "GPU-missing", nil)
	require.NoError(t, err)
	_, err = s.Reading(context.Background())
	assert.True(t, errors.HasCode(err, ErrDeviceNotFound))
}

func TestReadFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.ret = nvml.ERROR_NOT_SUPPORTED
	d := newDriver(&fakeLibrary{devices: []device{dev}})

	s, err := d.New("core", "", map[string]string{"metric": "power_usage"})
	require.NoError(t, err)

	v, err := s.Reading(context.Background())
	assert.True(t, errors.HasCode(err, ErrPowerUsageFailed))
	assert.True(t, v.IsAbsent())
}

func TestInitFailure(t *testing.T) {
	lib := &fakeLibrary{initErr: errors.New().New(ErrInitFailed)}
	d := newDriver(lib)

	s, err := d.New("core", "", nil)
	require.NoError(t, err)

	_, err = s.Reading(context.Background())
	assert.True(t, errors.HasCode(err, ErrInitFailed))

	// Nothing was initialized, so there is nothing to shut down.
	require.NoError(t, d.Close())
	assert.Equal(t, 0, lib.shutdowns)
}

func TestInvalidParams(t *testing.T) {
	d := newDriver(&fakeLibrary{})

	_, err := d.New("core", "", map[string]string{"metric": "clock"})
	assert.True(t, errors.HasCode(err, ErrUnknownMetric))

	_, err = d.New("core", "", map[string]string{"fan": "-1"})
	assert.True(t, errors.HasCode(err, sensor.ErrInvalidArgument))

	_, err = d.New("core", "", map[string]string{"connection": "/mnt"})
	assert.True(t, errors.HasCode(err, sensor.ErrInvalidArgument))
}

func TestClose(t *testing.T) {
	lib := &fakeLibrary{devices: []device{newFakeDevice()}}
	d := newDriver(lib)

	s, err := d.New("core", "", nil)
	require.NoError(t, err)
	_, err = s.Reading(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, lib.shutdowns)

	// A read after Close opens NVML again.
	_, err = s.Reading(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, lib.initCalls)
}
