// Package gpu reads NVIDIA GPU metrics through NVML and exposes them as
// sensors.
package gpu

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
	"codeberg.org/mutker/cdc/internal/sensor"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	SensorType = "gpu"

	milliWattsToWatts = 1000
	bytesPerMiB       = 1 << 20
)

// Driver shares one NVML session between all GPU sensors. NVML is
// initialized on the first read, not at construction, so a host without
// a GPU can still load a configuration that mentions one.
type Driver struct {
	mu          sync.Mutex
	lib         library
	initialized bool
	devices     map[string]device
	logger      logger.Logger
}

// NewDriver returns a driver backed by the system NVML library.
func NewDriver() *Driver {
	return newDriver(&nvmlWrapper{})
}

func newDriver(lib library) *Driver {
	return &Driver{
		lib:     lib,
		devices: make(map[string]device),
		logger:  logger.WithComponent("gpu"),
	}
}

// New builds a GPU sensor. id selects the device by index or UUID and
// defaults to the first device. Parameters are "metric" (default
// temperature) and "fan", the fan index read by the fan_speed metric.
func (d *Driver) New(name, id string, params map[string]string) (sensor.Sensor, error) {
	errFactory := errors.New()

	if err := sensor.CheckParams(SensorType, params, "metric", "fan"); err != nil {
		return nil, err
	}

	metric := Temperature
	if m := params["metric"]; m != "" {
		metric = Metric(strings.ToLower(m))
	}
	if !metrics[metric] {
		return nil, errFactory.WithData(ErrUnknownMetric, string(metric))
	}

	fan := 0
	if f := params["fan"]; f != "" {
		var err error
		if fan, err = strconv.Atoi(f); err != nil || fan < 0 {
			return nil, errFactory.WithMessage(sensor.ErrInvalidArgument,
				fmt.Sprintf("Fan index '%s' for sensor type '%s' is invalid", f, SensorType))
		}
	}

	return &Sensor{
		Base:   sensor.NewBase(SensorType, name),
		driver: d,
		id:     strings.TrimSpace(id),
		metric: metric,
		fan:    fan,
	}, nil
}

func (d *Driver) open(id string) (device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		if err := d.lib.Initialize(); err != nil {
			return nil, err
		}
		d.initialized = true
		d.logger.Debug().Msg("NVML initialized")
	}

	if dev, ok := d.devices[id]; ok {
		return dev, nil
	}

	var (
		dev device
		err error
	)
	if id == "" {
		dev, err = d.lib.GetDevice(0)
	} else if index, convErr := strconv.Atoi(id); convErr == nil {
		dev, err = d.lib.GetDevice(index)
	} else {
		dev, err = d.lib.GetDeviceByUUID(id)
	}
	if err != nil {
		return nil, err
	}

	if name, ret := dev.GetName(); IsNVMLSuccess(ret) {
		d.logger.Info().Str("device", id).Msgf("Detected GPU: %v", name)
	}
	d.devices[id] = dev

	return dev, nil
}

// Close shuts NVML down if any sensor opened it.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}

	d.devices = make(map[string]device)
	d.initialized = false

	return d.lib.Shutdown()
}

// Sensor reports one metric of one GPU.
type Sensor struct {
	sensor.Base
	driver *Driver
	id     string
	metric Metric
	fan    int
}

func (s *Sensor) Metric() Metric {
	return s.metric
}

func (s *Sensor) Reading(ctx context.Context) (sensor.Value, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Absent(), err
	}

	dev, err := s.driver.open(s.id)
	if err != nil {
		return sensor.Absent(), err
	}

	v, err := read(dev, s.metric, s.fan)
	if err != nil {
		return sensor.Absent(), err
	}

	return sensor.Of(v), nil
}

func read(dev device, metric Metric, fan int) (float64, error) {
	errFactory := errors.New()

	switch metric {
	case Temperature:
		temp, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU)
		if !IsNVMLSuccess(ret) {
			return 0, errFactory.Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
		}
		return float64(temp), nil

	case FanSpeed:
		speed, ret := dev.GetFanSpeed_v2(fan)
		if !IsNVMLSuccess(ret) {
			return 0, errFactory.Wrap(ErrGetFanSpeedFailed, newNVMLError(ret))
		}
		return float64(speed), nil

	case PowerUsage:
		usage, ret := dev.GetPowerUsage()
		if !IsNVMLSuccess(ret) {
			return 0, errFactory.Wrap(ErrPowerUsageFailed, newNVMLError(ret))
		}
		return float64(usage) / milliWattsToWatts, nil

	case PowerLimit:
		limit, ret := dev.GetPowerManagementLimit()
		if !IsNVMLSuccess(ret) {
			return 0, errFactory.Wrap(ErrPowerLimitFailed, newNVMLError(ret))
		}
		return float64(limit) / milliWattsToWatts, nil

	case Utilization:
		rates, ret := dev.GetUtilizationRates()
		if !IsNVMLSuccess(ret) {
			return 0, errFactory.Wrap(ErrUtilizationFailed, newNVMLError(ret))
		}
		return float64(rates.Gpu), nil

	case MemoryUsed:
		mem, ret := dev.GetMemoryInfo()
		if !IsNVMLSuccess(ret) {
			return 0, errFactory.Wrap(ErrMemoryInfoFailed, newNVMLError(ret))
		}
		return float64(mem.Used) / bytesPerMiB, nil
	}

	return 0, errFactory.WithData(ErrUnknownMetric, string(metric))
}
