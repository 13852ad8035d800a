// Package onewire reads one-wire temperature sensors such as the DS18B20,
// either through an owfs mount or through the Linux w1 sysfs tree.
package onewire

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
	"codeberg.org/mutker/cdc/internal/sensor"
	"periph.io/x/periph/conn/physic"
)

const (
	SensorType = "onewire"

	// SysfsConnection selects the kernel w1 driver instead of owfs.
	SysfsConnection = "w1"
	// SysfsRoot is where the kernel w1 driver lists its devices.
	SysfsRoot = "/sys/bus/w1/devices"
)

// Units a one-wire sensor can report in.
const (
	Celsius    = "C"
	Fahrenheit = "F"
	Kelvin     = "K"
)

// Driver holds the one connection every one-wire sensor of a process
// shares. The first sensor built fixes it; a sensor asking for a
// different connection is rejected.
type Driver struct {
	mu          sync.Mutex
	connection  string
	initialized bool
	sysfsRoot   string
	logger      logger.Logger
}

func NewDriver() *Driver {
	return &Driver{
		sysfsRoot: SysfsRoot,
		logger:    logger.WithComponent("onewire"),
	}
}

// Connection returns the connection fixed by the first sensor, if any.
func (d *Driver) Connection() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connection, d.initialized
}

// New builds a one-wire temperature sensor. The "connection" parameter
// is either "w1" (optionally "w1:<dir>") for the kernel driver or the
// path of an owfs mount. "units" is one of C, F or K and defaults to C.
func (d *Driver) New(name, id string, params map[string]string) (sensor.Sensor, error) {
	errFactory := errors.New()

	if err := sensor.CheckParams(SensorType, params, "connection", "units"); err != nil {
		return nil, err
	}

	owID, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	units := strings.ToUpper(params["units"])
	switch units {
	case "":
		units = Celsius
	case Celsius, Fahrenheit, Kelvin:
	default:
		return nil, errFactory.WithMessage(sensor.ErrInvalidArgument,
			fmt.Sprintf("Units '%s' for sensor type '%s' are invalid", params["units"], SensorType))
	}

	connection := strings.TrimSpace(params["connection"])
	if connection == "" {
		connection = SysfsConnection
	}
	if err := d.init(connection); err != nil {
		return nil, err
	}

	s := &Sensor{
		Base:  sensor.NewBase(SensorType, name),
		id:    owID,
		units: units,
	}

	if dir, ok := strings.CutPrefix(connection, SysfsConnection); ok && (dir == "" || dir[0] == ':') {
		root := strings.TrimPrefix(dir, ":")
		if root == "" {
			root = d.sysfsRoot
		}
		s.path = filepath.Join(root, sysfsID(owID), "w1_slave")
		s.parse = parseW1Slave
	} else {
		s.path = filepath.Join(connection, owID, "temperature")
		s.parse = parseOwfs
	}

	return s, nil
}

func (d *Driver) init(connection string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		d.connection = connection
		d.initialized = true
		d.logger.Info().Str("connection", connection).Msg("One-wire connection initialized")
		return nil
	}

	if d.connection != connection {
		return errors.New().WithMessage(ErrConnectionMismatch,
			fmt.Sprintf("One-wire connection already initialized to '%s' but an attempt was made to initialize to '%s'",
				d.connection, connection))
	}

	return nil
}

// Sensor is a single one-wire temperature sensor.
type Sensor struct {
	sensor.Base
	id    string
	units string
	path  string
	parse func([]byte) (physic.Temperature, error)
}

// ID returns the owfs form of the device id.
func (s *Sensor) ID() string {
	return s.id
}

// Path returns the file the sensor reads.
func (s *Sensor) Path() string {
	return s.path
}

func (s *Sensor) Reading(ctx context.Context) (sensor.Value, error) {
	if err := ctx.Err(); err != nil {
		return sensor.Absent(), err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return sensor.Absent(), errors.New().Wrap(ErrReadFailed, err)
	}

	t, err := s.parse(data)
	if err != nil {
		return sensor.Absent(), err
	}

	return sensor.Of(convert(t, s.units)), nil
}

func convert(t physic.Temperature, units string) float64 {
	switch units {
	case Fahrenheit:
		return float64(t-physic.ZeroFahrenheit) / float64(physic.Fahrenheit)
	case Kelvin:
		return float64(t) / float64(physic.Kelvin)
	default:
		return float64(t-physic.ZeroCelsius) / float64(physic.Celsius)
	}
}

// parseOwfs parses an owfs temperature file, a padded decimal in degrees
// Celsius.
func parseOwfs(data []byte) (physic.Temperature, error) {
	c, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, errors.New().Wrap(ErrReadFailed, err)
	}

	return physic.ZeroCelsius + physic.Temperature(math.Round(c*1e6))*physic.MicroKelvin, nil
}

// parseW1Slave parses the kernel w1_slave file:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(data []byte) (physic.Temperature, error) {
	errFactory := errors.New()

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if len(lines) < 2 {
		return 0, errFactory.WithData(ErrReadFailed, "short w1_slave output")
	}

	if !strings.HasSuffix(lines[0], "YES") {
		return 0, errFactory.WithData(ErrCRCFailed, lines[0])
	}

	_, raw, ok := strings.Cut(lines[1], "t=")
	if !ok {
		return 0, errFactory.WithData(ErrReadFailed, lines[1])
	}

	milli, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrReadFailed, err)
	}

	return physic.ZeroCelsius + physic.Temperature(milli)*physic.MilliCelsius, nil
}
