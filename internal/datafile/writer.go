// Package datafile records sensor readings as rows of CSV files and runs
// each file at its own sampling time.
package datafile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/logger"
	"codeberg.org/mutker/cdc/internal/sensor"
)

const (
	// TimestampColumn heads the first column of every data file.
	TimestampColumn = "Timestamp"
	// TimestampLayout formats the first column of every row.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Options describes one data file.
type Options struct {
	ID           string
	FileName     string
	BaseDir      string
	DefaultGroup string
	DefaultMode  string
	// SamplingTime is the number of seconds between rows.
	SamplingTime int
	// Samples sizes the ring of averaging sensors this file creates.
	// Zero means one sample per second of SamplingTime.
	Samples int
	Sensors []string
}

// Writer appends one row of readings to a CSV file per call to
// CollectData.
type Writer struct {
	id           string
	path         string
	samplingTime int
	sensors      []sensor.Sensor
	header       []string
	logger       logger.Logger

	mu     sync.Mutex
	file   *os.File
	csv    *csv.Writer
	closed bool
}

type pendingAverage struct {
	group string
	avg   *sensor.AveragingSensor
}

// New resolves every sensor reference against reg, registers any
// averaging sensors it had to create and opens the file. If any step
// fails nothing stays registered.
func New(reg *sensor.Registry, opts Options) (*Writer, error) {
	errFactory := errors.New()

	if reg == nil {
		return nil, errFactory.WithMessage(ErrInvalidObject, "nil is not a Registry")
	}
	if opts.SamplingTime < 1 {
		return nil, errFactory.WithData(ErrInvalidInterval, opts.SamplingTime)
	}

	defaultMode := Sample
	if opts.DefaultMode != "" {
		m, err := ParseMode(opts.DefaultMode)
		if err != nil {
			return nil, err
		}
		defaultMode = m
	}

	info, err := os.Stat(opts.BaseDir)
	if err != nil || !info.IsDir() {
		return nil, errFactory.WithData(ErrMissingDirectory, opts.BaseDir)
	}

	samples := opts.Samples
	if samples < 1 {
		samples = opts.SamplingTime
	}

	w := &Writer{
		id:           opts.ID,
		path:         filepath.Join(opts.BaseDir, opts.FileName),
		samplingTime: opts.SamplingTime,
		header:       []string{TimestampColumn},
	}
	w.logger = logger.WithComponent("datafile").With("file", w.path)

	var pending []pendingAverage
	created := make(map[string]*sensor.AveragingSensor)

	for _, s := range opts.Sensors {
		ref, err := ParseReference(s, opts.DefaultGroup, defaultMode)
		if err != nil {
			return nil, err
		}

		if !reg.Contains(ref.Group, ref.Name, 0) {
			return nil, errFactory.WithMessage(ErrMissingSensor,
				fmt.Sprintf("File '%s' is requesting non-existent sensor %s.%s", opts.ID, ref.Group, ref.Name))
		}

		var chosen sensor.Sensor
		switch ref.Mode {
		case Sample:
			if chosen, err = reg.Get(ref.Group, ref.Name, 0); err != nil {
				return nil, err
			}

		case Average:
			key := sensor.Key{Group: ref.Group, Name: ref.Name, Interval: opts.SamplingTime}.String()
			if avg, ok := created[key]; ok {
				chosen = avg
			} else if reg.Contains(ref.Group, ref.Name, opts.SamplingTime) {
				if chosen, err = reg.GetAveraging(ref.Group, ref.Name, opts.SamplingTime); err != nil {
					return nil, err
				}
			} else {
				raw, err := reg.Get(ref.Group, ref.Name, 0)
				if err != nil {
					return nil, err
				}
				avg := sensor.NewAveraging(raw, samples)
				created[key] = avg
				pending = append(pending, pendingAverage{group: ref.Group, avg: avg})
				chosen = avg
			}
		}

		w.sensors = append(w.sensors, chosen)
		w.header = append(w.header, chosen.DisplayName())
	}

	entries := make([]sensor.Entry, len(pending))
	for i, p := range pending {
		entries[i] = sensor.Entry{Sensor: p.avg, Group: p.group, Interval: opts.SamplingTime}
	}
	if err := reg.PutAll(entries...); err != nil {
		return nil, err
	}

	if err := w.open(); err != nil {
		for _, p := range pending {
			if rmErr := reg.Remove(p.group, p.avg.Name(), opts.SamplingTime); rmErr != nil {
				w.logger.Error().Err(rmErr).Msg("Failed to unregister averaging sensor")
			}
		}
		return nil, err
	}

	w.logger.Info().
		Str("id", w.id).
		Int("sampling_time", w.samplingTime).
		Strs("header", w.header).
		Msg("Data file ready")

	return w, nil
}

// open opens the file for appending. A file whose header differs from
// ours is rotated away first; a new or empty file gets our header.
func (w *Writer) open() error {
	errFactory := errors.New()

	writeHeader := true
	if info, err := os.Stat(w.path); err == nil && info.Size() > 0 {
		existing, err := readHeader(w.path)
		if err == nil && slices.Equal(existing, w.header) {
			writeHeader = false
		} else {
			w.logger.Warn().
				Strs("existing", existing).
				Strs("header", w.header).
				Msg("Header mismatch, rotating file")
			if err := Rotate(w.path); err != nil {
				return err
			}
		}
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errFactory.Wrap(ErrOpenFailed, err)
	}

	w.file = f
	w.csv = csv.NewWriter(f)
	w.csv.UseCRLF = true

	if writeHeader {
		if err := w.writeRecord(w.header); err != nil {
			f.Close()
			return err
		}
	}

	return nil
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	return r.Read()
}

func (w *Writer) writeRecord(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

// CollectData reads every sensor once and appends a row stamped with ts
// as given, or with the current local time if ts is zero. A sensor that
// fails to read is recorded as absent.
func (w *Writer) CollectData(ctx context.Context, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now()
	}

	row := make([]string, 0, len(w.sensors)+1)
	row = append(row, ts.Format(TimestampLayout))
	for _, s := range w.sensors {
		row = append(row, sensor.ReadOrAbsent(ctx, s, w.logger).String())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New().WithData(ErrClosed, w.path)
	}

	w.logger.Debug().Strs("row", row).Msg("Writing row")

	return w.writeRecord(row)
}

// Close flushes and closes the file. Closing twice is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.file == nil {
		w.closed = true
		return nil
	}
	w.closed = true

	w.csv.Flush()
	if err := w.file.Close(); err != nil {
		return errors.New().Wrap(ErrWriteFailed, err)
	}

	return nil
}

func (w *Writer) ID() string {
	return w.id
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) SamplingTime() int {
	return w.samplingTime
}

// Header returns a copy of the header row.
func (w *Writer) Header() []string {
	return slices.Clone(w.header)
}

// Sensors returns the bound sensors in column order.
func (w *Writer) Sensors() []sensor.Sensor {
	return slices.Clone(w.sensors)
}

func (w *Writer) String() string {
	return fmt.Sprintf("<Writer %s: %s every %ds>", w.id, w.path, w.samplingTime)
}
