package datafile_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"codeberg.org/mutker/cdc/internal/sensor"
	"github.com/stretchr/testify/require"
)

const testGroup = "TestGroup"

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

// newTestRegistry registers T1..T5 counting by 1, 5, 10, 15 and 20. T5
// carries a display name.
func newTestRegistry(t *testing.T) *sensor.Registry {
	t.Helper()

	reg := sensor.NewRegistry()
	for name, incr := range map[string]float64{"T1": 1, "T2": 5, "T3": 10, "T4": 15} {
		require.NoError(t, reg.Put(newCounter(name, incr), testGroup, 0))
	}

	t5 := newCounter("T5", 20)
	t5.SetDisplayName("T5 Display")
	require.NoError(t, reg.Put(t5, testGroup, 0))

	return reg
}

func readFile(t *testing.T, path ...string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(path...))
	require.NoError(t, err)

	return string(data)
}

func splitRows(content string) []string {
	rows := strings.Split(content, "\r\n")
	if n := len(rows); n > 0 && rows[n-1] == "" {
		rows = rows[:n-1]
	}
	return rows
}
