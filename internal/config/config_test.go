package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/cdc/internal/config"
	"codeberg.org/mutker/cdc/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[main]
log_level = "info"
log_dir   = "/tmp/cdc-logs"
pid_file  = "/tmp/cdc.pid"

[telemetry]
enabled = true
db_path = "/tmp/cdc/telemetry.db"

[[groups]]
name = "Basement"
type = "onewire/connection=/mnt/1wire"

  [[groups.sensors]]
  name = "T1"
  id   = "BF000002A86AF728"

  [[groups.sensors]]
  name = "T2"
  id   = "28.F76AA8020001"
  params = { units = "F" }

[[groups]]
name   = "Rack"
type   = "gpu"
params = { metric = "temperature" }

  [[groups.sensors]]
  name = "Core"
  id   = "0"

[[display_names]]
sensor = "Basement.T1"
name   = "Basement Air"

[[files]]
name          = "basement.csv"
base_dir      = "/tmp"
default_group = "Basement"
default_mode  = "sample"
sampling_time = 900
samples       = 12
sensors       = ["T1", "T2/AVERAGE", "Rack.Core"]

[[files]]
name          = "rack.csv"
base_dir      = "/tmp"
default_group = "Rack"
sampling_time = "PT5M"
sensors       = ["Core"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cdc.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := config.Load([]string{path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, config.LogLevelInfo, cfg.Main.LogLevel)
	assert.Equal(t, "/tmp/cdc-logs", cfg.Main.LogDir)
	assert.Equal(t, "/tmp/cdc.pid", cfg.Main.PIDFile)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "/tmp/cdc/telemetry.db", cfg.Telemetry.DBPath)
	assert.Equal(t, 50, cfg.Telemetry.BatchSize)

	require.Len(t, cfg.Groups, 2)
	basement := cfg.Groups[0]
	assert.Equal(t, "Basement", basement.Name)
	assert.Equal(t, "onewire/connection=/mnt/1wire", basement.Type)
	require.Len(t, basement.Sensors, 2)
	assert.Equal(t, "T1", basement.Sensors[0].Name)
	assert.Equal(t, "BF000002A86AF728", basement.Sensors[0].ID)
	assert.Equal(t, map[string]string{"units": "F"}, basement.Sensors[1].Params)
	assert.Equal(t, map[string]string{"metric": "temperature"}, cfg.Groups[1].Params)

	require.Len(t, cfg.DisplayNames, 1)
	assert.Equal(t, config.DisplayName{Sensor: "Basement.T1", Name: "Basement Air"}, cfg.DisplayNames[0])

	require.Len(t, cfg.Files, 2)
	assert.Equal(t, 900, cfg.Files[0].Interval)
	assert.Equal(t, 12, cfg.Files[0].Samples)
	assert.Equal(t, []string{"T1", "T2/AVERAGE", "Rack.Core"}, cfg.Files[0].Sensors)
	assert.Equal(t, 300, cfg.Files[1].Interval)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
[[files]]
name          = "a.csv"
base_dir      = "/tmp"
sampling_time = "60"
sensors       = ["G.T1"]
`)

	cfg, err := config.Load([]string{path})
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.Main.LogLevel)
	assert.Equal(t, config.DefaultLogDir, cfg.Main.LogDir)
	assert.Equal(t, config.DefaultPIDFile, cfg.Main.PIDFile)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.Foreground)
	assert.False(t, cfg.TestMode)
}

func TestLoadFromEnvironment(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("CDC_CONFIG", path)
	t.Setenv("CDC_MAIN_LOG_DIR", "/srv/logs")

	cfg, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, "/srv/logs", cfg.Main.LogDir)
}

func TestLoadMissingConfig(t *testing.T) {
	t.Setenv("CDC_CONFIG", "")

	_, err := config.Load(nil)
	assert.True(t, errors.HasCode(err, errors.ErrMissingConfig))

	_, err = config.Load([]string{filepath.Join(t.TempDir(), "absent.toml")})
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := config.Load([]string{path})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[main]
log_level = "invalid"
`)

	_, err := config.Load([]string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestFlags(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := config.Load([]string{"-r", "-t", "-vv", path})
	require.NoError(t, err)

	assert.True(t, cfg.Foreground)
	assert.True(t, cfg.TestMode)
	assert.Equal(t, 2, cfg.Verbosity)
	assert.Equal(t, config.LogLevelDebug, cfg.Main.LogLevel)
	for _, f := range cfg.Files {
		assert.Equal(t, config.TestSamplingTime, f.Interval, f.Name)
	}

	cfg, err = config.Load([]string{"--log-level", "error", path})
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelError, cfg.Main.LogLevel)

	cfg, err = config.Load([]string{"-v", path})
	require.NoError(t, err)
	assert.Equal(t, config.LogLevelInfo, cfg.Main.LogLevel)

	_, err = config.Load([]string{"--bogus", path})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestParseSamplingTime(t *testing.T) {
	for in, want := range map[string]int{
		"900":    900,
		" 5 ":    5,
		"PT15M":  900,
		"PT1H":   3600,
		"PT1M5S": 65,
	} {
		got, err := config.ParseSamplingTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "0", "-5", "soon", "PT0.5S"} {
		_, err := config.ParseSamplingTime(in)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval), in)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{
			name: "duplicate group",
			content: `
[[groups]]
name = "G"
type = "null"
[[groups]]
name = "G"
type = "null"
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "group without type",
			content: `
[[groups]]
name = "G"
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "duplicate sensor",
			content: `
[[groups]]
name = "G"
type = "null"
  [[groups.sensors]]
  name = "T1"
  [[groups.sensors]]
  name = "T1"
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "display name for undefined sensor",
			content: `
[[display_names]]
sensor = "G.T9"
name   = "Nowhere"
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "file without sensors",
			content: `
[[files]]
name          = "a.csv"
base_dir      = "/tmp"
sampling_time = 5
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "two files for one path",
			content: `
[[files]]
name          = "a.csv"
base_dir      = "/tmp"
sampling_time = 5
sensors       = ["G.T1"]

[[files]]
name          = "a.csv"
base_dir      = "/tmp/"
sampling_time = 10
sensors       = ["G.T2"]
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "invalid sampling time",
			content: `
[[files]]
name          = "a.csv"
base_dir      = "/tmp"
sampling_time = "often"
sensors       = ["G.T1"]
`,
			code: errors.ErrInvalidInterval,
		},
		{
			name: "invalid default mode",
			content: `
[[files]]
name          = "a.csv"
base_dir      = "/tmp"
sampling_time = 5
default_mode  = "MEDIAN"
sensors       = ["G.T1"]
`,
			code: errors.ErrInvalidMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load([]string{writeConfig(t, tt.content)})
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
