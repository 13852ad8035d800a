// Package config loads the daemon configuration from a TOML file,
// environment variables and command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/cdc/internal/datafile"
	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/telemetry"
	"github.com/sosodev/duration"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "CDC"
	DefaultLogLevel  = LogLevelWarning
	DefaultLogDir    = "/var/log/cdc"
	DefaultPIDFile   = "/run/cdc.pid"

	// TestSamplingTime replaces every file's sampling time in test mode.
	TestSamplingTime = 60
)

type Config struct {
	Main         Main          `mapstructure:"main"`
	Telemetry    Telemetry     `mapstructure:"telemetry"`
	Groups       []Group       `mapstructure:"groups"`
	DisplayNames []DisplayName `mapstructure:"display_names"`
	Files        []File        `mapstructure:"files"`

	// Set from the command line
	ConfigFile string `mapstructure:"-"`
	Foreground bool   `mapstructure:"-"`
	TestMode   bool   `mapstructure:"-"`
	Verbosity  int    `mapstructure:"-"`
}

type Main struct {
	LogLevel LogLevel `mapstructure:"log_level"`
	LogDir   string   `mapstructure:"log_dir"`
	PIDFile  string   `mapstructure:"pid_file"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

// Group is a set of sensors sharing a driver type and parameters. Type
// may carry inline parameters, as in "onewire/connection=/mnt/1wire".
type Group struct {
	Name    string            `mapstructure:"name"`
	Type    string            `mapstructure:"type"`
	Params  map[string]string `mapstructure:"params"`
	Sensors []Sensor          `mapstructure:"sensors"`
}

type Sensor struct {
	Name   string            `mapstructure:"name"`
	ID     string            `mapstructure:"id"`
	Params map[string]string `mapstructure:"params"`
}

// DisplayName overrides the column heading of Sensor, given as
// "group.name".
type DisplayName struct {
	Sensor string `mapstructure:"sensor"`
	Name   string `mapstructure:"name"`
}

type File struct {
	Name         string   `mapstructure:"name"`
	BaseDir      string   `mapstructure:"base_dir"`
	DefaultGroup string   `mapstructure:"default_group"`
	DefaultMode  string   `mapstructure:"default_mode"`
	SamplingTime string   `mapstructure:"sampling_time"`
	Samples      int      `mapstructure:"samples"`
	Sensors      []string `mapstructure:"sensors"`

	// Interval is SamplingTime in seconds
	Interval int `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.log_level", string(DefaultLogLevel))
	v.SetDefault("main.log_dir", DefaultLogDir)
	v.SetDefault("main.pid_file", DefaultPIDFile)
	t := telemetry.DefaultConfig()
	v.SetDefault("telemetry.enabled", t.Enabled)
	v.SetDefault("telemetry.db_path", t.DBPath)
	v.SetDefault("telemetry.batch_size", t.BatchSize)
	v.SetDefault("telemetry.batch_timeout", t.BatchTimeout)
}

// Load parses args (without the program name), reads the configuration
// file they name and validates the result. The file is the first
// positional argument, falling back to $CDC_CONFIG.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&o)
	}

	fs := pflag.NewFlagSet("cdc", pflag.ContinueOnError)
	foreground := fs.BoolP("foreground", "r", false, "Run in the foreground and log to the console")
	testMode := fs.BoolP("test", "t", false, fmt.Sprintf("Test mode: sample every %d seconds", TestSamplingTime))
	verbosity := fs.CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
	fs.String("log-level", "", "Override the configured log level")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	path := fs.Arg(0)
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if path == "" {
		path = o.configPath
	}
	if path == "" {
		return nil, errFactory.WithMessage(errors.ErrMissingConfig, "No configuration file given")
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlag("main.log_level", fs.Lookup("log-level")); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	cfg.ConfigFile = path
	cfg.Foreground = *foreground
	cfg.TestMode = *testMode
	cfg.Verbosity = *verbosity

	switch {
	case cfg.Verbosity >= 2:
		cfg.Main.LogLevel = LogLevelDebug
	case cfg.Verbosity == 1:
		cfg.Main.LogLevel = LogLevelInfo
	}
	cfg.Main.LogLevel = LogLevel(strings.ToLower(string(cfg.Main.LogLevel)))

	for i := range cfg.Files {
		f := &cfg.Files[i]
		if cfg.TestMode {
			f.Interval = TestSamplingTime
			continue
		}

		interval, err := ParseSamplingTime(f.SamplingTime)
		if err != nil {
			return nil, errFactory.WithMessage(errors.ErrInvalidInterval,
				fmt.Sprintf("File '%s' has invalid sampling time '%s'", f.Name, f.SamplingTime))
		}
		f.Interval = interval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseSamplingTime parses a whole number of seconds ("900") or an ISO
// 8601 duration ("PT15M").
func ParseSamplingTime(s string) (int, error) {
	errFactory := errors.New()

	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errFactory.WithData(errors.ErrInvalidInterval, s)
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return 0, errFactory.WithData(errors.ErrInvalidInterval, s)
		}
		return n, nil
	}

	d, err := duration.Parse(s)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInvalidInterval, err)
	}

	td := d.ToTimeDuration()
	if td.Seconds() < 1 || td.Truncate(time.Second) != td {
		return 0, errFactory.WithData(errors.ErrInvalidInterval, s)
	}

	return int(td.Seconds()), nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.Main.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, string(c.Main.LogLevel))
	}

	if c.Telemetry.Enabled && c.Telemetry.DBPath == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "Telemetry is enabled but db_path is empty")
	}

	sensors := make(map[string]bool)
	groups := make(map[string]bool)
	for _, g := range c.Groups {
		if g.Name == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "Sensor group without a name")
		}
		if groups[g.Name] {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				fmt.Sprintf("Sensor group '%s' is defined twice", g.Name))
		}
		groups[g.Name] = true

		if strings.TrimSpace(g.Type) == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				fmt.Sprintf("Sensor group '%s' has no type", g.Name))
		}

		for _, s := range g.Sensors {
			if s.Name == "" {
				return errFactory.WithMessage(errors.ErrInvalidConfig,
					fmt.Sprintf("Sensor group '%s' has a sensor without a name", g.Name))
			}
			key := g.Name + "." + s.Name
			if sensors[key] {
				return errFactory.WithMessage(errors.ErrInvalidConfig,
					fmt.Sprintf("Sensor '%s' is defined twice", key))
			}
			sensors[key] = true
		}
	}

	for _, d := range c.DisplayNames {
		if !sensors[d.Sensor] {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				fmt.Sprintf("Display name '%s' is given for undefined sensor '%s'", d.Name, d.Sensor))
		}
		if d.Name == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				fmt.Sprintf("Empty display name for sensor '%s'", d.Sensor))
		}
	}

	paths := make(map[string]string)
	for _, f := range c.Files {
		if f.Name == "" || f.BaseDir == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "Data file needs both name and base_dir")
		}
		path := filepath.Join(f.BaseDir, f.Name)
		if other, ok := paths[path]; ok {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				fmt.Sprintf("Files '%s' and '%s' both write to '%s'", other, f.Name, path))
		}
		paths[path] = f.Name
		if f.Interval < 1 {
			return errFactory.WithData(errors.ErrInvalidInterval, f.Interval)
		}
		if f.Samples < 0 {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				fmt.Sprintf("File '%s' has negative samples", f.Name))
		}
		if len(f.Sensors) == 0 {
			return errFactory.WithMessage(errors.ErrInvalidConfig,
				fmt.Sprintf("File '%s' lists no sensors", f.Name))
		}
		if f.DefaultMode != "" {
			if _, err := datafile.ParseMode(f.DefaultMode); err != nil {
				return err
			}
		}
	}

	return nil
}
