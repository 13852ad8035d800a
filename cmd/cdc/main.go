package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"codeberg.org/mutker/cdc/internal/collector"
	"codeberg.org/mutker/cdc/internal/config"
	"codeberg.org/mutker/cdc/internal/errors"
	"codeberg.org/mutker/cdc/internal/gpu"
	"codeberg.org/mutker/cdc/internal/logger"
	"codeberg.org/mutker/cdc/internal/onewire"
	"codeberg.org/mutker/cdc/internal/pid"
	"codeberg.org/mutker/cdc/internal/sensor"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const logFileName = "cdc.log"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.Error().Err(err).Msg("Exiting with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	runID := uuid.NewString()

	logFile, err := initLogger(cfg, runID)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info().
		Str("config", cfg.ConfigFile).
		Bool("test_mode", cfg.TestMode).
		Msg("Starting cdc")

	if err := pid.Write(cfg.Main.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.Main.PIDFile); err != nil {
			logger.Error().Err(err).Msg("Failed to remove PID file")
		}
	}()

	gpuDriver := gpu.NewDriver()
	factory := sensor.NewFactory()
	factory.Register(onewire.SensorType, onewire.NewDriver().New)
	factory.Register(gpu.SensorType, gpuDriver.New)

	c, err := collector.New(cfg, factory,
		collector.WithRunID(runID),
		collector.WithCloser(gpuDriver),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		if closeErr := c.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("Failed to close collector")
		}
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Received termination signal.")

	c.Stop()
	if err := c.Close(); err != nil {
		return err
	}

	logger.Info().Msg("Exiting...")

	return nil
}

// initLogger logs to the console in the foreground and to
// log_dir/cdc.log otherwise. The returned file, if any, must be closed
// by the caller.
func initLogger(cfg *config.Config, runID string) (*os.File, error) {
	level, err := logger.ParseLevel(cfg.Main.LogLevel.String())
	if err != nil {
		return nil, err
	}

	opts := logger.Options{
		Level:     level,
		IsService: logger.IsService(),
		RunID:     runID,
	}

	var file *os.File
	if !cfg.Foreground {
		if err := os.MkdirAll(cfg.Main.LogDir, 0o755); err != nil {
			return nil, errors.New().Wrap(errors.ErrInitFailed, err)
		}
		file, err = os.OpenFile(filepath.Join(cfg.Main.LogDir, logFileName),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.New().Wrap(errors.ErrInitFailed, err)
		}
		opts.Output = file
	}

	logger.Init(opts)
	logger.Debug().Msg("Config loaded")

	return file, nil
}
