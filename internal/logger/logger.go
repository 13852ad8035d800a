package logger

import (
	"io"
	"os"
	"syscall"
	"time"

	"codeberg.org/mutker/cdc/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.Nop()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel maps a configured level name to a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch name {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warning", "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return WarnLevel, errors.New().WithData(errors.ErrInvalidLogLevel, name)
	}
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Options controls where and how much the logger writes
type Options struct {
	Level     LogLevel
	Output    io.Writer // nil means a console writer on stdout
	IsService bool
	RunID     string
}

// Init initializes the logger based on the given configuration
func Init(opts Options) {
	var output io.Writer = opts.Output
	if output == nil {
		console := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}

		if opts.IsService {
			console.TimeFormat = ""
			console.FormatTimestamp = func(_ interface{}) string {
				return ""
			}
		}
		output = console
	}

	ctx := zerolog.New(output).With().Timestamp()
	if opts.RunID != "" {
		ctx = ctx.Str("run_id", opts.RunID)
	}
	log = ctx.Logger()

	SetLogLevel(opts.Level)
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Error(), err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(log.Fatal(), err)}
}

func withCode(e *zerolog.Event, err errors.Error) *zerolog.Event {
	return e.
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())
}

// component tags every event with the name of the part of the daemon
// that emitted it. Events are built from the current global logger so
// component loggers created before Init still honour it.
type component struct {
	name   string
	fields []string
}

// WithComponent returns a Logger that adds a "component" field
func WithComponent(name string) Logger {
	return component{name: name}
}

// With returns a copy of the logger that also adds key=value
func (c component) With(key, value string) Logger {
	fields := make([]string, 0, len(c.fields)+2)
	fields = append(fields, c.fields...)
	fields = append(fields, key, value)

	return component{name: c.name, fields: fields}
}

func (c component) event(e *zerolog.Event) *zerolog.Event {
	e = e.Str("component", c.name)
	for i := 0; i+1 < len(c.fields); i += 2 {
		e = e.Str(c.fields[i], c.fields[i+1])
	}

	return e
}

func (c component) Debug() *LogEvent {
	return &LogEvent{c.event(log.Debug())}
}

func (c component) Info() *LogEvent {
	return &LogEvent{c.event(log.Info())}
}

func (c component) Warn() *LogEvent {
	return &LogEvent{c.event(log.Warn())}
}

func (c component) Error() *LogEvent {
	return &LogEvent{c.event(log.Error())}
}

func (c component) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{withCode(c.event(log.Error()), err)}
}
