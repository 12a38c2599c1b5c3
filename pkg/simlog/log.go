/*
Package simlog provides structured logging for the simulator using
zerolog: a process-wide Logger configured once via Init, component
loggers derived from it with With(), and an async writer so a slow log
sink does not stall the simulation loop while its buffer has room.
*/
package simlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger instance, configured once via Init.
var Logger zerolog.Logger

// Level names accepted by Init.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init configures the process-wide Logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent derives a child logger tagged with a component name
// (allocator, scheduler, simdriver, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRunID derives a child logger tagged with the simulation run's id.
func WithRunID(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

// WithJobID derives a child logger tagged with a job id, for log lines
// scoped to one job's lifecycle (submit/start/end).
func WithJobID(jobID int64) zerolog.Logger {
	return Logger.With().Int64("job_id", jobID).Logger()
}

// WithResourceID derives a child logger tagged with a resource id, for
// log lines scoped to one compute resource's allocation history.
func WithResourceID(resourceID int) zerolog.Logger {
	return Logger.With().Int("resource_id", resourceID).Logger()
}
