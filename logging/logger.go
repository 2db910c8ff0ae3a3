package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger provides structured logging for the mirror pipeline
type ComponentLogger struct {
	logger zerolog.Logger
}

// NewComponentLogger creates a component-specific logger with consistent context
func NewComponentLogger(componentName, version string) *ComponentLogger {
	// Configure zerolog globally
	zerolog.TimeFieldFormat = time.RFC3339

	// Set log level from environment
	logLevel := os.Getenv("LOG_LEVEL")
	switch logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Console output for development
	if os.Getenv("ENVIRONMENT") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    false,
		})
	}

	// Create component-specific logger
	logger := log.With().
		Str("component", componentName).
		Str("version", version).
		Logger()

	return &ComponentLogger{
		logger: logger,
	}
}

func (cl *ComponentLogger) Info() *zerolog.Event {
	return cl.logger.Info()
}

func (cl *ComponentLogger) Error() *zerolog.Event {
	return cl.logger.Error()
}

func (cl *ComponentLogger) Warn() *zerolog.Event {
	return cl.logger.Warn()
}

func (cl *ComponentLogger) Debug() *zerolog.Event {
	return cl.logger.Debug()
}

// WithEntry returns a child logger carrying entity/date/stage context for one
// mirror entry's processing.
func (cl *ComponentLogger) WithEntry(entity, date, stage string) *ComponentLogger {
	logger := cl.logger.With().
		Str("entity", entity).
		Str("date", date).
		Str("stage", stage).
		Logger()
	return &ComponentLogger{logger: logger}
}

// LogStartup logs pipeline startup with structured fields
func (cl *ComponentLogger) LogStartup(config StartupConfig) {
	cl.Info().
		Str("command", config.Command).
		Str("mirror_url", config.MirrorURL).
		Str("destination", config.Destination).
		Int("chunk_max_rows", config.ChunkMaxRows).
		Int64("chunk_max_bytes", config.ChunkMaxBytes).
		Strs("entities", config.Entities).
		Msg("Starting mirror pipeline")
}

// LogEntryOutcome logs the final outcome of one mirror entry's extraction
func (cl *ComponentLogger) LogEntryOutcome(url string, chunks int, rows, skipped int64, duration time.Duration, err error) {
	if err != nil {
		cl.Error().
			Err(err).
			Str("url", url).
			Dur("elapsed", duration).
			Msg("Mirror entry failed")
		return
	}
	cl.Info().
		Str("url", url).
		Int("chunks", chunks).
		Int64("rows", rows).
		Int64("skipped", skipped).
		Dur("elapsed", duration).
		Msg("Mirror entry extracted")
}

// StartupConfig represents pipeline startup configuration
type StartupConfig struct {
	Command       string
	MirrorURL     string
	Destination   string
	ChunkMaxRows  int
	ChunkMaxBytes int64
	Entities      []string
}
