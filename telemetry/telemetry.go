// Package telemetry builds the process logger and metric client from environment configuration.
package telemetry

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"pkg.world.dev/world-engine/worldsync/assert"
	"pkg.world.dev/world-engine/worldsync/statsd"
)

type Telemetry struct {
	Logger      zerolog.Logger
	serviceName string
	metrics     bool
}

// New loads the telemetry config from the environment, applies opts on top and sets up the
// logger. When a statsd address is configured the global metric client is replaced.
func New(opts Options) (Telemetry, error) {
	config, err := loadConfig()
	if err != nil {
		return Telemetry{}, eris.Wrap(err, "failed to load telemetry config")
	}

	options := newDefaultOptions()
	config.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return Telemetry{}, eris.Wrap(err, "invalid telemetry options")
	}

	t := Telemetry{
		Logger:      newLogger(options),
		serviceName: options.ServiceName,
	}
	if options.StatsdAddress != "" {
		if err := statsd.Init(options.StatsdAddress, options.StatsdTags); err != nil {
			return Telemetry{}, eris.Wrap(err, "failed to init statsd")
		}
		t.metrics = true
	}
	return t, nil
}

// Shutdown flushes and closes the metric client if one was created.
func (t *Telemetry) Shutdown() error {
	if !t.metrics {
		return nil
	}
	t.metrics = false
	return statsd.Close()
}

// GetLogger returns a component-specific logger.
func (t *Telemetry) GetLogger(component string) zerolog.Logger {
	return t.Logger.With().Str("component", t.serviceName+"."+component).Logger()
}

// newLogger creates a logger with the specified format.
func newLogger(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var writer io.Writer
	switch opts.LogFormat {
	case LogFormatPretty:
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	case LogFormatJSON:
		writer = out
	case LogFormatUndefined:
		assert.That(false, "unreachable")
		writer = out
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}
