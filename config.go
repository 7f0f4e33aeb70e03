package worldsync

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// engineConfig holds the configuration for an Engine. Configuration can be set via environment
// variables with the specified defaults.
type engineConfig struct {
	// Number of fixed simulation ticks per second.
	TickRate float64 `env:"WORLDSYNC_TICK_RATE" envDefault:"30"`

	// Side of a grid cell in tiles.
	CellSize int `env:"WORLDSYNC_CELL_SIZE" envDefault:"8"`

	// Default shard extent in tiles, used for shards the server never describes.
	ShardWidth  int `env:"WORLDSYNC_SHARD_WIDTH" envDefault:"256"`
	ShardHeight int `env:"WORLDSYNC_SHARD_HEIGHT" envDefault:"256"`

	// Half extents of the camera view in tiles.
	ViewHalfWidth  float32 `env:"WORLDSYNC_VIEW_HALF_WIDTH" envDefault:"16"`
	ViewHalfHeight float32 `env:"WORLDSYNC_VIEW_HALF_HEIGHT" envDefault:"16"`

	// Cells added around the view before entities are swept.
	SweepMargin int `env:"WORLDSYNC_SWEEP_MARGIN" envDefault:"1"`

	// Upper bound on ticks run by a single Advance call.
	MaxSteps int `env:"WORLDSYNC_MAX_STEPS" envDefault:"8"`

	// Upper bound on banked skip budget. Zero leaves it unbounded.
	SkipBudgetCap int `env:"WORLDSYNC_SKIP_BUDGET_CAP" envDefault:"0"`
}

// loadEngineConfig loads the engine configuration from environment variables.
func loadEngineConfig() (engineConfig, error) {
	cfg := engineConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse engine config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *engineConfig) validate() error {
	if err := validateTickRate(cfg.TickRate); err != nil {
		return err
	}
	if cfg.CellSize <= 0 {
		return eris.New("cell size must be positive")
	}
	if cfg.ShardWidth <= 0 || cfg.ShardHeight <= 0 {
		return eris.New("shard extent must be positive")
	}
	if cfg.ViewHalfWidth < 0 || cfg.ViewHalfHeight < 0 {
		return eris.New("view extent cannot be negative")
	}
	if cfg.SweepMargin < 0 {
		return eris.New("sweep margin cannot be negative")
	}
	if cfg.MaxSteps <= 0 {
		return eris.New("max steps must be positive")
	}
	if cfg.SkipBudgetCap < 0 {
		return eris.New("skip budget cap cannot be negative")
	}
	return nil
}

// applyToOptions applies the configuration values to the given Options.
func (cfg *engineConfig) applyToOptions(opt *Options) {
	opt.TickRate = cfg.TickRate
	opt.CellSize = cfg.CellSize
	opt.ShardWidth = cfg.ShardWidth
	opt.ShardHeight = cfg.ShardHeight
	opt.ViewHalfWidth = cfg.ViewHalfWidth
	opt.ViewHalfHeight = cfg.ViewHalfHeight
	opt.SweepMargin = cfg.SweepMargin
	opt.MaxSteps = cfg.MaxSteps
	opt.SkipBudgetCap = cfg.SkipBudgetCap
}

type Options struct {
	TickRate       float64         // Fixed ticks per second
	CellSize       int             // Grid cell side in tiles
	ShardWidth     int             // Default shard width in tiles
	ShardHeight    int             // Default shard height in tiles
	ViewHalfWidth  float32         // Camera half width in tiles
	ViewHalfHeight float32         // Camera half height in tiles
	SweepMargin    int             // Cells kept around the view
	MaxSteps       int             // Ticks per Advance before lag is dropped
	SkipBudgetCap  int             // Skip budget bound, zero for none
	Logger         *zerolog.Logger // Defaults to a telemetry logger built from the environment
	Input          InputSource     // Supplies the local intent every tick
	Sender         Sender          // Receives the outbound input packet every tick
	Recorder       Recorder        // Receives every inbound message
}

// newDefaultOptions creates Options with values that fail validation unless the environment or
// the caller supplies them.
func newDefaultOptions() Options {
	return Options{
		TickRate:    0,
		CellSize:    0,
		ShardWidth:  0,
		ShardHeight: 0,
		MaxSteps:    0,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.TickRate != 0.0 {
		opt.TickRate = newOpt.TickRate
	}
	if newOpt.CellSize != 0 {
		opt.CellSize = newOpt.CellSize
	}
	if newOpt.ShardWidth != 0 {
		opt.ShardWidth = newOpt.ShardWidth
	}
	if newOpt.ShardHeight != 0 {
		opt.ShardHeight = newOpt.ShardHeight
	}
	if newOpt.ViewHalfWidth != 0 {
		opt.ViewHalfWidth = newOpt.ViewHalfWidth
	}
	if newOpt.ViewHalfHeight != 0 {
		opt.ViewHalfHeight = newOpt.ViewHalfHeight
	}
	if newOpt.SweepMargin != 0 {
		opt.SweepMargin = newOpt.SweepMargin
	}
	if newOpt.MaxSteps != 0 {
		opt.MaxSteps = newOpt.MaxSteps
	}
	if newOpt.SkipBudgetCap != 0 {
		opt.SkipBudgetCap = newOpt.SkipBudgetCap
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
	if newOpt.Input != nil {
		opt.Input = newOpt.Input
	}
	if newOpt.Sender != nil {
		opt.Sender = newOpt.Sender
	}
	if newOpt.Recorder != nil {
		opt.Recorder = newOpt.Recorder
	}
}

// validate checks that all required options are set and valid.
func (opt *Options) validate() error {
	if err := validateTickRate(opt.TickRate); err != nil {
		return err
	}
	if opt.CellSize <= 0 {
		return eris.New("cell size must be positive")
	}
	if opt.ShardWidth <= 0 || opt.ShardHeight <= 0 {
		return eris.New("shard extent must be positive")
	}
	if opt.ViewHalfWidth < 0 || opt.ViewHalfHeight < 0 {
		return eris.New("view extent cannot be negative")
	}
	if opt.SweepMargin < 0 {
		return eris.New("sweep margin cannot be negative")
	}
	if opt.MaxSteps <= 0 {
		return eris.New("max steps must be positive")
	}
	if opt.SkipBudgetCap < 0 {
		return eris.New("skip budget cap cannot be negative")
	}
	return nil
}

// tickInterval is the fixed step of a tick rate, truncated to whole nanoseconds.
func tickInterval(rate float64) time.Duration {
	return time.Duration(float64(time.Second) / rate)
}

func validateTickRate(rate float64) error {
	if !(rate > 0) {
		return eris.New("tick rate must be positive")
	}
	if rate > float64(time.Second) || tickInterval(rate) <= 0 {
		return eris.Errorf("tick rate %g is too high, the tick interval rounds to zero", rate)
	}
	return nil
}
