package worldsync

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := engineConfig{
		TickRate: 30, CellSize: 8, ShardWidth: 256, ShardHeight: 256,
		ViewHalfWidth: 16, ViewHalfHeight: 16, SweepMargin: 1, MaxSteps: 8,
	}

	tests := []struct {
		name    string
		mutate  func(cfg *engineConfig)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*engineConfig) {}},
		{name: "zero tick rate", mutate: func(cfg *engineConfig) { cfg.TickRate = 0 }, wantErr: true},
		{name: "nan tick rate", mutate: func(cfg *engineConfig) { cfg.TickRate = math.NaN() }, wantErr: true},
		{name: "sub-nanosecond interval", mutate: func(cfg *engineConfig) { cfg.TickRate = 2e9 }, wantErr: true},
		{name: "one nanosecond interval", mutate: func(cfg *engineConfig) { cfg.TickRate = 1e9 }},
		{name: "zero cell size", mutate: func(cfg *engineConfig) { cfg.CellSize = 0 }, wantErr: true},
		{name: "negative shard", mutate: func(cfg *engineConfig) { cfg.ShardHeight = -1 }, wantErr: true},
		{name: "negative view", mutate: func(cfg *engineConfig) { cfg.ViewHalfWidth = -1 }, wantErr: true},
		{name: "negative margin", mutate: func(cfg *engineConfig) { cfg.SweepMargin = -1 }, wantErr: true},
		{name: "zero margin", mutate: func(cfg *engineConfig) { cfg.SweepMargin = 0 }},
		{name: "zero max steps", mutate: func(cfg *engineConfig) { cfg.MaxSteps = 0 }, wantErr: true},
		{name: "negative cap", mutate: func(cfg *engineConfig) { cfg.SkipBudgetCap = -2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOptions_ApplyOverridesNonZero(t *testing.T) {
	t.Parallel()

	cfg := engineConfig{
		TickRate: 30, CellSize: 8, ShardWidth: 256, ShardHeight: 256,
		ViewHalfWidth: 16, ViewHalfHeight: 16, SweepMargin: 1, MaxSteps: 8,
	}
	opt := newDefaultOptions()
	require.Error(t, opt.validate())

	cfg.applyToOptions(&opt)
	opt.apply(Options{TickRate: 60, SkipBudgetCap: 4})

	assert.InDelta(t, 60, opt.TickRate, 0)
	assert.Equal(t, 8, opt.CellSize)
	assert.Equal(t, 4, opt.SkipBudgetCap)
	assert.Equal(t, 1, opt.SweepMargin)
	require.NoError(t, opt.validate())
}

func TestStageManager(t *testing.T) {
	t.Parallel()

	m := newStageManager()
	assert.Equal(t, StageInit, m.Current())
	assert.False(t, m.CompareAndSwap(StageRunning, StageHalted))
	assert.True(t, m.CompareAndSwap(StageInit, StageRunning))
	assert.Equal(t, StageRunning, m.Swap(StageHalted))
	assert.Equal(t, StageHalted, m.Current())
}
