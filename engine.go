// Package worldsync is the client-side world-state synchronization engine. It turns a stream of
// authoritative snapshots into a spatially indexed set of entities and components, paced by a
// fixed-timestep loop that absorbs network jitter without breaking per-tick ordering.
//
// One goroutine owns the engine and calls Advance, Tick or Run. Transport goroutines only call
// Receive.
package worldsync

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"pkg.world.dev/world-engine/worldsync/assert"
	"pkg.world.dev/world-engine/worldsync/component"
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/internal/admission"
	"pkg.world.dev/world-engine/worldsync/internal/event"
	"pkg.world.dev/world-engine/worldsync/internal/inbound"
	"pkg.world.dev/world-engine/worldsync/snapshot"
	"pkg.world.dev/world-engine/worldsync/spatial"
	"pkg.world.dev/world-engine/worldsync/statsd"
	"pkg.world.dev/world-engine/worldsync/telemetry"
	"pkg.world.dev/world-engine/worldsync/wire"
)

var ErrNotRunning = eris.New("engine is not running")

// InputSource supplies the local player's intent for the tick about to be transmitted. The
// engine fills in the tick counters and the predicted position.
type InputSource interface {
	Input(tick uint32) snapshot.Input
}

// Sender transmits an outbound message. payload is reused after Send returns.
type Sender interface {
	Send(kind snapshot.Kind, payload []byte) error
}

// Recorder receives every inbound message as it arrives. It is called from transport goroutines.
type Recorder interface {
	Record(ctx context.Context, msg []byte) error
}

// Engine owns the registry, the spatial index, the decoder and the inbound queues.
type Engine struct {
	reg     *ecs.Registry
	comps   *component.Set
	index   *spatial.Index
	decoder *snapshot.Decoder

	pending     *inbound.Queue[[]byte]
	corrections *inbound.Queue[snapshot.Correction]
	policy      *admission.Policy
	events      *event.Manager
	stage       *stageManager

	interval    time.Duration
	lag         time.Duration
	tick        uint32
	correctBuf  []snapshot.Correction
	out         *wire.Writer
	failure     error
	failureLock sync.Mutex

	options Options
	logger  zerolog.Logger
}

// New creates an engine. Options override the WORLDSYNC_* environment.
func New(opts Options) (*Engine, error) {
	cfg, err := loadEngineConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load engine config")
	}
	options := newDefaultOptions()
	cfg.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid engine options")
	}

	var logger zerolog.Logger
	if options.Logger != nil {
		logger = options.Logger.With().Str("component", "worldsync.engine").Logger()
	} else {
		tel, err := telemetry.New(telemetry.Options{ServiceName: "worldsync"})
		if err != nil {
			return nil, eris.Wrap(err, "failed to initialize telemetry")
		}
		logger = tel.GetLogger("engine")
	}

	index, err := spatial.NewIndex(spatial.Config{
		CellSize:    options.CellSize,
		ShardWidth:  options.ShardWidth,
		ShardHeight: options.ShardHeight,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to create spatial index")
	}

	reg := ecs.NewRegistry()
	comps, err := component.Register(reg, component.Hooks{
		// Consumers may drop a Transform or destroy an entity directly; the index follows.
		TransformDetached: func(h ecs.Handle, _ *spatial.Transform) {
			index.Remove(reg.ID(h))
		},
		Spawned: func(h ecs.Handle, t *spatial.Transform) {
			logger.Trace().
				Uint32("entity", uint32(reg.ID(h))).
				Float32("x", t.X).
				Float32("y", t.Y).
				Msg("entity spawned")
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register components")
	}

	view := snapshot.View{
		HalfWidth:  options.ViewHalfWidth,
		HalfHeight: options.ViewHalfHeight,
		Margin:     options.SweepMargin,
	}

	return &Engine{
		reg:         reg,
		comps:       comps,
		index:       index,
		decoder:     snapshot.NewDecoder(reg, comps, index, view, logger.With().Str("scope", "decoder").Logger()),
		pending:     inbound.NewQueue[[]byte](),
		corrections: inbound.NewQueue[snapshot.Correction](),
		policy:      admission.New(options.SkipBudgetCap),
		events:      event.NewManager(),
		stage:       newStageManager(),
		interval:    tickInterval(options.TickRate),
		out:         wire.NewWriter(64),
		options:     options,
		logger:      logger,
	}, nil
}

// Start moves the engine to the running stage. Additional components must be registered before
// the first snapshot is applied.
func (e *Engine) Start() error {
	prev := e.stage.Current()
	if prev == StageRunning {
		return eris.New("engine is already running")
	}
	if !e.stage.CompareAndSwap(prev, StageRunning) {
		return eris.New("engine stage changed concurrently")
	}

	tags := e.reg.ComponentTags()
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		name, _ := e.reg.ComponentName(tag)
		names = append(names, name)
	}
	e.logger.Info().
		Strs("components", names).
		Dur("interval", e.interval).
		Int("max_steps", e.options.MaxSteps).
		Msg("engine started")

	e.emitStage(prev, StageRunning)
	return nil
}

// Stage returns the current engine stage.
func (e *Engine) Stage() Stage {
	return e.stage.Current()
}

// Receive accepts one framed message from the transport. It never touches world state, so it is
// safe to call from any goroutine. The engine keeps msg, so the caller must not reuse it. A
// malformed message is a protocol error: it is returned to the caller and the world is reset on
// the next tick.
func (e *Engine) Receive(msg []byte) error {
	if e.stage.Current() != StageRunning {
		return ErrNotRunning
	}

	kind, body, err := snapshot.SplitMessage(msg)
	if err != nil {
		return e.setFailure(err)
	}

	switch kind {
	case snapshot.KindSnapshot:
		e.pending.Push(body)
	case snapshot.KindCorrection:
		corr, err := snapshot.DecodeCorrection(body)
		if err != nil {
			return e.setFailure(err)
		}
		e.corrections.Push(corr)
	case snapshot.KindInput:
		return e.setFailure(eris.Wrap(snapshot.ErrProtocol, "server sent an input packet"))
	}

	if e.options.Recorder != nil {
		if err := e.options.Recorder.Record(context.Background(), msg); err != nil {
			e.logger.Warn().Err(err).Msg("failed to record inbound message")
		}
	}
	return nil
}

func (e *Engine) setFailure(err error) error {
	e.failureLock.Lock()
	defer e.failureLock.Unlock()
	if e.failure == nil {
		e.failure = err
	}
	return err
}

func (e *Engine) takeFailure() error {
	e.failureLock.Lock()
	defer e.failureLock.Unlock()
	err := e.failure
	e.failure = nil
	return err
}

// Run advances the engine on every value received from ticks until ctx is done or a protocol
// error resets the world. The first value only sets the time base.
func (e *Engine) Run(ctx context.Context, ticks <-chan time.Time) error {
	var last time.Time
	for {
		select {
		case now, ok := <-ticks:
			if !ok {
				return nil
			}
			if last.IsZero() {
				last = now
				continue
			}
			elapsed := now.Sub(last)
			last = now
			if _, err := e.Advance(elapsed); err != nil {
				return eris.Wrap(err, "failed to advance engine")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Advance adds elapsed wall-clock time to the lag accumulator and runs one tick per elapsed
// interval. At most MaxSteps ticks run per call; whole intervals beyond that are dropped, never
// snapshots. Returns the number of ticks run.
func (e *Engine) Advance(elapsed time.Duration) (int, error) {
	if elapsed > 0 {
		e.lag += elapsed
	}

	steps := 0
	for e.lag >= e.interval {
		if steps == e.options.MaxSteps {
			dropped := e.lag - e.lag%e.interval
			e.lag %= e.interval
			e.logger.Warn().Dur("dropped", dropped).Int("steps", steps).Msg("simulation fell behind, dropping lag")
			break
		}
		if err := e.Tick(); err != nil {
			return steps, err
		}
		e.lag -= e.interval
		steps++
	}
	return steps, nil
}

// Tick runs one fixed simulation step: pending corrections, admission, snapshot application,
// per-tick hooks, event dispatch and the outbound input packet.
func (e *Engine) Tick() error {
	if e.stage.Current() != StageRunning {
		return ErrNotRunning
	}
	start := time.Now()

	if err := e.takeFailure(); err != nil {
		return e.fail(err)
	}

	e.correctBuf = e.correctBuf[:0]
	e.corrections.Drain(&e.correctBuf)
	for _, corr := range e.correctBuf {
		if !e.decoder.ApplyCorrection(corr) {
			e.logger.Warn().Uint32("entity", uint32(corr.Entity)).Uint32("tick", corr.Tick).
				Msg("ignoring correction for an entity that is not the local player")
		}
	}

	queued := e.pending.Len()
	decision := e.policy.Decide(queued)
	for range decision.Apply {
		buf, ok := e.pending.PopFront()
		assert.That(ok, "admitted more snapshots than were queued")
		if !ok {
			break
		}
		frame, err := e.decoder.Apply(buf)
		if err != nil {
			return e.fail(err)
		}
		e.publish(frame)
	}

	stage := "apply"
	switch {
	case decision.CatchUp:
		stage = "catchup"
		statsd.Count(statsd.MetricCatchupDrains, 1)
		e.logger.Debug().Int("applied", decision.Apply).Uint32("tick", e.tick).Msg("caught up on snapshot backlog")
	case decision.Idle():
		stage = "idle"
	}

	dt := e.interval.Seconds()
	e.reg.Tick(dt)
	e.decoder.Sync()

	if err := e.events.Dispatch(); err != nil {
		e.logger.Warn().Err(err).Msg("event handlers failed")
	}

	e.transmit()
	e.tick++

	statsd.Count(statsd.MetricSnapshotsApplied, int64(decision.Apply))
	statsd.Gauge(statsd.MetricQueueDepth, float64(e.pending.Len()))
	statsd.Gauge(statsd.MetricSkipBudget, float64(e.policy.Budget()))
	statsd.Gauge(statsd.MetricEntities, float64(e.reg.Len()))
	statsd.EmitTickStat(start, stage)
	return nil
}

// fail resets the world after a protocol error and returns the error.
func (e *Engine) fail(err error) error {
	e.logger.Error().Err(err).Uint32("tick", e.tick).Msg("protocol error, resetting world")
	e.Reset()
	return eris.Wrap(err, "protocol error")
}

// Reset clears both queues, removes every entity with cause RemovalReset and halts the engine
// until Start is called again. Removal handlers run before Reset returns.
func (e *Engine) Reset() {
	prev := e.stage.Swap(StageHalted)

	dropped := e.pending.Clear()
	dropped += e.corrections.Clear()
	_ = e.takeFailure()
	e.policy.Reset()
	e.lag = 0

	removed := e.decoder.Clear()
	if e.events.Subscribed(event.KindRemoved) {
		for _, r := range removed {
			e.events.Enqueue(event.Event{Kind: event.KindRemoved, Payload: r})
		}
	}
	e.emitStage(prev, StageHalted)
	if err := e.events.Dispatch(); err != nil {
		e.logger.Warn().Err(err).Msg("event handlers failed during reset")
	}

	e.logger.Info().Int("removed", len(removed)).Int("dropped", dropped).Msg("world reset")
}

// Close halts the engine and releases the recorder if it holds resources.
func (e *Engine) Close() error {
	e.Reset()
	if c, ok := e.options.Recorder.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			return eris.Wrap(err, "failed to close recorder")
		}
	}
	return nil
}

func (e *Engine) transmit() {
	if e.options.Sender == nil {
		return
	}

	var in snapshot.Input
	if e.options.Input != nil {
		in = e.options.Input.Input(e.tick)
	}
	in.ClientTick = e.tick
	in.LastServerTick = e.decoder.LastTick()
	if id, ok := e.decoder.LocalPlayer(); ok {
		if t, _, ok := e.comps.Transforms.Find(id); ok {
			in.X, in.Y = t.X, t.Y
		}
	}

	e.out.Reset()
	in.Encode(e.out)
	if err := e.options.Sender.Send(snapshot.KindInput, e.out.Data()); err != nil {
		e.logger.Warn().Err(err).Uint32("tick", e.tick).Msg("failed to send input packet")
	}
}

// publish buffers the frame's notifications. Frames are reused by the decoder, so only values are
// enqueued.
func (e *Engine) publish(frame *snapshot.Frame) {
	if e.events.Subscribed(event.KindCreated) {
		for _, id := range frame.Created {
			e.events.Enqueue(event.Event{Kind: event.KindCreated, Payload: id})
		}
	}
	if e.events.Subscribed(event.KindRemoved) {
		for _, r := range frame.Removed {
			e.events.Enqueue(event.Event{Kind: event.KindRemoved, Payload: r})
		}
	}
	if e.events.Subscribed(event.KindShardChanged) {
		for _, sc := range frame.ShardChanges {
			e.events.Enqueue(event.Event{Kind: event.KindShardChanged, Payload: sc})
		}
	}
	if e.events.Subscribed(event.KindCombat) {
		for _, hit := range frame.Combat {
			e.events.Enqueue(event.Event{Kind: event.KindCombat, Payload: hit})
		}
	}
	if e.events.Subscribed(event.KindStatus) {
		for _, sd := range frame.Statuses {
			e.events.Enqueue(event.Event{Kind: event.KindStatus, Payload: sd})
		}
	}
	if e.events.Subscribed(event.KindTile) {
		for _, tu := range frame.Tiles {
			e.events.Enqueue(event.Event{Kind: event.KindTile, Payload: tu})
		}
	}
	if e.events.Subscribed(event.KindSideChannel) {
		for _, sc := range frame.SideChannel {
			e.events.Enqueue(event.Event{Kind: event.KindSideChannel, Payload: sc})
		}
	}
}

// StageChange is delivered to OnStageChanged handlers.
type StageChange struct {
	From, To Stage
}

func (e *Engine) emitStage(from, to Stage) {
	if from == to {
		return
	}
	e.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("engine stage changed")
	if e.events.Subscribed(event.KindStage) {
		e.events.Enqueue(event.Event{Kind: event.KindStage, Payload: StageChange{From: from, To: to}})
	}
}
