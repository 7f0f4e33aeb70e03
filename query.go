package worldsync

import (
	"github.com/rotisserie/eris"
	"pkg.world.dev/world-engine/worldsync/component"
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/internal/event"
	"pkg.world.dev/world-engine/worldsync/snapshot"
	"pkg.world.dev/world-engine/worldsync/spatial"
)

// Registry returns the component registry. Extra component types must be registered before the
// first snapshot is applied.
func (e *Engine) Registry() *ecs.Registry { return e.reg }

func (e *Engine) Components() *component.Set { return e.comps }

func (e *Engine) Transforms() *ecs.Store[spatial.Transform] { return e.comps.Transforms }

func (e *Engine) Motions() *ecs.Store[component.Motion] { return e.comps.Motions }

func (e *Engine) Healths() *ecs.Store[component.Health] { return e.comps.Healths }

func (e *Engine) Appearances() *ecs.Store[component.Appearance] { return e.comps.Appearances }

func (e *Engine) Statuses() *ecs.Store[component.Status] { return e.comps.Statuses }

func (e *Engine) Ownerships() *ecs.Store[component.Ownership] { return e.comps.Ownerships }

func (e *Engine) PlayerStats() *ecs.Store[component.PlayerStats] { return e.comps.PlayerStats }

// ActiveShard returns the active shard reported by the last applied snapshot.
func (e *Engine) ActiveShard() ecs.ShardID { return e.decoder.ActiveShard() }

// LocalPlayer returns the id of the predicted entity, if known.
func (e *Engine) LocalPlayer() (ecs.EntityID, bool) { return e.decoder.LocalPlayer() }

// SetLocalPlayer names the predicted entity before the server's first player record arrives.
func (e *Engine) SetLocalPlayer(id ecs.EntityID) { e.decoder.SetLocalPlayer(id) }

// SetCamera pins the interest region; FollowLocalPlayer undoes it.
func (e *Engine) SetCamera(x, y float32) { e.decoder.SetCamera(x, y) }

func (e *Engine) FollowLocalPlayer() { e.decoder.FollowLocalPlayer() }

// LastServerTick returns the tick counter of the last applied snapshot.
func (e *Engine) LastServerTick() uint32 { return e.decoder.LastTick() }

// ClientTick returns the number of fixed ticks run since the engine was created.
func (e *Engine) ClientTick() uint32 { return e.tick }

// Pending returns the number of snapshots waiting for admission.
func (e *Engine) Pending() int { return e.pending.Len() }

// SkipBudget returns the current admission credit.
func (e *Engine) SkipBudget() int { return e.policy.Budget() }

// Query calls fn once for every entity whose cells overlap rect in the given shard, until fn
// returns false.
func (e *Engine) Query(shard ecs.ShardID, rect spatial.CellRect, fn func(id ecs.EntityID) bool) {
	e.index.Query(shard, rect, fn)
}

// EntitiesNear calls fn for every entity in the active shard whose bounds come within radius of
// (x, y), until fn returns false.
func (e *Engine) EntitiesNear(x, y, radius float32, fn func(id ecs.EntityID) bool) {
	e.index.Near(e.decoder.ActiveShard(), x, y, radius, fn)
}

// Tile returns the tile id at (x, y) of a known shard.
func (e *Engine) Tile(shard ecs.ShardID, x, y int) (uint16, bool) {
	s, ok := e.index.LookupShard(shard)
	if !ok {
		return 0, false
	}
	return s.Tile(x, y)
}

// DefineShard sets the extent of a shard ahead of its first use.
func (e *Engine) DefineShard(id ecs.ShardID, width, height int) error {
	if _, err := e.index.DefineShard(id, width, height); err != nil {
		return eris.Wrap(err, "failed to define shard")
	}
	return nil
}

// Subscriptions. Handlers run on the engine goroutine at the end of the tick that produced the
// event, after every snapshot of that tick has been applied. A handler error is logged and does
// not stop the loop.

func (e *Engine) OnCreated(fn func(id ecs.EntityID) error) {
	subscribe(e.events, event.KindCreated, fn)
}

func (e *Engine) OnRemoved(fn func(r snapshot.Removal) error) {
	subscribe(e.events, event.KindRemoved, fn)
}

func (e *Engine) OnShardChanged(fn func(sc snapshot.ShardChange) error) {
	subscribe(e.events, event.KindShardChanged, fn)
}

func (e *Engine) OnCombat(fn func(hit snapshot.CombatHit) error) {
	subscribe(e.events, event.KindCombat, fn)
}

func (e *Engine) OnStatus(fn func(sd snapshot.StatusDelta) error) {
	subscribe(e.events, event.KindStatus, fn)
}

func (e *Engine) OnTile(fn func(tu snapshot.TileUpdate) error) {
	subscribe(e.events, event.KindTile, fn)
}

func (e *Engine) OnSideChannel(fn func(sc snapshot.SideChannel) error) {
	subscribe(e.events, event.KindSideChannel, fn)
}

func (e *Engine) OnStageChanged(fn func(sc StageChange) error) {
	subscribe(e.events, event.KindStage, fn)
}

func subscribe[T any](m *event.Manager, kind event.Kind, fn func(T) error) {
	m.Subscribe(kind, func(ev event.Event) error {
		payload, ok := ev.Payload.(T)
		if !ok {
			return eris.Errorf("unexpected payload %T for event kind %d", ev.Payload, ev.Kind)
		}
		return fn(payload)
	})
}
