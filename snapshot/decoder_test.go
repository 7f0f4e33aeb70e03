package snapshot_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkg.world.dev/world-engine/worldsync/component"
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/snapshot"
	"pkg.world.dev/world-engine/worldsync/spatial"
	"pkg.world.dev/world-engine/worldsync/testutils"
	"pkg.world.dev/world-engine/worldsync/wire"
)

type world struct {
	reg   *ecs.Registry
	comps *component.Set
	index *spatial.Index
	dec   *snapshot.Decoder
}

func newWorld(t *testing.T) *world {
	t.Helper()
	reg := ecs.NewRegistry()
	index, err := spatial.NewIndex(spatial.Config{CellSize: 8, ShardWidth: 2048, ShardHeight: 2048})
	require.NoError(t, err)
	comps, err := component.Register(reg, component.Hooks{
		TransformDetached: func(h ecs.Handle, _ *spatial.Transform) { index.Remove(reg.ID(h)) },
	})
	require.NoError(t, err)
	view := snapshot.View{HalfWidth: 16, HalfHeight: 16, Margin: 1}
	return &world{
		reg:   reg,
		comps: comps,
		index: index,
		dec:   snapshot.NewDecoder(reg, comps, index, view, zerolog.Nop()),
	}
}

func (w *world) apply(t *testing.T, s *snapshot.Snapshot) *snapshot.Frame {
	t.Helper()
	frame, err := w.dec.Apply(s.Encode())
	require.NoError(t, err)
	return frame
}

func transformAt(x, y, radius float32) snapshot.Payload {
	return snapshot.EncodePayload(component.TagTransform, func(w *wire.Writer) {
		tr := &spatial.Transform{X: x, Y: y}
		if radius > 0 {
			tr.Hitboxes = []spatial.Hitbox{{ID: 1, Kind: spatial.HitboxCircle, Radius: radius, Mass: 1}}
		}
		component.WriteTransform(w, tr, true)
	})
}

func healthOf(current float32) snapshot.Payload {
	return snapshot.EncodePayload(component.TagHealth, func(w *wire.Writer) {
		component.WriteHealth(w, component.Health{Current: current, Max: 100})
	})
}

func motionOf(vx, vy float32) snapshot.Payload {
	return snapshot.EncodePayload(component.TagMotion, func(w *wire.Writer) {
		component.WriteMotion(w, component.Motion{VX: vx, VY: vy})
	})
}

func cellsHolding(ix *spatial.Index, shard ecs.ShardID, id ecs.EntityID) []int {
	s := ix.Shard(shard)
	var out []int
	for cy := range s.Rows() {
		for cx := range s.Cols() {
			if slices.Contains(s.Cell(cx, cy), id) {
				out = append(out, s.CellIndex(cx, cy))
			}
		}
	}
	return out
}

func TestDecoder_CreateUpdateRemove(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.dec.SetCamera(0, 0)

	frame := w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1, Clock: 0.5},
		Entities: []snapshot.EntityRecord{
			{ID: 1, New: true, Type: component.TypeCharacter, Components: []snapshot.Payload{
				transformAt(2, 2, 1), healthOf(50),
			}},
			{ID: 2, New: true, Type: component.TypeItem, Components: []snapshot.Payload{transformAt(4, 4, 0)}},
		},
	})
	assert.Equal(t, []ecs.EntityID{1, 2}, frame.Created)
	assert.Equal(t, uint32(1), frame.Tick)
	assert.Equal(t, 2, w.reg.Len())
	assert.Equal(t, 2, w.index.Len())

	hp, _, ok := w.comps.Healths.Find(1)
	require.True(t, ok)
	assert.InDelta(t, 50, hp.Current, 0)

	frame = w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 2},
		Entities: []snapshot.EntityRecord{
			{ID: 1, Components: []snapshot.Payload{transformAt(3, 3, 1), healthOf(20)}},
		},
		Removals: []snapshot.Removal{{ID: 2, Cause: snapshot.RemovalDied}},
	})
	assert.Empty(t, frame.Created)
	assert.Equal(t, 1, frame.Updated)
	assert.Equal(t, []snapshot.Removal{{ID: 2, Type: component.TypeItem, Cause: snapshot.RemovalDied}}, frame.Removed)

	tr, _, ok := w.comps.Transforms.Find(1)
	require.True(t, ok)
	assert.InDelta(t, 3, tr.X, 0)
	hp, _, _ = w.comps.Healths.Find(1)
	assert.InDelta(t, 20, hp.Current, 0)

	_, ok = w.reg.Resolve(2)
	assert.False(t, ok)
	_, ok = w.index.Membership(2)
	assert.False(t, ok)
	assert.Equal(t, uint32(2), w.dec.LastTick())
}

func TestDecoder_MoveUpdatesCells(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.dec.SetCamera(0, 0)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 10},
		Entities: []snapshot.EntityRecord{
			{ID: 42, New: true, Type: component.TypeCharacter, Components: []snapshot.Payload{transformAt(0, 0, 5)}},
		},
	})
	assert.Equal(t, []int{0}, cellsHolding(w.index, 0, 42))

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 11},
		Entities: []snapshot.EntityRecord{
			{ID: 42, Components: []snapshot.Payload{transformAt(1000, 1000, 5)}},
		},
	})

	s := w.index.Shard(0)
	want := []int{s.CellIndex(124, 124), s.CellIndex(125, 124), s.CellIndex(124, 125), s.CellIndex(125, 125)}
	assert.Equal(t, want, cellsHolding(w.index, 0, 42))
}

func TestDecoder_SweepDespawnsOutOfRange(t *testing.T) {
	t.Parallel()
	w := newWorld(t)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1},
		Player: &snapshot.PlayerRecord{ID: 1},
		Entities: []snapshot.EntityRecord{
			{ID: 1, New: true, Type: component.TypePlayer, Components: []snapshot.Payload{transformAt(10, 10, 1)}},
			{ID: 7, New: true, Type: component.TypeCharacter, Components: []snapshot.Payload{transformAt(500, 500, 1)}},
			{ID: 8, New: true, Type: component.TypeCharacter, Components: []snapshot.Payload{transformAt(14, 14, 1)}},
		},
	})
	require.Equal(t, 3, w.reg.Len())

	// Entity 7 is absent from both the visible list and the removal list, and lies outside the
	// camera's expanded cells. Entity 8 is absent but still inside them.
	frame := w.apply(t, &snapshot.Snapshot{
		Header:   snapshot.Header{Tick: 2},
		Entities: []snapshot.EntityRecord{{ID: 1, Components: []snapshot.Payload{transformAt(10, 10, 1)}}},
	})
	assert.Equal(t, []snapshot.Removal{{ID: 7, Type: component.TypeCharacter, Cause: snapshot.RemovalDespawned}},
		frame.Removed)
	_, ok := w.reg.Resolve(8)
	assert.True(t, ok)
	_, ok = w.reg.Resolve(1)
	assert.True(t, ok)
}

func TestDecoder_LocalPlayerExemptFromSweep(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.dec.SetCamera(1000, 1000)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1},
		Player: &snapshot.PlayerRecord{ID: 1},
		Entities: []snapshot.EntityRecord{
			{ID: 1, New: true, Type: component.TypePlayer, Components: []snapshot.Payload{transformAt(0, 0, 1)}},
		},
	})
	frame := w.apply(t, &snapshot.Snapshot{Header: snapshot.Header{Tick: 2}})
	assert.Empty(t, frame.Removed)
	assert.Equal(t, 1, w.reg.Len())
}

func TestDecoder_InactiveShardSwept(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.dec.SetCamera(0, 0)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1, ActiveShard: 0},
		Entities: []snapshot.EntityRecord{
			{ID: 5, New: true, Type: component.TypePortal, Shard: 3, Components: []snapshot.Payload{transformAt(1, 1, 0)}},
		},
	})
	frame := w.apply(t, &snapshot.Snapshot{Header: snapshot.Header{Tick: 2, ActiveShard: 0}})
	require.Len(t, frame.Removed, 1)
	assert.Equal(t, snapshot.RemovalDespawned, frame.Removed[0].Cause)
}

func TestDecoder_ShardReassignment(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.dec.SetCamera(0, 0)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1},
		Entities: []snapshot.EntityRecord{
			{ID: 3, New: true, Type: component.TypeCharacter, Shard: 0, Components: []snapshot.Payload{
				transformAt(5, 5, 2),
			}},
		},
	})
	before := cellsHolding(w.index, 0, 3)
	require.NotEmpty(t, before)

	// Only the shard changes; the Transform is not resent.
	frame := w.apply(t, &snapshot.Snapshot{
		Header:   snapshot.Header{Tick: 2, ActiveShard: 1},
		Entities: []snapshot.EntityRecord{{ID: 3, Shard: 1}},
	})
	assert.Equal(t, []snapshot.ShardChange{{ID: 3, From: 0, To: 1}}, frame.ShardChanges)
	assert.Empty(t, cellsHolding(w.index, 0, 3))
	assert.Equal(t, before, cellsHolding(w.index, 1, 3))

	h, _ := w.reg.Resolve(3)
	assert.Equal(t, ecs.ShardID(1), w.reg.Shard(h))
	assert.Equal(t, ecs.ShardID(1), w.dec.ActiveShard())

	// Property: reassigning to the current shard is a no-op.
	frame = w.apply(t, &snapshot.Snapshot{
		Header:   snapshot.Header{Tick: 3, ActiveShard: 1},
		Entities: []snapshot.EntityRecord{{ID: 3, Shard: 1}},
	})
	assert.Empty(t, frame.ShardChanges)
}

func TestDecoder_LocalPlayerReconciliation(t *testing.T) {
	t.Parallel()
	w := newWorld(t)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1},
		Player: &snapshot.PlayerRecord{ID: 1},
		Entities: []snapshot.EntityRecord{
			{ID: 1, New: true, Type: component.TypePlayer, Components: []snapshot.Payload{
				transformAt(0, 0, 1), motionOf(1, 0), healthOf(100),
			}},
		},
	})

	// Local prediction moves the player.
	tr, h, ok := w.comps.Transforms.Find(1)
	require.True(t, ok)
	tr.X = 6
	w.comps.Transforms.Touch(h)

	frame := w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 2},
		Player: &snapshot.PlayerRecord{ID: 1, Components: []snapshot.Payload{healthOf(80)}},
		Entities: []snapshot.EntityRecord{
			// Stale server pose and velocity for the predicted entity, plus a health value that the
			// visible path must skip.
			{ID: 1, Components: []snapshot.Payload{transformAt(1, 1, 3), motionOf(9, 9), healthOf(5)}},
			// Decoded after the skipped bytes; must land intact.
			{ID: 2, New: true, Type: component.TypeItem, Components: []snapshot.Payload{transformAt(2, 2, 1)}},
		},
	})
	assert.Equal(t, []ecs.EntityID{2}, frame.Created)

	tr = w.comps.Transforms.Get(h)
	assert.InDelta(t, 6, tr.X, 0, "predicted position must survive")
	require.Len(t, tr.Hitboxes, 1)
	assert.InDelta(t, 3, tr.Hitboxes[0].Radius, 0, "geometry comes from the server")

	m := w.comps.Motions.Get(h)
	assert.InDelta(t, 1, m.VX, 0)

	hp := w.comps.Healths.Get(h)
	assert.InDelta(t, 80, hp.Current, 0, "player record applies non-predicted components")

	item, _, ok := w.comps.Transforms.Find(2)
	require.True(t, ok)
	assert.InDelta(t, 2, item.X, 0)

	// Property: the index follows the predicted pose.
	membership, ok := w.index.Membership(1)
	require.True(t, ok)
	assert.InDelta(t, 3, membership.Bounds.MinX, 1e-6)
}

func TestDecoder_Correction(t *testing.T) {
	t.Parallel()
	w := newWorld(t)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1},
		Player: &snapshot.PlayerRecord{ID: 1},
		Entities: []snapshot.EntityRecord{
			{ID: 1, New: true, Type: component.TypePlayer, Components: []snapshot.Payload{transformAt(0, 0, 1)}},
			{ID: 2, New: true, Type: component.TypeCharacter, Components: []snapshot.Payload{transformAt(1, 1, 1)}},
		},
	})

	assert.False(t, w.dec.ApplyCorrection(snapshot.Correction{Entity: 2, X: 9}))
	assert.True(t, w.dec.ApplyCorrection(snapshot.Correction{Entity: 1, X: 500, Y: 500, VX: 1, AY: -1}))

	tr, h, _ := w.comps.Transforms.Find(1)
	assert.InDelta(t, 500, tr.X, 0)
	assert.Equal(t, component.Motion{VX: 1, AY: -1}, *w.comps.Motions.Get(h))
	m, _ := w.index.Membership(1)
	assert.Equal(t, spatial.CellRect{MinX: 62, MinY: 62, MaxX: 62, MaxY: 62}, m.Rect)
}

func TestDecoder_ExplicitRemovalWinsOverUpdate(t *testing.T) {
	t.Parallel()
	w := newWorld(t)
	w.dec.SetCamera(0, 0)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1},
		Entities: []snapshot.EntityRecord{
			{ID: 4, New: true, Type: component.TypeCharacter, Components: []snapshot.Payload{healthOf(1)}},
		},
	})
	frame := w.apply(t, &snapshot.Snapshot{
		Header:   snapshot.Header{Tick: 2},
		Entities: []snapshot.EntityRecord{{ID: 4, Components: []snapshot.Payload{healthOf(0)}}},
		Removals: []snapshot.Removal{{ID: 4, Cause: snapshot.RemovalDied}, {ID: 99, Cause: snapshot.RemovalDied}},
	})

	// Property: removing an absent id is ignored.
	assert.Equal(t, []snapshot.Removal{{ID: 4, Type: component.TypeCharacter, Cause: snapshot.RemovalDied}},
		frame.Removed)
	assert.Equal(t, 0, frame.Updated)
	assert.Equal(t, 0, w.reg.Len())
}

func TestDecoder_Sections(t *testing.T) {
	t.Parallel()
	w := newWorld(t)

	frame := w.apply(t, &snapshot.Snapshot{
		Header:   snapshot.Header{Tick: 1, Paused: true},
		Combat:   []snapshot.CombatHit{{Attacker: 1, Target: 2, Damage: 12.5, Flags: 1}},
		Statuses: []snapshot.StatusDelta{{Entity: 2, Effect: 4, Duration: 3}},
		Tiles:    []snapshot.TileUpdate{{Shard: 0, X: 3, Y: 4, Tile: 17}, {Shard: 0, X: 99999, Y: 0, Tile: 1}},
		SideChannel: []snapshot.SideChannel{
			{Channel: snapshot.ChannelJSON, Payload: []byte(`{"quest":"open"}`)},
			{Channel: snapshot.ChannelJSON, Payload: []byte(`{broken`)},
			{Channel: snapshot.ChannelRaw, Payload: []byte{1, 2, 3}},
		},
	})

	assert.True(t, frame.Paused)
	assert.Equal(t, []snapshot.CombatHit{{Attacker: 1, Target: 2, Damage: 12.5, Flags: 1}}, frame.Combat)
	assert.Equal(t, []snapshot.StatusDelta{{Entity: 2, Effect: 4, Duration: 3}}, frame.Statuses)
	assert.Len(t, frame.Tiles, 2)

	tile, ok := w.index.Shard(0).Tile(3, 4)
	require.True(t, ok)
	assert.Equal(t, uint16(17), tile)

	// The malformed json payload is dropped.
	require.Len(t, frame.SideChannel, 2)
	var quest struct {
		Quest string `json:"quest"`
	}
	require.NoError(t, frame.SideChannel[0].Decode(&quest))
	assert.Equal(t, "open", quest.Quest)
	assert.Equal(t, []byte{1, 2, 3}, frame.SideChannel[1].Payload)
	require.Error(t, frame.SideChannel[1].Decode(&quest))
}

func TestDecoder_Clear(t *testing.T) {
	t.Parallel()
	w := newWorld(t)

	w.apply(t, &snapshot.Snapshot{
		Header: snapshot.Header{Tick: 1},
		Player: &snapshot.PlayerRecord{ID: 1},
		Entities: []snapshot.EntityRecord{
			{ID: 1, New: true, Type: component.TypePlayer, Components: []snapshot.Payload{transformAt(0, 0, 1)}},
			{ID: 2, New: true, Type: component.TypeItem},
		},
	})

	removed := w.dec.Clear()
	assert.ElementsMatch(t, []snapshot.Removal{
		{ID: 1, Type: component.TypePlayer, Cause: snapshot.RemovalReset},
		{ID: 2, Type: component.TypeItem, Cause: snapshot.RemovalReset},
	}, removed)
	assert.Equal(t, 0, w.reg.Len())
	assert.Equal(t, 0, w.index.Len())
	_, ok := w.dec.LocalPlayer()
	assert.False(t, ok)
}

func TestDecoder_ProtocolErrors(t *testing.T) {
	t.Parallel()

	valid := (&snapshot.Snapshot{Header: snapshot.Header{Tick: 1}}).Encode()

	withHeader := func(fn func(w *wire.Writer)) []byte {
		w := wire.NewWriter(64)
		w.U32(snapshot.Version).U32(1).F32(0).U32(0).Bool(false)
		fn(w)
		return w.Data()
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{name: "empty", buf: nil},
		{name: "truncated", buf: valid[:len(valid)-2]},
		{name: "trailing bytes", buf: append(append([]byte(nil), valid...), 0, 0, 0, 0)},
		{name: "version mismatch", buf: func() []byte {
			b := append([]byte(nil), valid...)
			b[0] = 9
			return b
		}()},
		{name: "unknown component tag", buf: withHeader(func(w *wire.Writer) {
			w.Bool(false).U32(1).U32(5).U32(uint32(component.TypeItem)).U32(0).U32(1).U32(60).U32(0)
		})},
		{name: "unknown entity type", buf: withHeader(func(w *wire.Writer) {
			w.Bool(false).U32(1).U32(5).U32(77).U32(0).U32(0)
		})},
		{name: "duplicate visible id", buf: withHeader(func(w *wire.Writer) {
			w.Bool(false).U32(2)
			w.U32(5).U32(uint32(component.TypeItem)).U32(0).U32(0)
			w.U32(5).U32(uint32(component.TypeItem)).U32(0).U32(0)
		})},
		{name: "unknown removal cause", buf: withHeader(func(w *wire.Writer) {
			w.Bool(false).U32(0).U32(1).U32(5).U32(7).U32(0).U32(0).U32(0).U32(0)
		})},
		{name: "tile out of range", buf: withHeader(func(w *wire.Writer) {
			w.Bool(false).U32(0).U32(0).U32(0).U32(0).U32(1).U32(0).U32(1).U32(1).U32(70000).U32(0)
		})},
		{name: "component count overrun", buf: withHeader(func(w *wire.Writer) {
			w.Bool(false).U32(1).U32(5).U32(uint32(component.TypeItem)).U32(0).U32(0xffffffff)
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := newWorld(t)

			_, err := w.dec.Apply(tt.buf)
			require.Error(t, err)
			// Property: every decode failure is a protocol error.
			assert.True(t, errors.Is(err, snapshot.ErrProtocol), "got %v", err)
			// Property: nothing is applied when decoding fails.
			assert.Equal(t, 0, w.reg.Len())
		})
	}
}

// -------------------------------------------------------------------------------------------------
// Diff completeness
//
// A simulated server emits random visible sets, explicit deaths and silent drops for a pool of
// ids while mirroring the client's view. Every first appearance must create exactly once, and
// every removal (explicit or swept) must be reported exactly once with the right cause.
// -------------------------------------------------------------------------------------------------

func TestDecoder_DiffCompleteness(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)
	w := newWorld(t)
	w.dec.SetCamera(0, 0)

	const (
		ticks  = 1 << 10
		poolSz = 64
	)

	// Ids divisible by 3 live far from the camera and are swept whenever they are not visible.
	far := func(id ecs.EntityID) bool { return id%3 == 0 }
	position := func(id ecs.EntityID) snapshot.Payload {
		if far(id) {
			return transformAt(1000, 1000, 1)
		}
		return transformAt(4, 4, 1)
	}

	known := map[ecs.EntityID]bool{}
	created := map[ecs.EntityID]int{}
	removedCount := map[ecs.EntityID]int{}

	for tick := uint32(1); tick <= ticks; tick++ {
		s := &snapshot.Snapshot{Header: snapshot.Header{Tick: tick}}
		visible := map[ecs.EntityID]bool{}
		for id := ecs.EntityID(1); id <= poolSz; id++ {
			if prng.IntN(3) == 0 {
				visible[id] = true
				s.Entities = append(s.Entities, snapshot.EntityRecord{
					ID: id, New: !known[id], Type: component.TypeCharacter,
					Components: []snapshot.Payload{position(id)},
				})
			}
		}

		wantRemoved := map[ecs.EntityID]snapshot.RemovalCause{}
		for id := range known {
			if visible[id] {
				continue
			}
			if prng.IntN(8) == 0 {
				s.Removals = append(s.Removals, snapshot.Removal{ID: id, Cause: snapshot.RemovalDied})
				wantRemoved[id] = snapshot.RemovalDied
			} else if far(id) {
				wantRemoved[id] = snapshot.RemovalDespawned
			}
		}

		frame := w.apply(t, s)

		gotRemoved := map[ecs.EntityID]snapshot.RemovalCause{}
		for _, r := range frame.Removed {
			gotRemoved[r.ID] = r.Cause
			removedCount[r.ID]++
		}
		// Property: removals and their causes match the server's intent plus the sweep.
		assert.Equal(t, wantRemoved, gotRemoved, "tick %d", tick)

		for _, id := range frame.Created {
			// Property: only ids unknown to the client are created.
			assert.False(t, known[id], "tick %d: entity %d created twice", tick, id)
			created[id]++
		}
		for id := range wantRemoved {
			delete(known, id)
		}
		for id := range visible {
			known[id] = true
		}

		// Property: the registry holds exactly the known set.
		assert.Equal(t, len(known), w.reg.Len(), "tick %d", tick)
	}

	// Property: every creation after the first is preceded by exactly one removal.
	for id, n := range created {
		extra := 0
		if known[id] {
			extra = 1
		}
		assert.Equal(t, n, removedCount[id]+extra, "entity %d", id)
	}
}
