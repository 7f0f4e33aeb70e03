package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkg.world.dev/world-engine/worldsync/testutils"
	"pkg.world.dev/world-engine/worldsync/wire"
)

type testPoint struct {
	X, Y float32
}

type testCounter struct {
	N uint32
}

func newTestRegistry(t *testing.T) (*Registry, *Store[testPoint], *Store[testCounter]) {
	t.Helper()

	reg := NewRegistry()
	require.NoError(t, reg.RegisterEntityType(1, "unit"))
	require.NoError(t, reg.RegisterEntityType(2, "prop"))

	points, err := Register(reg, ComponentSpec[testPoint]{
		Tag:  1,
		Name: "point",
		Read: func(c *wire.Cursor, dst *testPoint) {
			dst.X = c.F32()
			dst.Y = c.F32()
		},
	})
	require.NoError(t, err)

	counters, err := Register(reg, ComponentSpec[testCounter]{
		Tag:  2,
		Name: "counter",
		Read: func(c *wire.Cursor, dst *testCounter) {
			dst.N = c.U32()
		},
	})
	require.NoError(t, err)

	return reg, points, counters
}

func stageCounter(t *testing.T, reg *Registry, n uint32) Staged {
	t.Helper()
	buf := wire.NewWriter(4).U32(n).Data()
	s, err := reg.Stage(2, ModeRemote, wire.NewCursor(buf))
	require.NoError(t, err)
	return s
}

func TestRegistry_CreateDestroyReuse(t *testing.T) {
	t.Parallel()
	reg, _, counters := newTestRegistry(t)

	h1, err := reg.Create(10, 1, 0)
	require.NoError(t, err)
	reg.Commit(h1, stageCounter(t, reg, 3))
	reg.DiscardStaged()

	assert.True(t, reg.Has(h1, 2))
	assert.Equal(t, []ComponentTag{2}, reg.Components(h1))

	require.True(t, reg.Destroy(h1))
	assert.False(t, reg.Valid(h1))
	assert.False(t, counters.Has(h1))
	assert.False(t, reg.Destroy(h1), "destroying twice is a no-op")

	// The slot is reused with a new generation; the old handle stays invalid.
	h2, err := reg.Create(10, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, h1.Index, h2.Index)
	assert.NotEqual(t, h1.Generation, h2.Generation)
	assert.False(t, reg.Valid(h1))
	assert.False(t, counters.Has(h2))
	assert.Equal(t, EntityType(2), reg.Type(h2))
	assert.Equal(t, ShardID(4), reg.Shard(h2))
}

func TestRegistry_CreateErrors(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Create(1, 99, 0)
	require.ErrorIs(t, err, ErrUnknownEntityType)

	h, err := reg.Create(1, 1, 0)
	require.NoError(t, err)
	again, err := reg.Create(1, 1, 0)
	require.ErrorIs(t, err, ErrEntityAlreadyCreated)
	assert.Equal(t, h, again)
}

func TestRegistry_SealBlocksRegistration(t *testing.T) {
	t.Parallel()
	reg, _, _ := newTestRegistry(t)

	require.NoError(t, reg.Skip(1, wire.NewCursor(make([]byte, 8))))
	assert.True(t, reg.Sealed())

	_, err := Register(reg, ComponentSpec[testCounter]{Tag: 9, Name: "late", Read: func(*wire.Cursor, *testCounter) {}})
	require.ErrorIs(t, err, ErrRegistrySealed)
	require.ErrorIs(t, reg.RegisterEntityType(7, "late"), ErrRegistrySealed)
}

// -------------------------------------------------------------------------------------------------
// Model-Based Fuzzing
//
// Drives the registry with random create/destroy/commit/remove operations and compares it to a
// map-based model of entities and their counters. Handles from destroyed entities are kept around
// to check that they never become valid again.
// -------------------------------------------------------------------------------------------------

type registryOp uint8

const (
	regCreate  registryOp = 30
	regDestroy registryOp = 20
	regCommit  registryOp = 35
	regRemove  registryOp = 10
	regClear   registryOp = 1
	regLookup  registryOp = 4
)

var registryOps = []registryOp{regCreate, regDestroy, regCommit, regRemove, regClear, regLookup}

func TestRegistry_ModelBasedFuzz(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)
	reg, _, counters := newTestRegistry(t)

	type modelEntity struct {
		handle  Handle
		counter *uint32
	}

	const (
		opsMax = 1 << 15
		maxID  = 512
	)

	model := make(map[EntityID]*modelEntity)
	var stale []Handle

	for range opsMax {
		id := EntityID(prng.IntN(maxID)) //nolint:gosec // bounded

		switch testutils.RandWeightedOp(prng, registryOps) {
		case regCreate:
			h, err := reg.Create(id, 1, 0)
			if _, exists := model[id]; exists {
				// Property: creating a live id fails and returns the existing handle.
				require.ErrorIs(t, err, ErrEntityAlreadyCreated)
				assert.Equal(t, model[id].handle, h)
				continue
			}
			require.NoError(t, err)
			model[id] = &modelEntity{handle: h}

		case regDestroy:
			if len(model) > 0 && prng.Float64() < 0.9 {
				id = testutils.RandMapKey(prng, model)
			}
			m, exists := model[id]
			if !exists {
				continue
			}
			// Property: destroy succeeds exactly once.
			assert.True(t, reg.Destroy(m.handle))
			assert.False(t, reg.Destroy(m.handle))
			stale = append(stale, m.handle)
			delete(model, id)

		case regCommit:
			if len(model) == 0 {
				continue
			}
			m := model[testutils.RandMapKey(prng, model)]
			n := prng.Uint32()
			reg.Commit(m.handle, stageCounter(t, reg, n))
			reg.DiscardStaged()
			m.counter = &n

			// Property: a committed value is immediately visible.
			assert.Equal(t, n, counters.Get(m.handle).N)

		case regRemove:
			if len(model) == 0 {
				continue
			}
			m := model[testutils.RandMapKey(prng, model)]
			// Property: removing a component reports whether it was attached.
			assert.Equal(t, m.counter != nil, counters.Remove(m.handle))
			m.counter = nil

		case regClear:
			// Property: clear visits every live entity before destroying it.
			visited := 0
			cleared := reg.Clear(func(h Handle) {
				assert.True(t, reg.Valid(h))
				visited++
			})
			assert.Equal(t, len(model), cleared)
			assert.Equal(t, len(model), visited)
			for _, m := range model {
				stale = append(stale, m.handle)
			}
			clear(model)

		case regLookup:
			h, ok := reg.Resolve(id)
			m, exists := model[id]
			// Property: resolve agrees with the model.
			assert.Equal(t, exists, ok)
			if exists {
				assert.Equal(t, m.handle, h)
			}

		default:
			panic("unreachable")
		}
	}

	// Property: every model entity is live with matching component state.
	assert.Equal(t, len(model), reg.Len())
	for id, m := range model {
		assert.True(t, reg.Valid(m.handle))
		assert.Equal(t, id, reg.ID(m.handle))
		v, ok := counters.Lookup(m.handle)
		assert.Equal(t, m.counter != nil, ok)
		if ok {
			assert.Equal(t, *m.counter, v.N)
		}
	}

	// Property: no destroyed handle is valid again, even after slot reuse.
	for _, h := range stale {
		assert.False(t, reg.Valid(h), "stale handle %s became valid", h)
	}

	// Property: the store holds exactly one row per live entity with a counter.
	withCounter := 0
	for _, m := range model {
		if m.counter != nil {
			withCounter++
		}
	}
	assert.Equal(t, withCounter, counters.Len())
}
