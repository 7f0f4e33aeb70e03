package inbound_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkg.world.dev/world-engine/worldsync/internal/inbound"
	"pkg.world.dev/world-engine/worldsync/testutils"
)

// -------------------------------------------------------------------------------------------------
// Model-based fuzzing queue operations
// -------------------------------------------------------------------------------------------------
// Random sequences of queue operations are applied to the queue and to a plain slice model.
// -------------------------------------------------------------------------------------------------

type queueOp uint8

const (
	opPush  queueOp = 60
	opPop   queueOp = 30
	opDrain queueOp = 8
	opClear queueOp = 2
)

func TestQueue_ModelFuzz(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)

	const opsMax = 1 << 15

	ops := []queueOp{opPush, opPop, opDrain, opClear}
	impl := inbound.NewQueue[int]()
	model := make([]int, 0)

	for range opsMax {
		switch testutils.RandWeightedOp(prng, ops) {
		case opPush:
			v := prng.Int()
			impl.Push(v)
			model = append(model, v)

		case opPop:
			v, ok := impl.PopFront()
			// Property: pop succeeds iff the model is non-empty, returning the oldest item.
			require.Equal(t, len(model) > 0, ok)
			if ok {
				assert.Equal(t, model[0], v)
				model = model[1:]
			}

		case opDrain:
			var got []int
			impl.Drain(&got)
			// Property: drain returns every queued item in FIFO order.
			assert.Equal(t, len(model), len(got))
			for i := range got {
				assert.Equal(t, model[i], got[i], "item[%d] mismatch", i)
			}
			model = model[:0]

		case opClear:
			// Property: clear reports how many items were dropped.
			assert.Equal(t, len(model), impl.Clear())
			model = model[:0]

		default:
			panic("unreachable")
		}

		// Property: length matches the model after every operation.
		require.Equal(t, len(model), impl.Len())
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	const (
		producers = 8
		perProd   = 1000
	)

	q := inbound.NewQueue[[2]int]()
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProd {
				q.Push([2]int{p, i})
			}
		}()
	}
	wg.Wait()

	next := make([]int, producers)
	for {
		v, ok := q.PopFront()
		if !ok {
			break
		}
		// Property: items from a single producer keep their order.
		assert.Equal(t, next[v[0]], v[1])
		next[v[0]]++
	}
	for p := range producers {
		assert.Equal(t, perProd, next[p])
	}
}
