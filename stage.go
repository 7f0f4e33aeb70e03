package worldsync

import "sync/atomic"

type Stage string

const (
	StageInit    Stage = "Init"    // The default stage of an engine
	StageRunning Stage = "Running" // Engine is moved to this stage when Start is called
	StageHalted  Stage = "Halted"  // Engine is moved to this stage on reset until Start is called again
)

// stageManager holds the engine stage. Transport goroutines read it without further locking.
type stageManager struct {
	current atomic.Value
}

func newStageManager() *stageManager {
	m := &stageManager{}
	m.Store(StageInit)
	return m
}

func (m *stageManager) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	return m.current.CompareAndSwap(oldStage, newStage)
}

func (m *stageManager) Current() Stage {
	return m.current.Load().(Stage) //nolint:errcheck // only Stage values are stored
}

func (m *stageManager) Store(val Stage) {
	m.current.Store(val)
}

func (m *stageManager) Swap(newStage Stage) (oldStage Stage) {
	return m.current.Swap(newStage).(Stage) //nolint:errcheck // only Stage values are stored
}
