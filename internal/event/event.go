// Package event buffers consumer notifications produced while snapshots are applied and
// dispatches them once the tick is complete, so handlers never observe a half-applied world.
package event

import (
	"math"
	"sync"

	"github.com/rotisserie/eris"
)

// Kind is the kind of an event.
type Kind uint8

const (
	KindCreated      Kind = 0
	KindRemoved      Kind = 1
	KindShardChanged Kind = 2
	KindCombat       Kind = 3
	KindStatus       Kind = 4
	KindTile         Kind = 5
	KindSideChannel  Kind = 6
	KindStage        Kind = 7
)

// Event is one buffered notification. Payload must not alias memory that is reused between ticks.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler is called for each dispatched event of the kind it is registered for.
type Handler func(Event) error

// initialEventBufferCapacity is the starting capacity of the event buffer.
const initialEventBufferCapacity = 128

// Manager stores events emitted during a tick and dispatches their handlers at the end of it.
type Manager struct {
	handlers [][]Handler // indexed by event kind
	buffer   []Event
	scratch  []Event
	mu       sync.Mutex
}

// NewManager creates a new event manager.
func NewManager() *Manager {
	return &Manager{
		handlers: make([][]Handler, math.MaxUint8+1),
		buffer:   make([]Event, 0, initialEventBufferCapacity),
		scratch:  make([]Event, 0, initialEventBufferCapacity),
	}
}

// Subscribe registers fn for events of the given kind. Handlers run in subscription order.
func (m *Manager) Subscribe(kind Kind, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = append(m.handlers[kind], fn)
}

// Subscribed reports whether any handler listens for kind. Producers use it to skip building
// payloads nobody reads.
func (m *Manager) Subscribed(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[kind]) > 0
}

// Enqueue buffers an event until the next Dispatch.
func (m *Manager) Enqueue(e Event) {
	m.mu.Lock()
	m.buffer = append(m.buffer, e)
	m.mu.Unlock()
}

// Len returns the number of buffered events.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// Dispatch calls the handlers of every buffered event in emission order and returns the
// collected handler errors. Events enqueued by handlers are delivered on the next Dispatch.
func (m *Manager) Dispatch() error {
	m.mu.Lock()
	events := m.buffer
	m.buffer, m.scratch = m.scratch[:0], events
	m.mu.Unlock()

	var errs []error
	for _, e := range events {
		for _, handler := range m.handlers[e.Kind] {
			if err := handler(e); err != nil {
				errs = append(errs, err)
			}
		}
	}
	clear(events)

	if len(errs) > 0 {
		return eris.Errorf("event dispatch encountered %d error(s): %v", len(errs), errs)
	}
	return nil
}

// Discard drops every buffered event.
func (m *Manager) Discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.buffer)
	clear(m.buffer)
	m.buffer = m.buffer[:0]
	return n
}
