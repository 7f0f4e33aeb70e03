package ecs

import (
	"github.com/kelindar/bitmap"
	"pkg.world.dev/world-engine/worldsync/assert"
	"pkg.world.dev/world-engine/worldsync/wire"
)

type stagedValue[T any] struct {
	mode  ApplyMode
	value T
}

// Store holds every instance of one component type in a dense slice, indexed through a sparse
// set keyed by arena slot. Pointers returned by Get, Lookup and Each stay valid until the next
// insertion or removal in the same store.
type Store[T any] struct {
	reg  *Registry
	spec ComponentSpec[T]

	sparse sparseSet
	rows   []T
	owners []Handle

	staging []stagedValue[T]
	scratch T
	dirty   bitmap.Bitmap
}

func newStore[T any](reg *Registry, spec ComponentSpec[T]) *Store[T] {
	if spec.Merge == nil {
		spec.Merge = func(dst, incoming *T) { *dst = *incoming }
	}
	return &Store[T]{
		reg:     reg,
		spec:    spec,
		sparse:  newSparseSet(),
		rows:    make([]T, 0, 64),
		owners:  make([]Handle, 0, 64),
		staging: make([]stagedValue[T], 0, 64),
	}
}

func (s *Store[T]) Tag() ComponentTag {
	return s.spec.Tag
}

func (s *Store[T]) Name() string {
	return s.spec.Name
}

// Len returns the number of instances.
func (s *Store[T]) Len() int {
	return len(s.rows)
}

// Has reports whether the entity has this component.
func (s *Store[T]) Has(h Handle) bool {
	_, ok := s.row(h)
	return ok
}

// Get returns the entity's instance. A miss is a programming error: the caller's view of the
// world has diverged from the registry.
func (s *Store[T]) Get(h Handle) *T {
	row, ok := s.row(h)
	assert.That(ok, "entity %s has no %s component", h, s.spec.Name)
	if !ok {
		return nil
	}
	return &s.rows[row]
}

// Lookup returns the entity's instance if present.
func (s *Store[T]) Lookup(h Handle) (*T, bool) {
	row, ok := s.row(h)
	if !ok {
		return nil, false
	}
	return &s.rows[row], true
}

// Find resolves a server id and returns the instance if the entity exists and has the component.
func (s *Store[T]) Find(id EntityID) (*T, Handle, bool) {
	h, ok := s.reg.Resolve(id)
	if !ok {
		return nil, Handle{}, false
	}
	v, ok := s.Lookup(h)
	return v, h, ok
}

// Set writes a value directly, attaching the component if needed. Used for locally owned state
// that does not come from a snapshot.
func (s *Store[T]) Set(h Handle, v T) {
	assert.That(s.reg.Valid(h), "set %s on stale handle %s", s.spec.Name, h)
	if !s.reg.Valid(h) {
		return
	}
	if row, ok := s.sparse.get(h.Index); ok {
		s.rows[row] = v
	} else {
		s.insert(h, v)
		if s.spec.OnAttach != nil {
			s.spec.OnAttach(h, s.Get(h))
		}
	}
	s.dirty.Set(h.Index)
}

// Remove detaches the component, firing OnDetach. Returns false if it was not attached.
func (s *Store[T]) Remove(h Handle) bool {
	row, ok := s.row(h)
	if !ok {
		return false
	}
	if s.spec.OnDetach != nil {
		s.spec.OnDetach(h, &s.rows[row])
		// The hook may not add or remove instances of this type.
		row, ok = s.row(h)
		assert.That(ok, "%s OnDetach mutated its own store", s.spec.Name)
	}

	last := len(s.rows) - 1
	if row != last {
		moved := s.owners[last]
		s.rows[row] = s.rows[last]
		s.owners[row] = moved
		s.sparse.set(moved.Index, row)
	}
	var zero T
	s.rows[last] = zero
	s.rows = s.rows[:last]
	s.owners = s.owners[:last]
	s.sparse.remove(h.Index)
	s.dirty.Remove(h.Index)
	s.reg.detach(h, s.spec.Tag)
	return true
}

// Each calls fn for every instance until fn returns false. fn must not add or remove instances of
// this component type.
func (s *Store[T]) Each(fn func(h Handle, v *T) bool) {
	for i := range s.rows {
		if !fn(s.owners[i], &s.rows[i]) {
			return
		}
	}
}

// Touch marks an instance as modified outside of a snapshot commit.
func (s *Store[T]) Touch(h Handle) {
	if s.Has(h) {
		s.dirty.Set(h.Index)
	}
}

// DrainDirty calls fn once for every instance committed, set or touched since the last drain,
// then clears the dirty set. Instances removed in the meantime are skipped.
func (s *Store[T]) DrainDirty(fn func(h Handle, v *T)) {
	if s.dirty.Count() == 0 {
		return
	}
	dirty := s.dirty.Clone(nil)
	s.dirty.Clear()
	dirty.Range(func(index uint32) {
		row, ok := s.sparse.get(index)
		if !ok {
			return
		}
		fn(s.owners[row], &s.rows[row])
	})
}

func (s *Store[T]) row(h Handle) (int, bool) {
	if !s.reg.Valid(h) {
		return 0, false
	}
	return s.sparse.get(h.Index)
}

func (s *Store[T]) insert(h Handle, v T) int {
	row := len(s.rows)
	s.rows = append(s.rows, v)
	s.owners = append(s.owners, h)
	s.sparse.set(h.Index, row)
	s.reg.attach(h, s.spec.Tag)
	return row
}

// stage decodes one payload into the staging buffer and returns its index.
func (s *Store[T]) stage(c *wire.Cursor, mode ApplyMode) int {
	s.staging = append(s.staging, stagedValue[T]{mode: mode})
	index := len(s.staging) - 1
	s.spec.Read(c, &s.staging[index].value)
	return index
}

// skip decodes one payload into scratch space and discards it.
func (s *Store[T]) skip(c *wire.Cursor) {
	var zero T
	s.scratch = zero
	s.spec.Read(c, &s.scratch)
	s.scratch = zero
}

func (s *Store[T]) commit(h Handle, index int) {
	assert.That(index >= 0 && index < len(s.staging), "%s staging index %d out of range", s.spec.Name, index)
	staged := &s.staging[index]

	row, exists := s.sparse.get(h.Index)
	if !exists {
		row = s.insert(h, staged.value)
		if s.spec.OnAttach != nil {
			s.spec.OnAttach(h, &s.rows[row])
		}
		if staged.mode == ModeCreate && s.spec.OnFirstSpawn != nil {
			s.spec.OnFirstSpawn(h, &s.rows[row])
		}
		row, _ = s.sparse.get(h.Index)
	} else {
		dst := &s.rows[row]
		if staged.mode == ModePredicted && s.spec.Reconcile != nil {
			s.spec.Reconcile(dst, &staged.value)
		} else {
			s.spec.Merge(dst, &staged.value)
		}
	}

	s.dirty.Set(h.Index)
	if s.spec.OnApply != nil {
		s.spec.OnApply(h, &s.rows[row], staged.mode)
	}
}

func (s *Store[T]) discard() {
	var zero T
	for i := range s.staging {
		s.staging[i].value = zero
	}
	s.staging = s.staging[:0]
}

func (s *Store[T]) tick(dt float64) {
	for i := range s.rows {
		s.spec.OnPerTick(s.owners[i], &s.rows[i], dt)
	}
}
