package ecs

import (
	"math"

	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"pkg.world.dev/world-engine/worldsync/assert"
)

// slot is one arena entry. Slots are recycled through a free list; the generation is bumped on
// every release so stale handles can be detected.
type slot struct {
	id         EntityID
	typ        EntityType
	shard      ShardID
	generation uint32
	alive      bool
	components bitmap.Bitmap
}

// Registry owns every entity and component on the client.
type Registry struct {
	slots []slot
	free  []uint32
	ids   map[EntityID]uint32 // server id -> slot index

	types       [MaxComponentTags]*componentType
	names       map[string]ComponentTag
	entityTypes map[EntityType]string
	sealed      bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots:       make([]slot, 0, 256),
		free:        make([]uint32, 0, 64),
		ids:         make(map[EntityID]uint32, 256),
		names:       make(map[string]ComponentTag),
		entityTypes: make(map[EntityType]string),
	}
}

// RegisterEntityType adds an entity type to the type table.
func (r *Registry) RegisterEntityType(typ EntityType, name string) error {
	if r.sealed {
		return eris.Wrapf(ErrRegistrySealed, "cannot register entity type %s", name)
	}
	if existing, ok := r.entityTypes[typ]; ok {
		return eris.Wrapf(ErrDuplicateEntityType, "type %d is %s, cannot register %s", typ, existing, name)
	}
	r.entityTypes[typ] = name
	return nil
}

// EntityTypeName returns the registered name of an entity type.
func (r *Registry) EntityTypeName(typ EntityType) (string, bool) {
	name, ok := r.entityTypes[typ]
	return name, ok
}

// Seal freezes the component and entity type tables. Registration after sealing fails.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// ComponentName returns the registered name of a component tag.
func (r *Registry) ComponentName(tag ComponentTag) (string, bool) {
	ct := r.lookupType(tag)
	if ct == nil {
		return "", false
	}
	return ct.name, true
}

// ComponentTags returns every registered tag in ascending order.
func (r *Registry) ComponentTags() []ComponentTag {
	tags := make([]ComponentTag, 0, len(r.names))
	for tag, ct := range r.types {
		if ct != nil {
			tags = append(tags, ComponentTag(tag)) //nolint:gosec // bounded by MaxComponentTags
		}
	}
	return tags
}

// Create allocates a slot for a new server entity.
func (r *Registry) Create(id EntityID, typ EntityType, shard ShardID) (Handle, error) {
	if _, ok := r.entityTypes[typ]; !ok {
		return Handle{}, eris.Wrapf(ErrUnknownEntityType, "entity %d has type %d", id, typ)
	}
	if index, ok := r.ids[id]; ok {
		return r.handleOf(index), eris.Wrapf(ErrEntityAlreadyCreated, "entity %d", id)
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		assert.That(len(r.slots) < math.MaxUint32, "arena exhausted")
		index = uint32(len(r.slots)) //nolint:gosec // checked above
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[index]
	s.id = id
	s.typ = typ
	s.shard = shard
	s.alive = true
	s.components.Clear()
	r.ids[id] = index

	return Handle{Index: index, Generation: s.generation}, nil
}

// Destroy detaches every component of the entity, firing their OnDetach hooks, and releases its
// slot. Destroying an invalid handle is a no-op and returns false.
func (r *Registry) Destroy(h Handle) bool {
	if !r.Valid(h) {
		return false
	}
	s := &r.slots[h.Index]

	// Detach in tag order. Hooks may read other components of the entity, so the mask is copied.
	mask := s.components.Clone(nil)
	mask.Range(func(tag uint32) {
		r.types[tag].detach(h)
	})

	delete(r.ids, s.id)
	s.alive = false
	s.components.Clear()
	s.generation++
	r.free = append(r.free, h.Index)
	return true
}

// Resolve returns the handle of a live server entity.
func (r *Registry) Resolve(id EntityID) (Handle, bool) {
	index, ok := r.ids[id]
	if !ok {
		return Handle{}, false
	}
	return r.handleOf(index), true
}

// Valid reports whether h refers to a live entity.
func (r *Registry) Valid(h Handle) bool {
	if int(h.Index) >= len(r.slots) {
		return false
	}
	s := &r.slots[h.Index]
	return s.alive && s.generation == h.Generation
}

// ID returns the server id of a live entity.
func (r *Registry) ID(h Handle) EntityID {
	assert.That(r.Valid(h), "stale handle %s", h)
	return r.slots[h.Index].id
}

// Type returns the entity type of a live entity.
func (r *Registry) Type(h Handle) EntityType {
	assert.That(r.Valid(h), "stale handle %s", h)
	return r.slots[h.Index].typ
}

// Shard returns the owning shard of a live entity.
func (r *Registry) Shard(h Handle) ShardID {
	assert.That(r.Valid(h), "stale handle %s", h)
	return r.slots[h.Index].shard
}

// SetShard records a shard reassignment. Returns the previous shard.
func (r *Registry) SetShard(h Handle, shard ShardID) ShardID {
	assert.That(r.Valid(h), "stale handle %s", h)
	prev := r.slots[h.Index].shard
	r.slots[h.Index].shard = shard
	return prev
}

// Has reports whether the entity has a component with the given tag.
func (r *Registry) Has(h Handle, tag ComponentTag) bool {
	return r.Valid(h) && r.slots[h.Index].components.Contains(uint32(tag))
}

// Components returns the component tags attached to the entity in ascending order.
func (r *Registry) Components(h Handle) []ComponentTag {
	if !r.Valid(h) {
		return nil
	}
	tags := make([]ComponentTag, 0, 8)
	r.slots[h.Index].components.Range(func(tag uint32) {
		tags = append(tags, ComponentTag(tag))
	})
	return tags
}

// Len returns the number of live entities.
func (r *Registry) Len() int {
	return len(r.ids)
}

// Each calls fn for every live entity in arena order until fn returns false.
func (r *Registry) Each(fn func(h Handle) bool) {
	for i := range r.slots {
		s := &r.slots[i]
		if !s.alive {
			continue
		}
		if !fn(Handle{Index: uint32(i), Generation: s.generation}) { //nolint:gosec // arena bounded
			return
		}
	}
}

// Handles returns a snapshot of every live handle. Use it when the caller destroys entities
// while iterating.
func (r *Registry) Handles() []Handle {
	handles := make([]Handle, 0, len(r.ids))
	r.Each(func(h Handle) bool {
		handles = append(handles, h)
		return true
	})
	return handles
}

// Tick runs every OnPerTick hook, in component tag order.
func (r *Registry) Tick(dt float64) {
	for _, ct := range r.types {
		if ct != nil && ct.tick != nil {
			ct.tick(dt)
		}
	}
}

// Clear destroys every entity through the normal detach path. before, when set, runs for each
// entity while its components are still attached.
func (r *Registry) Clear(before func(h Handle)) int {
	handles := r.Handles()
	for _, h := range handles {
		if before != nil {
			before(h)
		}
		r.Destroy(h)
	}
	r.DiscardStaged()
	return len(handles)
}

func (r *Registry) handleOf(index uint32) Handle {
	return Handle{Index: index, Generation: r.slots[index].generation}
}

func (r *Registry) lookupType(tag ComponentTag) *componentType {
	if tag >= MaxComponentTags {
		return nil
	}
	return r.types[tag]
}

func (r *Registry) attach(h Handle, tag ComponentTag) {
	r.slots[h.Index].components.Set(uint32(tag))
}

func (r *Registry) detach(h Handle, tag ComponentTag) {
	r.slots[h.Index].components.Remove(uint32(tag))
}
