package ecs

import (
	"github.com/rotisserie/eris"
	"pkg.world.dev/world-engine/worldsync/assert"
	"pkg.world.dev/world-engine/worldsync/wire"
)

// ComponentSpec describes a component type. Read is the only payload decoder; every contract
// operation goes through it, which keeps the number of bytes consumed identical on every path.
// The optional functions are resolved once at registration.
type ComponentSpec[T any] struct {
	Tag  ComponentTag
	Name string

	// Read decodes one payload from the cursor into dst. dst is zeroed before every call.
	Read func(c *wire.Cursor, dst *T)

	// Merge applies an authoritative value to an existing instance. Defaults to overwrite.
	Merge func(dst, incoming *T)

	// Reconcile applies a server value to an instance driven by local prediction. Setting it
	// enables applyLocalPredicted for this type.
	Reconcile func(dst, incoming *T)

	OnAttach     func(h Handle, v *T)
	OnApply      func(h Handle, v *T, mode ApplyMode)
	OnPerTick    func(h Handle, v *T, dt float64)
	OnDetach     func(h Handle, v *T)
	OnFirstSpawn func(h Handle, v *T)
}

// componentType is the type-erased dispatch entry of a registered component. The four contract
// operations stage decoded values and return their staging index; commit applies them later.
type componentType struct {
	tag  ComponentTag
	name string

	create              func(c *wire.Cursor) int
	applyRemote         func(c *wire.Cursor) int
	applyLocalPredicted func(c *wire.Cursor) int // nil when the type is not predicted
	skip                func(c *wire.Cursor)

	commit  func(h Handle, staged int)
	detach  func(h Handle)
	tick    func(dt float64)
	discard func()
}

// Staged refers to a decoded component value awaiting commit.
type Staged struct {
	Tag   ComponentTag
	Index int
	Mode  ApplyMode
}

// Register adds a component type to the registry and returns its typed store.
func Register[T any](r *Registry, spec ComponentSpec[T]) (*Store[T], error) {
	if r.sealed {
		return nil, eris.Wrapf(ErrRegistrySealed, "cannot register component %s", spec.Name)
	}
	if spec.Tag >= MaxComponentTags {
		return nil, eris.Wrapf(ErrTagOutOfRange, "component %s has tag %d, max %d", spec.Name, spec.Tag,
			MaxComponentTags-1)
	}
	if spec.Name == "" {
		return nil, eris.Errorf("component with tag %d has no name", spec.Tag)
	}
	if spec.Read == nil {
		return nil, eris.Wrapf(ErrMissingReadFunction, "component %s", spec.Name)
	}
	if existing := r.types[spec.Tag]; existing != nil {
		return nil, eris.Wrapf(ErrDuplicateTag, "tag %d is %s, cannot register %s", spec.Tag, existing.name,
			spec.Name)
	}
	if _, ok := r.names[spec.Name]; ok {
		return nil, eris.Wrapf(ErrDuplicateName, "component %s", spec.Name)
	}

	store := newStore(r, spec)
	ct := &componentType{
		tag:  spec.Tag,
		name: spec.Name,
		create: func(c *wire.Cursor) int {
			return store.stage(c, ModeCreate)
		},
		applyRemote: func(c *wire.Cursor) int {
			return store.stage(c, ModeRemote)
		},
		skip:    store.skip,
		commit:  store.commit,
		detach:  func(h Handle) { store.Remove(h) },
		discard: store.discard,
	}
	if spec.Reconcile != nil {
		ct.applyLocalPredicted = func(c *wire.Cursor) int {
			return store.stage(c, ModePredicted)
		}
	}
	if spec.OnPerTick != nil {
		ct.tick = store.tick
	}

	r.types[spec.Tag] = ct
	r.names[spec.Name] = spec.Tag
	return store, nil
}

// Known reports whether a component tag is registered.
func (r *Registry) Known(tag ComponentTag) bool {
	return r.lookupType(tag) != nil
}

// Predicted reports whether a component type supports applyLocalPredicted.
func (r *Registry) Predicted(tag ComponentTag) bool {
	ct := r.lookupType(tag)
	return ct != nil && ct.applyLocalPredicted != nil
}

// Stage decodes one payload through the contract operation selected by mode. Staging a
// prediction for a type without Reconcile is a programming error; release builds fall back to
// applyRemote.
func (r *Registry) Stage(tag ComponentTag, mode ApplyMode, c *wire.Cursor) (Staged, error) {
	ct := r.lookupType(tag)
	if ct == nil {
		return Staged{}, eris.Wrapf(ErrUnknownComponent, "tag %d at offset %d", tag, c.Offset())
	}
	r.sealed = true

	var index int
	switch mode {
	case ModeCreate:
		index = ct.create(c)
	case ModeRemote:
		index = ct.applyRemote(c)
	case ModePredicted:
		if ct.applyLocalPredicted == nil {
			assert.That(false, "component %s does not support prediction", ct.name)
			index = ct.applyRemote(c)
			mode = ModeRemote
			break
		}
		index = ct.applyLocalPredicted(c)
	}
	return Staged{Tag: tag, Index: index, Mode: mode}, nil
}

// Skip advances the cursor past one payload without staging anything.
func (r *Registry) Skip(tag ComponentTag, c *wire.Cursor) error {
	ct := r.lookupType(tag)
	if ct == nil {
		return eris.Wrapf(ErrUnknownComponent, "tag %d at offset %d", tag, c.Offset())
	}
	r.sealed = true
	ct.skip(c)
	return nil
}

// Commit applies a staged value to a live entity, attaching the component if it is missing.
func (r *Registry) Commit(h Handle, s Staged) {
	assert.That(r.Valid(h), "commit to stale handle %s", h)
	if !r.Valid(h) {
		return
	}
	ct := r.lookupType(s.Tag)
	assert.That(ct != nil, "commit of unregistered tag %d", s.Tag)
	ct.commit(h, s.Index)
}

// DiscardStaged drops every staged value. Call it after a tick's commits or when a decode fails.
func (r *Registry) DiscardStaged() {
	for _, ct := range r.types {
		if ct != nil {
			ct.discard()
		}
	}
}
