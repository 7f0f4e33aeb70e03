// Package component defines the game's wire components and entity types and registers them with
// an ecs.Registry.
package component

import (
	"github.com/rotisserie/eris"
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/spatial"
)

// Wire tags. These are part of the protocol and must never be renumbered.
const (
	TagTransform   ecs.ComponentTag = 1
	TagMotion      ecs.ComponentTag = 2
	TagHealth      ecs.ComponentTag = 3
	TagAppearance  ecs.ComponentTag = 4
	TagStatus      ecs.ComponentTag = 5
	TagOwnership   ecs.ComponentTag = 6
	TagPlayerStats ecs.ComponentTag = 7
)

// Entity types.
const (
	TypePlayer     ecs.EntityType = 1
	TypeCharacter  ecs.EntityType = 2
	TypeProjectile ecs.EntityType = 3
	TypeItem       ecs.EntityType = 4
	TypePortal     ecs.EntityType = 5
	TypeStatic     ecs.EntityType = 6
)

var entityTypes = []struct { //nolint:gochecknoglobals // static table
	typ  ecs.EntityType
	name string
}{
	{TypePlayer, "player"},
	{TypeCharacter, "character"},
	{TypeProjectile, "projectile"},
	{TypeItem, "item"},
	{TypePortal, "portal"},
	{TypeStatic, "static"},
}

// Motion is velocity and acceleration in tiles per second. It is predicted for the local player.
type Motion struct {
	VX, VY float32
	AX, AY float32
}

type Health struct {
	Current float32
	Max     float32
}

// Dead reports whether the entity has no health left.
func (h Health) Dead() bool {
	return h.Current <= 0
}

type Appearance struct {
	Sprite uint32
	Tint   uint32
	Scale  float32
	Label  string
}

// Status is a bit mask of active status effects.
type Status struct {
	Effects uint32
}

type Ownership struct {
	Owner uint32 // owning entity id, zero when unowned
	Team  uint32
}

type PlayerStats struct {
	Level      uint32
	Experience uint32
	Gold       uint32
	Energy     float32
	MaxEnergy  float32
}

// Set holds the typed stores of every registered component.
type Set struct {
	Transforms  *ecs.Store[spatial.Transform]
	Motions     *ecs.Store[Motion]
	Healths     *ecs.Store[Health]
	Appearances *ecs.Store[Appearance]
	Statuses    *ecs.Store[Status]
	Ownerships  *ecs.Store[Ownership]
	PlayerStats *ecs.Store[PlayerStats]
}

// Hooks lets the owner of the registry observe component lifecycle events.
type Hooks struct {
	// TransformDetached runs while the entity is still live, before its Transform is dropped.
	TransformDetached func(h ecs.Handle, t *spatial.Transform)

	// Spawned runs once for every entity created from a snapshot that carries a Transform.
	Spawned func(h ecs.Handle, t *spatial.Transform)
}

// Register adds every entity type and component to reg.
func Register(reg *ecs.Registry, hooks Hooks) (*Set, error) {
	for _, et := range entityTypes {
		if err := reg.RegisterEntityType(et.typ, et.name); err != nil {
			return nil, eris.Wrap(err, "failed to register entity type")
		}
	}

	set := &Set{}
	var err error

	set.Transforms, err = ecs.Register(reg, ecs.ComponentSpec[spatial.Transform]{
		Tag:          TagTransform,
		Name:         "transform",
		Read:         ReadTransform,
		Merge:        mergeTransform,
		OnDetach:     hooks.TransformDetached,
		OnFirstSpawn: hooks.Spawned,
		// The local pose is predicted; only the collision geometry is taken from the server.
		Reconcile: func(dst, incoming *spatial.Transform) {
			if incoming.Hitboxes != nil {
				dst.Hitboxes = append(dst.Hitboxes[:0], incoming.Hitboxes...)
			}
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register transform")
	}

	set.Motions, err = ecs.Register(reg, ecs.ComponentSpec[Motion]{
		Tag:       TagMotion,
		Name:      "motion",
		Read:      ReadMotion,
		Reconcile: func(*Motion, *Motion) {},
		OnPerTick: func(h ecs.Handle, m *Motion, dt float64) {
			integrate(set.Transforms, h, m, float32(dt))
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register motion")
	}

	set.Healths, err = ecs.Register(reg, ecs.ComponentSpec[Health]{
		Tag: TagHealth, Name: "health", Read: ReadHealth,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register health")
	}

	set.Appearances, err = ecs.Register(reg, ecs.ComponentSpec[Appearance]{
		Tag: TagAppearance, Name: "appearance", Read: ReadAppearance,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register appearance")
	}

	set.Statuses, err = ecs.Register(reg, ecs.ComponentSpec[Status]{
		Tag: TagStatus, Name: "status", Read: ReadStatus,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register status")
	}

	set.Ownerships, err = ecs.Register(reg, ecs.ComponentSpec[Ownership]{
		Tag: TagOwnership, Name: "ownership", Read: ReadOwnership,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register ownership")
	}

	set.PlayerStats, err = ecs.Register(reg, ecs.ComponentSpec[PlayerStats]{
		Tag: TagPlayerStats, Name: "player_stats", Read: ReadPlayerStats,
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to register player stats")
	}

	return set, nil
}

// mergeTransform applies a server pose. A payload without the hitbox flag decodes to a nil
// hitbox list and leaves the current geometry in place.
func mergeTransform(dst, incoming *spatial.Transform) {
	hitboxes := dst.Hitboxes
	dst.CopyFrom(incoming)
	if incoming.Hitboxes == nil {
		dst.Hitboxes = hitboxes
	}
}

// integrate advances the entity's Transform by one step of semi-implicit Euler.
func integrate(transforms *ecs.Store[spatial.Transform], h ecs.Handle, m *Motion, dt float32) {
	t, ok := transforms.Lookup(h)
	if !ok {
		return
	}
	m.VX += m.AX * dt
	m.VY += m.AY * dt
	if m.VX == 0 && m.VY == 0 {
		return
	}
	t.X += m.VX * dt
	t.Y += m.VY * dt
	transforms.Touch(h)
}
