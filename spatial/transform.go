package spatial

import "pkg.world.dev/world-engine/worldsync/ecs"

// Transform is the entity's pose and collision geometry. The index owns its Membership; it is
// nil until the entity is placed.
type Transform struct {
	X, Y     float32
	Rotation float32
	Hitboxes []Hitbox

	member *Membership
}

// Membership is the live cell membership of a placed Transform.
type Membership struct {
	Shard  ecs.ShardID
	Bounds AABB
	Rect   CellRect
	Cells  []int // flat cell indices within the shard, row-major over Rect
}

// ComputeBounds derives the bounding box from the hitbox set. An entity without hitboxes has a
// point box at its position.
func (t *Transform) ComputeBounds() AABB {
	if len(t.Hitboxes) == 0 {
		return Point(t.X, t.Y)
	}
	b := t.Hitboxes[0].Bounds(t.X, t.Y, t.Rotation)
	for _, h := range t.Hitboxes[1:] {
		b = b.Union(h.Bounds(t.X, t.Y, t.Rotation))
	}
	return b
}

// Placement returns the entity's current membership, or nil if it is not in the index.
func (t *Transform) Placement() *Membership {
	return t.member
}

// Bounds returns the bounding box recorded at the last index sync.
func (t *Transform) Bounds() AABB {
	if t.member == nil {
		return t.ComputeBounds()
	}
	return t.member.Bounds
}

// CopyFrom replaces the pose and hitboxes with src's, keeping the index membership.
func (t *Transform) CopyFrom(src *Transform) {
	t.X, t.Y, t.Rotation = src.X, src.Y, src.Rotation
	t.Hitboxes = append(t.Hitboxes[:0], src.Hitboxes...)
}
