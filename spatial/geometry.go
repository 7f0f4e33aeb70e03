package spatial

import "math"

// AABB is an axis-aligned bounding box in world units (tiles).
type AABB struct {
	MinX, MinY, MaxX, MaxY float32
}

// Point returns a zero-area box at (x, y).
func Point(x, y float32) AABB {
	return AABB{MinX: x, MinY: y, MaxX: x, MaxY: y}
}

// Union returns the smallest box containing both a and b.
func (a AABB) Union(b AABB) AABB {
	return AABB{
		MinX: min(a.MinX, b.MinX),
		MinY: min(a.MinY, b.MinY),
		MaxX: max(a.MaxX, b.MaxX),
		MaxY: max(a.MaxY, b.MaxY),
	}
}

// Intersects reports whether the closed boxes overlap.
func (a AABB) Intersects(b AABB) bool {
	return a.MinX <= b.MaxX && b.MinX <= a.MaxX && a.MinY <= b.MaxY && b.MinY <= a.MaxY
}

// CellRect is an inclusive rectangle of cell coordinates.
type CellRect struct {
	MinX, MinY, MaxX, MaxY int
}

// Empty reports whether the rectangle covers no cells.
func (r CellRect) Empty() bool {
	return r.MaxX < r.MinX || r.MaxY < r.MinY
}

// Contains reports whether cell (x, y) lies in the rectangle.
func (r CellRect) Contains(x, y int) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Intersects reports whether two rectangles share at least one cell.
func (r CellRect) Intersects(o CellRect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX && r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

// Intersect returns the overlap of two rectangles, which may be empty.
func (r CellRect) Intersect(o CellRect) CellRect {
	return CellRect{
		MinX: max(r.MinX, o.MinX),
		MinY: max(r.MinY, o.MinY),
		MaxX: min(r.MaxX, o.MaxX),
		MaxY: min(r.MaxY, o.MaxY),
	}
}

// Expand grows the rectangle by n cells on every side.
func (r CellRect) Expand(n int) CellRect {
	return CellRect{MinX: r.MinX - n, MinY: r.MinY - n, MaxX: r.MaxX + n, MaxY: r.MaxY + n}
}

// Area returns the number of cells covered.
func (r CellRect) Area() int {
	if r.Empty() {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// HitboxKind selects the hitbox shape.
type HitboxKind uint32

const (
	HitboxCircle HitboxKind = 0
	HitboxRect   HitboxKind = 1
)

// Hitbox is one collision shape attached to a Transform. Offsets are in the entity's local frame
// and rotate with the Transform.
type Hitbox struct {
	ID         uint32
	Kind       HitboxKind
	OffsetX    float32
	OffsetY    float32
	Radius     float32 // circle only
	HalfWidth  float32 // rect only
	HalfHeight float32 // rect only
	Angle      float32 // rect only, relative to the Transform rotation
	Mass       float32
	Collision  uint32 // collision category bits
}

// Bounds returns the world-space box of the hitbox for an entity at (x, y) with the given
// rotation in radians.
func (h Hitbox) Bounds(x, y, rotation float32) AABB {
	sin, cos := math.Sincos(float64(rotation))
	cx := x + float32(cos)*h.OffsetX - float32(sin)*h.OffsetY
	cy := y + float32(sin)*h.OffsetX + float32(cos)*h.OffsetY

	var ex, ey float32
	switch h.Kind {
	case HitboxRect:
		s, c := math.Sincos(float64(rotation + h.Angle))
		as, ac := float32(math.Abs(s)), float32(math.Abs(c))
		ex = ac*h.HalfWidth + as*h.HalfHeight
		ey = as*h.HalfWidth + ac*h.HalfHeight
	default:
		ex, ey = h.Radius, h.Radius
	}
	return AABB{MinX: cx - ex, MinY: cy - ey, MaxX: cx + ex, MaxY: cy + ey}
}
