// Package spatial keeps entity-to-cell membership synchronized with each entity's bounding box.
// The world is split into shards, and each shard is a uniform grid of cells. Membership is
// maintained incrementally: a move only touches the cells that enter or leave the entity's
// covering rectangle.
package spatial

import (
	"slices"

	"github.com/rotisserie/eris"
	"pkg.world.dev/world-engine/worldsync/assert"
	"pkg.world.dev/world-engine/worldsync/ecs"
)

// Config sets the geometry of lazily created shards.
type Config struct {
	CellSize    int // tiles per cell side
	ShardWidth  int // default shard width in tiles
	ShardHeight int // default shard height in tiles
}

func (c Config) validate() error {
	if c.CellSize <= 0 {
		return eris.New("cell size must be positive")
	}
	if c.ShardWidth <= 0 || c.ShardHeight <= 0 {
		return eris.New("shard dimensions must be positive")
	}
	return nil
}

// Index tracks the cells every placed entity belongs to.
type Index struct {
	cfg        Config
	shards     map[ecs.ShardID]*Shard
	placements map[ecs.EntityID]*Membership
}

// NewIndex creates an empty index.
func NewIndex(cfg Config) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid spatial config")
	}
	return &Index{
		cfg:        cfg,
		shards:     make(map[ecs.ShardID]*Shard),
		placements: make(map[ecs.EntityID]*Membership),
	}, nil
}

// DefineShard creates a shard with explicit dimensions. Redefining a shard that holds entities
// is an error.
func (ix *Index) DefineShard(id ecs.ShardID, width, height int) (*Shard, error) {
	if width <= 0 || height <= 0 {
		return nil, eris.Errorf("shard %d dimensions must be positive, got %dx%d", id, width, height)
	}
	for _, m := range ix.placements {
		if m.Shard == id {
			return nil, eris.Errorf("shard %d is populated and cannot be redefined", id)
		}
	}
	s := newShard(id, width, height, ix.cfg.CellSize)
	ix.shards[id] = s
	return s, nil
}

// Shard returns the shard with the given id, creating it with the default dimensions.
func (ix *Index) Shard(id ecs.ShardID) *Shard {
	s, ok := ix.shards[id]
	if !ok {
		s = newShard(id, ix.cfg.ShardWidth, ix.cfg.ShardHeight, ix.cfg.CellSize)
		ix.shards[id] = s
	}
	return s
}

// LookupShard returns a shard without creating it.
func (ix *Index) LookupShard(id ecs.ShardID) (*Shard, bool) {
	s, ok := ix.shards[id]
	return s, ok
}

// Len returns the number of placed entities.
func (ix *Index) Len() int {
	return len(ix.placements)
}

// Membership returns the membership of a placed entity.
func (ix *Index) Membership(id ecs.EntityID) (*Membership, bool) {
	m, ok := ix.placements[id]
	return m, ok
}

// Place adds an entity to the cells covered by its bounding box.
func (ix *Index) Place(id ecs.EntityID, shard ecs.ShardID, t *Transform) {
	if _, ok := ix.placements[id]; ok {
		assert.That(false, "entity %d placed twice", id)
		ix.Sync(id, shard, t)
		return
	}
	s := ix.Shard(shard)
	bounds := t.ComputeBounds()
	rect := s.CellRectOf(bounds)
	m := &Membership{Shard: shard, Bounds: bounds, Rect: rect, Cells: make([]int, 0, rect.Area())}
	for cy := rect.MinY; cy <= rect.MaxY; cy++ {
		for cx := rect.MinX; cx <= rect.MaxX; cx++ {
			index := s.CellIndex(cx, cy)
			s.addToCell(index, id)
			m.Cells = append(m.Cells, index)
		}
	}
	ix.placements[id] = m
	t.member = m
}

// Update recomputes the bounding box from the hitbox set and moves the entity between cells by
// set difference of the old and new covering rectangles.
func (ix *Index) Update(id ecs.EntityID, t *Transform) {
	m, ok := ix.placements[id]
	assert.That(ok, "update of unplaced entity %d", id)
	if !ok {
		return
	}
	t.member = m

	s := ix.Shard(m.Shard)
	bounds := t.ComputeBounds()
	rect := s.CellRectOf(bounds)
	m.Bounds = bounds
	if rect == m.Rect {
		return
	}

	old := m.Rect
	for cy := old.MinY; cy <= old.MaxY; cy++ {
		for cx := old.MinX; cx <= old.MaxX; cx++ {
			if !rect.Contains(cx, cy) {
				s.removeFromCell(s.CellIndex(cx, cy), id)
			}
		}
	}
	m.Cells = m.Cells[:0]
	for cy := rect.MinY; cy <= rect.MaxY; cy++ {
		for cx := rect.MinX; cx <= rect.MaxX; cx++ {
			index := s.CellIndex(cx, cy)
			if !old.Contains(cx, cy) {
				s.addToCell(index, id)
			}
			m.Cells = append(m.Cells, index)
		}
	}
	m.Rect = rect
}

// Reassign moves an entity to another shard: it leaves every cell of the old shard and joins the
// new shard's cells using the bounding box already recorded. Reassigning to the same shard is a
// no-op.
func (ix *Index) Reassign(id ecs.EntityID, shard ecs.ShardID, t *Transform) {
	m, ok := ix.placements[id]
	assert.That(ok, "reassign of unplaced entity %d", id)
	if !ok {
		return
	}
	t.member = m
	if m.Shard == shard {
		return
	}

	old := ix.Shard(m.Shard)
	for _, index := range m.Cells {
		old.removeFromCell(index, id)
	}

	s := ix.Shard(shard)
	rect := s.CellRectOf(m.Bounds)
	m.Shard = shard
	m.Rect = rect
	m.Cells = m.Cells[:0]
	for cy := rect.MinY; cy <= rect.MaxY; cy++ {
		for cx := rect.MinX; cx <= rect.MaxX; cx++ {
			index := s.CellIndex(cx, cy)
			s.addToCell(index, id)
			m.Cells = append(m.Cells, index)
		}
	}
}

// Sync brings an entity's membership up to date with its Transform and shard, placing it if it
// is not yet indexed.
func (ix *Index) Sync(id ecs.EntityID, shard ecs.ShardID, t *Transform) {
	m, ok := ix.placements[id]
	if !ok {
		ix.Place(id, shard, t)
		return
	}
	if m.Shard != shard {
		m.Bounds = t.ComputeBounds()
		ix.Reassign(id, shard, t)
		return
	}
	ix.Update(id, t)
}

// Remove takes an entity out of every cell. Removing an unplaced entity is a no-op.
func (ix *Index) Remove(id ecs.EntityID) bool {
	m, ok := ix.placements[id]
	if !ok {
		return false
	}
	s := ix.Shard(m.Shard)
	for _, index := range m.Cells {
		removed := s.removeFromCell(index, id)
		assert.That(removed, "entity %d missing from cell %d of shard %d", id, index, m.Shard)
	}
	delete(ix.placements, id)
	return true
}

// Query calls fn once for every entity in the shard whose cell rectangle overlaps rect, until fn
// returns false. fn must not mutate the index.
func (ix *Index) Query(shard ecs.ShardID, rect CellRect, fn func(id ecs.EntityID) bool) {
	s, ok := ix.shards[shard]
	if !ok {
		return
	}
	q := rect.Intersect(s.Grid())
	if q.Empty() {
		return
	}
	for cy := q.MinY; cy <= q.MaxY; cy++ {
		for cx := q.MinX; cx <= q.MaxX; cx++ {
			for _, id := range s.Cell(cx, cy) {
				m := ix.placements[id]
				// Report each entity only from the first cell of its overlap with the query.
				first := m.Rect.Intersect(q)
				if cx != first.MinX || cy != first.MinY {
					continue
				}
				if !fn(id) {
					return
				}
			}
		}
	}
}

// Near calls fn for every entity in the shard whose bounding box intersects the circle's box.
func (ix *Index) Near(shard ecs.ShardID, x, y, radius float32, fn func(id ecs.EntityID) bool) {
	s, ok := ix.shards[shard]
	if !ok {
		return
	}
	box := AABB{MinX: x - radius, MinY: y - radius, MaxX: x + radius, MaxY: y + radius}
	ix.Query(shard, s.CellRectOf(box), func(id ecs.EntityID) bool {
		if !ix.placements[id].Bounds.Intersects(box) {
			return true
		}
		return fn(id)
	})
}

// OutsideInterest returns, in ascending order, every placed entity that either lives in a shard
// other than active or whose cell rectangle does not intersect interest. Entities accepted by keep
// are excluded.
func (ix *Index) OutsideInterest(active ecs.ShardID, interest CellRect, keep func(id ecs.EntityID) bool) []ecs.EntityID {
	var out []ecs.EntityID
	for id, m := range ix.placements {
		if m.Shard == active && m.Rect.Intersects(interest) {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Clear empties every cell and forgets every placement. Shards and their tiles are kept.
func (ix *Index) Clear() {
	for id := range ix.placements {
		ix.Remove(id)
	}
}

// InterestRect returns the cells visible from a camera centered at (x, y) with the given half
// extents in tiles, grown by margin cells. The result is not clamped.
func (ix *Index) InterestRect(shard ecs.ShardID, x, y, halfWidth, halfHeight float32, margin int) CellRect {
	s := ix.Shard(shard)
	return CellRect{
		MinX: floorDiv(x-halfWidth, s.CellSize),
		MinY: floorDiv(y-halfHeight, s.CellSize),
		MaxX: floorDiv(x+halfWidth, s.CellSize),
		MaxY: floorDiv(y+halfHeight, s.CellSize),
	}.Expand(margin)
}

// Reset forgets every placement and every shard, tiles included.
func (ix *Index) Reset() {
	clear(ix.placements)
	clear(ix.shards)
}
