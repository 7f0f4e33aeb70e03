package spatial

import (
	"math"

	"pkg.world.dev/world-engine/worldsync/assert"
	"pkg.world.dev/world-engine/worldsync/ecs"
)

// Shard is an independent region of the world: a tile grid overlaid with a coarser grid of cells.
type Shard struct {
	ID       ecs.ShardID
	Width    int // in tiles
	Height   int // in tiles
	CellSize int // tiles per cell side

	cols  int
	rows  int
	tiles []uint16
	cells [][]ecs.EntityID
}

func newShard(id ecs.ShardID, width, height, cellSize int) *Shard {
	assert.That(width > 0 && height > 0 && cellSize > 0, "invalid shard dimensions %dx%d/%d", width, height,
		cellSize)
	cols := (width + cellSize - 1) / cellSize
	rows := (height + cellSize - 1) / cellSize
	return &Shard{
		ID:       id,
		Width:    width,
		Height:   height,
		CellSize: cellSize,
		cols:     cols,
		rows:     rows,
		tiles:    make([]uint16, width*height),
		cells:    make([][]ecs.EntityID, cols*rows),
	}
}

// Cols returns the number of cell columns.
func (s *Shard) Cols() int { return s.cols }

// Rows returns the number of cell rows.
func (s *Shard) Rows() int { return s.rows }

// Grid returns the rectangle covering every cell of the shard.
func (s *Shard) Grid() CellRect {
	return CellRect{MaxX: s.cols - 1, MaxY: s.rows - 1}
}

// Tile returns the tile id at (x, y).
func (s *Shard) Tile(x, y int) (uint16, bool) {
	if x < 0 || x >= s.Width || y < 0 || y >= s.Height {
		return 0, false
	}
	return s.tiles[y*s.Width+x], true
}

// SetTile stores a tile id. Out-of-range coordinates are ignored and reported as false.
func (s *Shard) SetTile(x, y int, tile uint16) bool {
	if x < 0 || x >= s.Width || y < 0 || y >= s.Height {
		return false
	}
	s.tiles[y*s.Width+x] = tile
	return true
}

// CellCoord converts a world position to the cell containing it, clamped to the grid so that
// entities past the map edge live in edge cells.
func (s *Shard) CellCoord(x, y float32) (int, int) {
	return s.clampX(floorDiv(x, s.CellSize)), s.clampY(floorDiv(y, s.CellSize))
}

// CellRectOf returns the clamped rectangle of cells overlapped by b.
func (s *Shard) CellRectOf(b AABB) CellRect {
	minX, minY := s.CellCoord(b.MinX, b.MinY)
	maxX, maxY := s.CellCoord(b.MaxX, b.MaxY)
	return CellRect{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Cell returns the ids in cell (cx, cy). The slice is owned by the shard.
func (s *Shard) Cell(cx, cy int) []ecs.EntityID {
	if cx < 0 || cx >= s.cols || cy < 0 || cy >= s.rows {
		return nil
	}
	return s.cells[cy*s.cols+cx]
}

// CellIndex returns the flat index of cell (cx, cy).
func (s *Shard) CellIndex(cx, cy int) int {
	return cy*s.cols + cx
}

// CellAt converts a flat cell index back to coordinates.
func (s *Shard) CellAt(index int) (int, int) {
	return index % s.cols, index / s.cols
}

func (s *Shard) addToCell(index int, id ecs.EntityID) {
	s.cells[index] = append(s.cells[index], id)
}

// removeFromCell swap-removes id from the cell. Returns false if it was not a member.
func (s *Shard) removeFromCell(index int, id ecs.EntityID) bool {
	cell := s.cells[index]
	for i, member := range cell {
		if member != id {
			continue
		}
		last := len(cell) - 1
		cell[i] = cell[last]
		s.cells[index] = cell[:last]
		return true
	}
	return false
}

func (s *Shard) clampX(cx int) int { return min(max(cx, 0), s.cols-1) }

func (s *Shard) clampY(cy int) int { return min(max(cy, 0), s.rows-1) }

// maxCellCoord bounds cell coordinates before the float to int conversion. Callers clamp to the
// grid afterwards, so anything beyond it behaves like an edge cell.
const maxCellCoord = 1 << 24

func floorDiv(v float32, size int) int {
	q := v / float32(size)
	switch {
	case math.IsNaN(float64(q)):
		return 0
	case q >= maxCellCoord:
		return maxCellCoord
	case q <= -maxCellCoord:
		return -maxCellCoord
	}
	i := int(q)
	if float32(i) > q {
		i--
	}
	return i
}
