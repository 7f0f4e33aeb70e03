package snapshot

import (
	"math"

	"github.com/goccy/go-json"
	"github.com/kelindar/bitmap"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"pkg.world.dev/world-engine/worldsync/assert"
	"pkg.world.dev/world-engine/worldsync/component"
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/spatial"
	"pkg.world.dev/world-engine/worldsync/wire"
)

// View is the camera's interest region: half extents in tiles plus a margin in cells.
type View struct {
	HalfWidth  float32
	HalfHeight float32
	Margin     int
}

type opKind uint8

const (
	opCreate opKind = iota
	opUpdate
	opPlayer
)

// entityOp is one decoded entity record. Its staged components are d.staged[first:first+count].
type entityOp struct {
	kind   opKind
	id     ecs.EntityID
	handle ecs.Handle
	typ    ecs.EntityType
	shard  ecs.ShardID
	first  int
	count  int
}

type camera struct {
	x, y  float32
	fixed bool
}

// Decoder applies snapshot buffers to the registry and the spatial index. It is not safe for
// concurrent use and must not be called from component hooks.
type Decoder struct {
	reg    *ecs.Registry
	comps  *component.Set
	index  *spatial.Index
	view   View
	logger zerolog.Logger

	cursor   wire.Cursor
	ops      []entityOp
	player   entityOp
	staged   []ecs.Staged
	seen     map[ecs.EntityID]struct{}
	visible  bitmap.Bitmap
	explicit []Removal
	sweep    []ecs.EntityID
	frame    Frame

	local     ecs.EntityID
	hasLocal  bool
	hasPlayer bool
	camera    camera
	decoding  bool
	lastTick  uint32
}

// NewDecoder creates a decoder over the given world state.
func NewDecoder(
	reg *ecs.Registry,
	comps *component.Set,
	index *spatial.Index,
	view View,
	logger zerolog.Logger,
) *Decoder {
	return &Decoder{
		reg:    reg,
		comps:  comps,
		index:  index,
		view:   view,
		logger: logger,
		ops:    make([]entityOp, 0, 256),
		staged: make([]ecs.Staged, 0, 1024),
		seen:   make(map[ecs.EntityID]struct{}, 256),
	}
}

// LocalPlayer returns the id of the predicted entity, if known.
func (d *Decoder) LocalPlayer() (ecs.EntityID, bool) {
	return d.local, d.hasLocal
}

// SetLocalPlayer sets the predicted entity ahead of the first player record.
func (d *Decoder) SetLocalPlayer(id ecs.EntityID) {
	d.local, d.hasLocal = id, true
}

// SetCamera pins the interest region to a fixed point in the active shard.
func (d *Decoder) SetCamera(x, y float32) {
	d.camera = camera{x: x, y: y, fixed: true}
}

// FollowLocalPlayer centers the interest region on the local player. This is the default.
func (d *Decoder) FollowLocalPlayer() {
	d.camera = camera{}
}

// LastTick returns the tick counter of the last applied snapshot.
func (d *Decoder) LastTick() uint32 {
	return d.lastTick
}

// ActiveShard returns the active shard of the last applied snapshot.
func (d *Decoder) ActiveShard() ecs.ShardID {
	return d.frame.ActiveShard
}

// Interest returns the current interest rectangle in the active shard. ok is false when there is
// no camera position, in which case the whole active shard counts as interesting.
func (d *Decoder) Interest(active ecs.ShardID) (spatial.CellRect, bool) {
	x, y := d.camera.x, d.camera.y
	if !d.camera.fixed {
		if !d.hasLocal {
			return d.index.Shard(active).Grid(), false
		}
		t, _, ok := d.comps.Transforms.Find(d.local)
		if !ok {
			return d.index.Shard(active).Grid(), false
		}
		x, y = t.X, t.Y
	}
	return d.index.InterestRect(active, x, y, d.view.HalfWidth, d.view.HalfHeight, d.view.Margin), true
}

// Apply decodes one snapshot and applies it. Decoding completes before anything is applied, so a
// protocol error leaves the world untouched. The returned frame is reused by the next call.
func (d *Decoder) Apply(buf []byte) (*Frame, error) {
	assert.That(!d.decoding, "reentrant snapshot decode")
	if d.decoding {
		return nil, eris.New("reentrant snapshot decode")
	}
	d.decoding = true
	defer func() { d.decoding = false }()

	d.frame.reset()
	d.ops = d.ops[:0]
	d.staged = d.staged[:0]
	d.explicit = d.explicit[:0]
	d.sweep = d.sweep[:0]
	d.hasPlayer = false
	clear(d.seen)
	d.visible.Clear()
	d.cursor.Reset(buf)

	if err := d.decode(); err != nil {
		d.reg.DiscardStaged()
		return nil, err
	}
	d.apply()
	d.reg.DiscardStaged()
	return &d.frame, nil
}

func (d *Decoder) decode() error {
	c := &d.cursor

	version := c.U32()
	d.frame.Tick = c.U32()
	d.frame.Clock = c.F32()
	d.frame.ActiveShard = ecs.ShardID(c.U32())
	d.frame.Paused = c.Bool()
	if err := c.Err(); err != nil {
		return protocolError(c.Offset(), eris.Wrap(err, "truncated header"))
	}
	if version != Version {
		return protocolError(0, eris.Errorf("unsupported protocol version %d, want %d", version, Version))
	}

	local, hasLocal := d.local, d.hasLocal
	if c.Bool() {
		local, hasLocal = ecs.EntityID(c.U32()), true
		d.player = entityOp{kind: opPlayer, id: local, first: len(d.staged)}
		if err := d.readPlayerComponents(); err != nil {
			return err
		}
		d.player.count = len(d.staged) - d.player.first
		d.hasPlayer = true
	}
	d.frame.LocalPlayer, d.frame.HasLocalPlayer = local, hasLocal

	count := c.U32()
	for i := uint32(0); i < count && c.Err() == nil; i++ {
		if err := d.readEntity(local, hasLocal); err != nil {
			return err
		}
	}

	count = c.U32()
	for i := uint32(0); i < count && c.Err() == nil; i++ {
		id := ecs.EntityID(c.U32())
		cause := c.U32()
		if c.Err() != nil {
			break
		}
		if cause > uint32(RemovalDespawned) {
			return protocolError(c.Offset(), eris.Errorf("entity %d has unknown removal cause %d", id, cause))
		}
		d.explicit = append(d.explicit, Removal{ID: id, Cause: RemovalCause(cause)})
	}

	d.computeSweep(local, hasLocal)

	if err := d.readSections(); err != nil {
		return err
	}

	if err := c.Err(); err != nil {
		return protocolError(c.Offset(), err)
	}
	if c.Remaining() != 0 {
		return protocolError(c.Offset(), eris.Errorf("%d trailing bytes", c.Remaining()))
	}
	return nil
}

// readPlayerComponents stages the local player record through the player-apply path: prediction
// where the type supports it, authoritative overwrite otherwise.
func (d *Decoder) readPlayerComponents() error {
	c := &d.cursor
	n := c.U32()
	for i := uint32(0); i < n && c.Err() == nil; i++ {
		tag := ecs.ComponentTag(c.U32())
		mode := ecs.ModeRemote
		if d.reg.Predicted(tag) {
			mode = ecs.ModePredicted
		}
		if err := d.stage(tag, mode); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) readEntity(local ecs.EntityID, hasLocal bool) error {
	c := &d.cursor
	id := ecs.EntityID(c.U32())
	if c.Err() != nil {
		return nil
	}
	if _, dup := d.seen[id]; dup {
		return protocolError(c.Offset(), eris.Errorf("entity %d listed twice", id))
	}
	d.seen[id] = struct{}{}

	op := entityOp{id: id, first: len(d.staged)}
	h, exists := d.reg.Resolve(id)
	if exists {
		op.kind = opUpdate
		op.handle = h
		op.shard = ecs.ShardID(c.U32())
		d.visible.Set(h.Index)
	} else {
		op.kind = opCreate
		op.typ = ecs.EntityType(c.U32())
		op.shard = ecs.ShardID(c.U32())
		if c.Err() == nil {
			if _, ok := d.reg.EntityTypeName(op.typ); !ok {
				return protocolError(c.Offset(), eris.Wrapf(ecs.ErrUnknownEntityType, "entity %d has type %d", id,
					op.typ))
			}
		}
	}

	predicted := exists && hasLocal && id == local
	n := c.U32()
	for i := uint32(0); i < n && c.Err() == nil; i++ {
		tag := ecs.ComponentTag(c.U32())
		var err error
		switch {
		case !exists:
			err = d.stage(tag, ecs.ModeCreate)
		case predicted && d.reg.Predicted(tag):
			err = d.stage(tag, ecs.ModePredicted)
		case predicted:
			// Server values for predicted fields are stale; the bytes still have to be consumed.
			if err = d.reg.Skip(tag, c); err != nil {
				err = protocolError(c.Offset(), err)
			}
		default:
			err = d.stage(tag, ecs.ModeRemote)
		}
		if err != nil {
			return err
		}
	}

	op.count = len(d.staged) - op.first
	d.ops = append(d.ops, op)
	return nil
}

func (d *Decoder) stage(tag ecs.ComponentTag, mode ecs.ApplyMode) error {
	c := &d.cursor
	if c.Err() != nil {
		return nil
	}
	s, err := d.reg.Stage(tag, mode, c)
	if err != nil {
		return protocolError(c.Offset(), err)
	}
	d.staged = append(d.staged, s)
	return nil
}

// computeSweep collects entities to despawn because they fell outside the interest region or
// live in an inactive shard. The local player and entities visible this tick are exempt: an
// update record carries no entity type, so a swept visible entity could not be recreated.
func (d *Decoder) computeSweep(local ecs.EntityID, hasLocal bool) {
	interest, _ := d.Interest(d.frame.ActiveShard)
	d.sweep = append(d.sweep, d.index.OutsideInterest(d.frame.ActiveShard, interest, func(id ecs.EntityID) bool {
		if hasLocal && id == local {
			return true
		}
		h, ok := d.reg.Resolve(id)
		return ok && d.visible.Contains(h.Index)
	})...)
}

func (d *Decoder) readSections() error {
	c := &d.cursor

	count := c.U32()
	for i := uint32(0); i < count && c.Err() == nil; i++ {
		hit := CombatHit{
			Attacker: ecs.EntityID(c.U32()),
			Target:   ecs.EntityID(c.U32()),
			Damage:   c.F32(),
			Flags:    c.U32(),
		}
		if c.Err() == nil {
			d.frame.Combat = append(d.frame.Combat, hit)
		}
	}

	count = c.U32()
	for i := uint32(0); i < count && c.Err() == nil; i++ {
		delta := StatusDelta{
			Entity:   ecs.EntityID(c.U32()),
			Effect:   c.U32(),
			Duration: c.F32(),
		}
		if c.Err() == nil {
			d.frame.Statuses = append(d.frame.Statuses, delta)
		}
	}

	count = c.U32()
	for i := uint32(0); i < count && c.Err() == nil; i++ {
		shard, x, y, tile := c.U32(), c.U32(), c.U32(), c.U32()
		if c.Err() != nil {
			break
		}
		if tile > math.MaxUint16 {
			return protocolError(c.Offset(), eris.Errorf("tile id %d out of range", tile))
		}
		d.frame.Tiles = append(d.frame.Tiles, TileUpdate{Shard: ecs.ShardID(shard), X: x, Y: y, Tile: uint16(tile)})
	}

	count = c.U32()
	for i := uint32(0); i < count && c.Err() == nil; i++ {
		channel := c.U32()
		payload := c.Bytes(int(c.U32()))
		if c.Err() != nil {
			break
		}
		if channel == ChannelJSON && !json.Valid(payload) {
			d.logger.Warn().Uint32("tick", d.frame.Tick).Msg("dropping malformed json side channel payload")
			continue
		}
		d.frame.SideChannel = append(d.frame.SideChannel, SideChannel{
			Channel: channel,
			Payload: append([]byte(nil), payload...),
		})
	}
	return nil
}

// apply commits a fully decoded snapshot: removals first, then creations and updates in wire
// order, then the local player record, then spatial index sync.
func (d *Decoder) apply() {
	for _, r := range d.explicit {
		d.remove(r.ID, r.Cause)
	}
	for _, id := range d.sweep {
		d.remove(id, RemovalDespawned)
	}

	for i := range d.ops {
		d.applyOp(&d.ops[i])
	}
	if d.hasPlayer {
		d.applyOp(&d.player)
	}

	for _, tu := range d.frame.Tiles {
		if !d.index.Shard(tu.Shard).SetTile(int(tu.X), int(tu.Y), tu.Tile) {
			d.logger.Debug().Uint32("shard", uint32(tu.Shard)).Uint32("x", tu.X).Uint32("y", tu.Y).
				Msg("tile update outside shard")
		}
	}

	d.local, d.hasLocal = d.frame.LocalPlayer, d.frame.HasLocalPlayer
	d.lastTick = d.frame.Tick
	d.Sync()

	if len(d.frame.Removed) > 0 || len(d.frame.Created) > 0 {
		d.logger.Debug().
			Uint32("tick", d.frame.Tick).
			Int("created", len(d.frame.Created)).
			Int("updated", d.frame.Updated).
			Int("removed", len(d.frame.Removed)).
			Int("swept", len(d.sweep)).
			Msg("applied snapshot")
	}
}

func (d *Decoder) applyOp(op *entityOp) {
	switch op.kind {
	case opCreate:
		h, err := d.reg.Create(op.id, op.typ, op.shard)
		if err != nil {
			assert.That(false, "creation of entity %d failed: %v", op.id, err)
			d.logger.Error().Err(err).Uint32("entity", uint32(op.id)).Msg("dropping creation record")
			return
		}
		d.commit(h, op)
		d.frame.Created = append(d.frame.Created, op.id)

	case opUpdate:
		// An explicit removal in the same tick wins over the update.
		if !d.reg.Valid(op.handle) {
			return
		}
		if prev := d.reg.Shard(op.handle); prev != op.shard {
			d.reg.SetShard(op.handle, op.shard)
			d.comps.Transforms.Touch(op.handle)
			d.frame.ShardChanges = append(d.frame.ShardChanges, ShardChange{ID: op.id, From: prev, To: op.shard})
		}
		d.commit(op.handle, op)
		d.frame.Updated++

	case opPlayer:
		h, ok := d.reg.Resolve(op.id)
		if !ok {
			d.logger.Debug().Uint32("entity", uint32(op.id)).Msg("local player record for absent entity")
			return
		}
		d.commit(h, op)
	}
}

func (d *Decoder) commit(h ecs.Handle, op *entityOp) {
	for _, s := range d.staged[op.first : op.first+op.count] {
		d.reg.Commit(h, s)
	}
}

func (d *Decoder) remove(id ecs.EntityID, cause RemovalCause) bool {
	h, ok := d.reg.Resolve(id)
	if !ok {
		return false
	}
	typ := d.reg.Type(h)
	d.index.Remove(id)
	d.reg.Destroy(h)
	d.frame.Removed = append(d.frame.Removed, Removal{ID: id, Type: typ, Cause: cause})
	return true
}

// Sync brings the spatial index up to date with every Transform modified since the last sync.
func (d *Decoder) Sync() {
	d.comps.Transforms.DrainDirty(func(h ecs.Handle, t *spatial.Transform) {
		d.index.Sync(d.reg.ID(h), d.reg.Shard(h), t)
	})
}

// ApplyCorrection overwrites the local player's position, velocity and acceleration. Corrections
// for any other entity are rejected.
func (d *Decoder) ApplyCorrection(corr Correction) bool {
	assert.That(!d.decoding, "correction applied during decode")
	if !d.hasLocal || corr.Entity != d.local {
		return false
	}
	h, ok := d.reg.Resolve(corr.Entity)
	if !ok {
		return false
	}
	if t, ok := d.comps.Transforms.Lookup(h); ok {
		t.X, t.Y = corr.X, corr.Y
		d.comps.Transforms.Touch(h)
	}
	d.comps.Motions.Set(h, component.Motion{VX: corr.VX, VY: corr.VY, AX: corr.AX, AY: corr.AY})
	d.Sync()
	return true
}

// Clear removes every entity with cause RemovalReset and forgets all shards and the local player.
func (d *Decoder) Clear() []Removal {
	assert.That(!d.decoding, "clear during decode")
	removed := make([]Removal, 0, d.reg.Len())
	d.reg.Clear(func(h ecs.Handle) {
		id := d.reg.ID(h)
		d.index.Remove(id)
		removed = append(removed, Removal{ID: id, Type: d.reg.Type(h), Cause: RemovalReset})
	})
	d.index.Reset()
	d.local, d.hasLocal = 0, false
	d.lastTick = 0
	d.frame.reset()
	return removed
}
