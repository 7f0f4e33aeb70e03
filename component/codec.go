package component

import (
	"pkg.world.dev/world-engine/worldsync/spatial"
	"pkg.world.dev/world-engine/worldsync/wire"
)

const (
	transformFlagHitboxes = 1 << 0
	appearanceFlagLabel   = 1 << 0

	hitboxWords = 9
)

// ReadTransform decodes flags, pose and, when flagged, the hitbox list. The hitbox slice is nil
// when the flag is clear and non-nil (possibly empty) when it is set.
func ReadTransform(c *wire.Cursor, dst *spatial.Transform) {
	flags := c.U32()
	dst.X = c.F32()
	dst.Y = c.F32()
	dst.Rotation = c.F32()
	if flags&transformFlagHitboxes == 0 {
		return
	}

	count := int(c.U32())
	// Never trust the count for the allocation; a bad count overruns the cursor instead.
	dst.Hitboxes = make([]spatial.Hitbox, 0, min(count, c.Remaining()/(hitboxWords*wire.WordSize)))
	for range count {
		if c.Err() != nil {
			return
		}
		var h spatial.Hitbox
		h.Kind = spatial.HitboxKind(c.U32())
		h.ID = c.U32()
		h.OffsetX = c.F32()
		h.OffsetY = c.F32()
		a, b := c.F32(), c.F32()
		if h.Kind == spatial.HitboxRect {
			h.HalfWidth, h.HalfHeight = a, b
		} else {
			h.Radius = a
		}
		h.Angle = c.F32()
		h.Mass = c.F32()
		h.Collision = c.U32()
		if c.Err() != nil {
			return
		}
		dst.Hitboxes = append(dst.Hitboxes, h)
	}
}

// WriteTransform encodes t. Hitboxes are written whenever includeHitboxes is set.
func WriteTransform(w *wire.Writer, t *spatial.Transform, includeHitboxes bool) {
	var flags uint32
	if includeHitboxes {
		flags |= transformFlagHitboxes
	}
	w.U32(flags).F32(t.X).F32(t.Y).F32(t.Rotation)
	if !includeHitboxes {
		return
	}
	w.U32(uint32(len(t.Hitboxes))) //nolint:gosec // bounded by the caller
	for _, h := range t.Hitboxes {
		a, b := h.Radius, float32(0)
		if h.Kind == spatial.HitboxRect {
			a, b = h.HalfWidth, h.HalfHeight
		}
		w.U32(uint32(h.Kind)).U32(h.ID).F32(h.OffsetX).F32(h.OffsetY).F32(a).F32(b).F32(h.Angle).
			F32(h.Mass).U32(h.Collision)
	}
}

func ReadMotion(c *wire.Cursor, dst *Motion) {
	dst.VX = c.F32()
	dst.VY = c.F32()
	dst.AX = c.F32()
	dst.AY = c.F32()
}

func WriteMotion(w *wire.Writer, m Motion) {
	w.F32(m.VX).F32(m.VY).F32(m.AX).F32(m.AY)
}

func ReadHealth(c *wire.Cursor, dst *Health) {
	dst.Current = c.F32()
	dst.Max = c.F32()
}

func WriteHealth(w *wire.Writer, h Health) {
	w.F32(h.Current).F32(h.Max)
}

// ReadAppearance decodes sprite data and, when flagged, a length-prefixed label.
func ReadAppearance(c *wire.Cursor, dst *Appearance) {
	flags := c.U32()
	dst.Sprite = c.U32()
	dst.Tint = c.U32()
	dst.Scale = c.F32()
	if flags&appearanceFlagLabel == 0 {
		return
	}
	dst.Label = string(c.Bytes(int(c.U32())))
}

func WriteAppearance(w *wire.Writer, a Appearance) {
	var flags uint32
	if a.Label != "" {
		flags |= appearanceFlagLabel
	}
	w.U32(flags).U32(a.Sprite).U32(a.Tint).F32(a.Scale)
	if flags&appearanceFlagLabel != 0 {
		w.U32(uint32(len(a.Label))).Bytes([]byte(a.Label)) //nolint:gosec // labels are short
	}
}

func ReadStatus(c *wire.Cursor, dst *Status) {
	dst.Effects = c.U32()
}

func WriteStatus(w *wire.Writer, s Status) {
	w.U32(s.Effects)
}

func ReadOwnership(c *wire.Cursor, dst *Ownership) {
	dst.Owner = c.U32()
	dst.Team = c.U32()
}

func WriteOwnership(w *wire.Writer, o Ownership) {
	w.U32(o.Owner).U32(o.Team)
}

func ReadPlayerStats(c *wire.Cursor, dst *PlayerStats) {
	dst.Level = c.U32()
	dst.Experience = c.U32()
	dst.Gold = c.U32()
	dst.Energy = c.F32()
	dst.MaxEnergy = c.F32()
}

func WritePlayerStats(w *wire.Writer, p PlayerStats) {
	w.U32(p.Level).U32(p.Experience).U32(p.Gold).F32(p.Energy).F32(p.MaxEnergy)
}
