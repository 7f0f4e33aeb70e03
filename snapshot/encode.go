package snapshot

import (
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/wire"
)

// Payload is one encoded component.
type Payload struct {
	Tag  ecs.ComponentTag
	Data []byte
}

// EncodePayload runs fn against a fresh writer and wraps the result.
func EncodePayload(tag ecs.ComponentTag, fn func(w *wire.Writer)) Payload {
	w := wire.NewWriter(64)
	fn(w)
	return Payload{Tag: tag, Data: w.Data()}
}

// EntityRecord is one visible entity. Type is written only when New is set.
type EntityRecord struct {
	ID         ecs.EntityID
	New        bool
	Type       ecs.EntityType
	Shard      ecs.ShardID
	Components []Payload
}

// PlayerRecord is the local player record.
type PlayerRecord struct {
	ID         ecs.EntityID
	Components []Payload
}

// Snapshot is the structured form of a snapshot buffer, used by servers, recorders and tests.
type Snapshot struct {
	Header
	Player      *PlayerRecord
	Entities    []EntityRecord
	Removals    []Removal
	Combat      []CombatHit
	Statuses    []StatusDelta
	Tiles       []TileUpdate
	SideChannel []SideChannel
}

// Encode returns the wire form of the snapshot.
func (s *Snapshot) Encode() []byte {
	w := wire.NewWriter(256)
	w.U32(Version).U32(s.Tick).F32(s.Clock).U32(uint32(s.ActiveShard)).Bool(s.Paused)

	w.Bool(s.Player != nil)
	if s.Player != nil {
		w.U32(uint32(s.Player.ID))
		writePayloads(w, s.Player.Components)
	}

	w.U32(uint32(len(s.Entities))) //nolint:gosec // bounded by memory
	for _, e := range s.Entities {
		w.U32(uint32(e.ID))
		if e.New {
			w.U32(uint32(e.Type))
		}
		w.U32(uint32(e.Shard))
		writePayloads(w, e.Components)
	}

	w.U32(uint32(len(s.Removals))) //nolint:gosec // bounded by memory
	for _, r := range s.Removals {
		w.U32(uint32(r.ID)).U32(uint32(r.Cause))
	}

	w.U32(uint32(len(s.Combat))) //nolint:gosec // bounded by memory
	for _, h := range s.Combat {
		w.U32(uint32(h.Attacker)).U32(uint32(h.Target)).F32(h.Damage).U32(h.Flags)
	}

	w.U32(uint32(len(s.Statuses))) //nolint:gosec // bounded by memory
	for _, sd := range s.Statuses {
		w.U32(uint32(sd.Entity)).U32(sd.Effect).F32(sd.Duration)
	}

	w.U32(uint32(len(s.Tiles))) //nolint:gosec // bounded by memory
	for _, t := range s.Tiles {
		w.U32(uint32(t.Shard)).U32(t.X).U32(t.Y).U32(uint32(t.Tile))
	}

	w.U32(uint32(len(s.SideChannel))) //nolint:gosec // bounded by memory
	for _, sc := range s.SideChannel {
		w.U32(sc.Channel).U32(uint32(len(sc.Payload))).Bytes(sc.Payload) //nolint:gosec // bounded by memory
	}

	return w.Data()
}

func writePayloads(w *wire.Writer, payloads []Payload) {
	w.U32(uint32(len(payloads))) //nolint:gosec // bounded by memory
	for _, p := range payloads {
		w.U32(uint32(p.Tag))
		w.Bytes(p.Data)
	}
}
