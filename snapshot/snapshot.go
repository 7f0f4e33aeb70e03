// Package snapshot decodes authoritative world snapshots into the component registry and the
// spatial index, and encodes the messages exchanged with the server.
//
// A snapshot buffer is laid out as:
//
//	header        version u32, tick u32, clock f32, active shard u32, paused bool
//	local player  present bool, [id u32, component count u32, {tag u32, payload}...]
//	visible       count u32, {id u32, [type u32 if new], shard u32, component count u32,
//	              {tag u32, payload}...}...
//	removed       count u32, {id u32, cause u32}...
//	combat        count u32, {attacker u32, target u32, damage f32, flags u32}...
//	status        count u32, {entity u32, effect u32, duration f32}...
//	tiles         count u32, {shard u32, x u32, y u32, tile u32}...
//	side channel  count u32, {channel u32, length u32, bytes padded to 4}...
//
// The type field of a visible entity is present only when the client does not yet hold the id;
// the server mirrors the client's view, including removals caused by the interest sweep.
package snapshot

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"pkg.world.dev/world-engine/worldsync/ecs"
)

// Version is the snapshot protocol version this decoder understands.
const Version = 1

// ErrProtocol marks every error that desynchronizes the byte stream. The connection must be torn
// down and the world reset.
var ErrProtocol = eris.New("protocol error")

// ProtocolError carries the offset at which decoding failed. It matches ErrProtocol and whatever
// error caused it.
type ProtocolError struct {
	Offset int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error at offset %d: %v", e.Offset, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol //nolint:errorlint // sentinel identity
}

func protocolError(offset int, err error) error {
	return &ProtocolError{Offset: offset, Err: err}
}

// RemovalCause tells consumers why an entity left the world.
type RemovalCause uint8

const (
	RemovalDied      RemovalCause = 0 // Server reported death
	RemovalDespawned RemovalCause = 1 // Left the interest region
	RemovalReset     RemovalCause = 2 // Local disconnect or world reset, never on the wire
)

func (c RemovalCause) String() string {
	switch c {
	case RemovalDied:
		return "died"
	case RemovalDespawned:
		return "despawned"
	case RemovalReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Header is the fixed prefix of every snapshot.
type Header struct {
	Tick        uint32
	Clock       float32
	ActiveShard ecs.ShardID
	Paused      bool
}

// Removal is one entity removed during a tick.
type Removal struct {
	ID    ecs.EntityID
	Type  ecs.EntityType
	Cause RemovalCause
}

// ShardChange records an entity moving between shards.
type ShardChange struct {
	ID   ecs.EntityID
	From ecs.ShardID
	To   ecs.ShardID
}

type CombatHit struct {
	Attacker ecs.EntityID
	Target   ecs.EntityID
	Damage   float32
	Flags    uint32
}

type StatusDelta struct {
	Entity   ecs.EntityID
	Effect   uint32
	Duration float32
}

type TileUpdate struct {
	Shard ecs.ShardID
	X, Y  uint32
	Tile  uint16
}

// Side-channel ids.
const (
	ChannelRaw  uint32 = 0
	ChannelJSON uint32 = 1
)

// SideChannel is an opaque payload for UI collaborators.
type SideChannel struct {
	Channel uint32
	Payload []byte
}

// Decode unmarshals a JSON side-channel payload.
func (s SideChannel) Decode(v any) error {
	if s.Channel != ChannelJSON {
		return eris.Errorf("channel %d does not carry json", s.Channel)
	}
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return eris.Wrap(err, "failed to unmarshal side channel payload")
	}
	return nil
}

// Frame describes what one applied snapshot changed. The decoder reuses it between calls.
type Frame struct {
	Header

	LocalPlayer    ecs.EntityID
	HasLocalPlayer bool

	Created      []ecs.EntityID
	Updated      int
	Removed      []Removal
	ShardChanges []ShardChange

	Combat      []CombatHit
	Statuses    []StatusDelta
	Tiles       []TileUpdate
	SideChannel []SideChannel
}

func (f *Frame) reset() {
	*f = Frame{
		Created:      f.Created[:0],
		Removed:      f.Removed[:0],
		ShardChanges: f.ShardChanges[:0],
		Combat:       f.Combat[:0],
		Statuses:     f.Statuses[:0],
		Tiles:        f.Tiles[:0],
		SideChannel:  f.SideChannel[:0],
	}
}
