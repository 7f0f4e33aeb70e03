// Package ecs is the client-side component registry. It maps server entity ids onto a
// generational arena, stores typed components sparsely per wire tag, and exposes the
// create/applyRemote/applyLocalPredicted/skip contract the snapshot decoder drives.
//
// Component payloads are decoded in two phases. During decode every contract call reads the
// payload through the component's single Read function into a per-type staging buffer, so the
// cursor advances identically on every path. Staged values are committed in a later pass, after
// the tick's removals have been applied.
package ecs

import "fmt"

// EntityID is the identifier the server assigns to an entity.
type EntityID uint32

// EntityType is the immutable type tag of an entity.
type EntityType uint32

// ComponentTag is the stable wire tag of a component type.
type ComponentTag uint32

// ShardID identifies a shard.
type ShardID uint32

// MaxComponentTags bounds the dispatch table. Tags must be below this value.
const MaxComponentTags = 64

// Handle is a generational reference to an arena slot. A handle stops being valid once its
// entity is destroyed, even if the slot and the server id are later reused.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

// ApplyMode selects how a staged component value is committed.
type ApplyMode uint8

const (
	ModeCreate    ApplyMode = iota // Entity first seen this tick
	ModeRemote                     // Authoritative overwrite
	ModePredicted                  // Reconciled against locally predicted state
)

func (m ApplyMode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeRemote:
		return "remote"
	case ModePredicted:
		return "predicted"
	default:
		return "unknown"
	}
}
