package snapshot

import (
	"github.com/rotisserie/eris"
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/wire"
)

// Kind prefixes every message on the transport.
type Kind uint32

const (
	KindSnapshot   Kind = 1
	KindCorrection Kind = 2
	KindInput      Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindCorrection:
		return "correction"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// SplitMessage strips the kind prefix from a transport message.
func SplitMessage(msg []byte) (Kind, []byte, error) {
	c := wire.NewCursor(msg)
	kind := Kind(c.U32())
	if err := c.Err(); err != nil {
		return 0, nil, protocolError(0, eris.Wrap(err, "message too short"))
	}
	switch kind {
	case KindSnapshot, KindCorrection, KindInput:
		return kind, msg[wire.WordSize:], nil
	default:
		return 0, nil, protocolError(0, eris.Errorf("unknown message kind %d", kind))
	}
}

// AppendMessage prefixes payload with its kind.
func AppendMessage(kind Kind, payload []byte) []byte {
	w := wire.NewWriter(wire.WordSize + len(payload))
	w.U32(uint32(kind))
	return append(w.Data(), payload...)
}

// Correction is the authoritative overwrite of the local player's predicted motion. It is the
// only message allowed to replace predicted position, velocity and acceleration.
type Correction struct {
	Tick   uint32
	Entity ecs.EntityID
	X, Y   float32
	VX, VY float32
	AX, AY float32
}

// DecodeCorrection reads a correction message body.
func DecodeCorrection(buf []byte) (Correction, error) {
	c := wire.NewCursor(buf)
	corr := Correction{
		Tick:   c.U32(),
		Entity: ecs.EntityID(c.U32()),
		X:      c.F32(),
		Y:      c.F32(),
		VX:     c.F32(),
		VY:     c.F32(),
		AX:     c.F32(),
		AY:     c.F32(),
	}
	if err := c.Err(); err != nil {
		return Correction{}, protocolError(c.Offset(), eris.Wrap(err, "truncated correction"))
	}
	if c.Remaining() != 0 {
		return Correction{}, protocolError(c.Offset(), eris.Errorf("%d trailing bytes after correction",
			c.Remaining()))
	}
	return corr, nil
}

// Encode writes the correction body.
func (corr Correction) Encode(w *wire.Writer) {
	w.U32(corr.Tick).U32(uint32(corr.Entity)).F32(corr.X).F32(corr.Y).F32(corr.VX).F32(corr.VY).
		F32(corr.AX).F32(corr.AY)
}

// Input is the packet sent to the server once per simulation tick.
type Input struct {
	ClientTick     uint32
	LastServerTick uint32
	X, Y           float32 // predicted position
	Buttons        uint32
	Aim            float32
}

// Encode writes the input body.
func (in Input) Encode(w *wire.Writer) {
	w.U32(in.ClientTick).U32(in.LastServerTick).F32(in.X).F32(in.Y).U32(in.Buttons).F32(in.Aim)
}

// DecodeInput reads an input body.
func DecodeInput(buf []byte) (Input, error) {
	c := wire.NewCursor(buf)
	in := Input{
		ClientTick:     c.U32(),
		LastServerTick: c.U32(),
		X:              c.F32(),
		Y:              c.F32(),
		Buttons:        c.U32(),
		Aim:            c.F32(),
	}
	if err := c.Err(); err != nil {
		return Input{}, protocolError(c.Offset(), eris.Wrap(err, "truncated input"))
	}
	return in, nil
}
