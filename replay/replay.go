// Package replay records inbound transport messages and feeds them back through an engine.
package replay

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

var ErrSessionNotFound = eris.New("replay session not found")

// keyPrefix prefixes every recording key.
const keyPrefix = "worldsync:replay:"

// Key returns the storage key of a recording session.
func Key(session uuid.UUID) string {
	return keyPrefix + session.String()
}

func parseKey(key string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Recorder persists inbound messages in arrival order. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, msg []byte) error
	Close() error
}

// Sink is what Feed drives. *worldsync.Engine satisfies it.
type Sink interface {
	Receive(msg []byte) error
	Tick() error
	Pending() int
}

// Summary describes a completed replay.
type Summary struct {
	Messages int
	Ticks    int
}

// Feed delivers msgs to sink one per tick, then keeps ticking until the sink has admitted every
// queued snapshot. The same recording always produces the same sequence of ticks.
func Feed(ctx context.Context, sink Sink, msgs [][]byte) (Summary, error) {
	var sum Summary
	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "replay interrupted")
		}
		if err := sink.Receive(msg); err != nil {
			return sum, eris.Wrapf(err, "failed to receive message %d", i)
		}
		sum.Messages++
		if err := sink.Tick(); err != nil {
			return sum, eris.Wrapf(err, "failed to tick after message %d", i)
		}
		sum.Ticks++
	}
	for sink.Pending() > 0 {
		if err := sink.Tick(); err != nil {
			return sum, eris.Wrap(err, "failed to drain pending snapshots")
		}
		sum.Ticks++
	}
	return sum, nil
}
