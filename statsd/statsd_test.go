package statsd_test

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkg.world.dev/world-engine/worldsync/statsd"
)

// The client is process wide, so these tests do not run in parallel.

func TestInit_EmptyAddress(t *testing.T) {
	require.Error(t, statsd.Init("", nil))
}

func TestEmit_WritesToAgent(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, statsd.Init(conn.LocalAddr().String(), []string{"env:test"}))
	t.Cleanup(func() { _ = statsd.Close() })

	statsd.EmitTickStat(time.Now(), "apply")
	statsd.Gauge(statsd.MetricQueueDepth, 3)
	statsd.Count(statsd.MetricSnapshotsApplied, 2)
	require.NoError(t, statsd.Client().Flush())

	want := []string{"worldsync.tick:", "worldsync.queue_depth:3|g", "worldsync.snapshots_applied:2|c"}
	var got strings.Builder
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for !containsAll(got.String(), want) && time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break
		}
		got.Write(buf[:n])
	}

	for _, w := range want {
		assert.Contains(t, got.String(), w)
	}
	assert.Contains(t, got.String(), "env:test")
}

func TestClose_RestoresNoOp(t *testing.T) {
	require.NoError(t, statsd.Init("127.0.0.1:8125", nil))
	require.NoError(t, statsd.Close())
	// Property: emitting after close is a silent no-op.
	statsd.Gauge(statsd.MetricSkipBudget, 1)
	require.NoError(t, statsd.Client().Flush())
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
