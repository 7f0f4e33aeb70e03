package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkg.world.dev/world-engine/worldsync/component"
	"pkg.world.dev/world-engine/worldsync/ecs"
	"pkg.world.dev/world-engine/worldsync/replay"
	"pkg.world.dev/world-engine/worldsync/snapshot"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"connect", "replay"}, names)

	connect, _, err := root.Find([]string{"connect"})
	require.NoError(t, err)
	assert.NotNil(t, connect.Flags().Lookup("url"))
	assert.NotNil(t, connect.Flags().Lookup("record"))
}

func TestReplayCmd(t *testing.T) {
	s := miniredis.RunT(t)
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rec, err := replay.NewRedisRecorder(ctx, replay.RedisRecorderOptions{Client: client})
	require.NoError(t, err)
	for i := range uint32(3) {
		msg := snapshot.AppendMessage(snapshot.KindSnapshot, (&snapshot.Snapshot{
			Header: snapshot.Header{Tick: i + 1},
			Entities: []snapshot.EntityRecord{
				{ID: ecs.EntityID(i + 1), New: true, Type: component.TypeItem},
			},
		}).Encode())
		require.NoError(t, rec.Record(ctx, msg))
	}

	out, err := runCmd(t, "replay", "--redis", s.Addr(), "--list")
	require.NoError(t, err)
	assert.Equal(t, rec.Session().String()+"\n", out)

	out, err = runCmd(t, "replay", "--redis", s.Addr(), "--session", rec.Session().String())
	require.NoError(t, err)

	var report replayReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, rec.Session().String(), report.Session)
	assert.Equal(t, 3, report.Messages)
	assert.Equal(t, uint32(3), report.ServerTick)
	assert.Equal(t, 3, report.Entities)

	_, err = runCmd(t, "replay", "--redis", s.Addr(), "--session", uuid.NewString())
	require.ErrorIs(t, err, replay.ErrSessionNotFound)

	_, err = runCmd(t, "replay", "--redis", s.Addr(), "--session", "not-a-uuid")
	require.Error(t, err)

	_, err = runCmd(t, "replay", "--redis", s.Addr())
	require.Error(t, err)
}
