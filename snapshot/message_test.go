package snapshot_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pkg.world.dev/world-engine/worldsync/snapshot"
	"pkg.world.dev/world-engine/worldsync/wire"
)

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     []byte
		kind    snapshot.Kind
		body    []byte
		wantErr bool
	}{
		{name: "snapshot", msg: snapshot.AppendMessage(snapshot.KindSnapshot, []byte{1, 2, 3, 4}),
			kind: snapshot.KindSnapshot, body: []byte{1, 2, 3, 4}},
		{name: "empty correction body", msg: snapshot.AppendMessage(snapshot.KindCorrection, nil),
			kind: snapshot.KindCorrection, body: []byte{}},
		{name: "too short", msg: []byte{1, 0}, wantErr: true},
		{name: "unknown kind", msg: snapshot.AppendMessage(snapshot.Kind(9), nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, body, err := snapshot.SplitMessage(tt.msg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, snapshot.ErrProtocol))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestCorrection_Encoding(t *testing.T) {
	t.Parallel()

	want := snapshot.Correction{Tick: 12, Entity: 3, X: 1.5, Y: -2, VX: 0.25, VY: 4, AX: -1, AY: 9.8}
	w := wire.NewWriter(32)
	want.Encode(w)
	buf := w.Data()
	assert.Len(t, buf, 8*wire.WordSize)

	got, err := snapshot.DecodeCorrection(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = snapshot.DecodeCorrection(buf[:len(buf)-wire.WordSize])
	require.ErrorIs(t, err, snapshot.ErrProtocol)

	_, err = snapshot.DecodeCorrection(append(append([]byte(nil), buf...), 0, 0, 0, 0))
	require.ErrorIs(t, err, snapshot.ErrProtocol)
}

func TestInput_Encoding(t *testing.T) {
	t.Parallel()

	want := snapshot.Input{ClientTick: 100, LastServerTick: 97, X: 3, Y: 4, Buttons: 0b101, Aim: 1.25}
	w := wire.NewWriter(32)
	want.Encode(w)

	got, err := snapshot.DecodeInput(w.Data())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = snapshot.DecodeInput(w.Data()[:8])
	require.ErrorIs(t, err, snapshot.ErrProtocol)
}

func TestProtocolError_Offset(t *testing.T) {
	t.Parallel()

	_, err := snapshot.DecodeCorrection([]byte{1, 0, 0, 0})
	var perr *snapshot.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Positive(t, perr.Offset)
}
