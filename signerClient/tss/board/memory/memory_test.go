package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

func TestWritesReachEveryBoard(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	a, b := net.Join(0), net.Join(1)

	pkt := wire.Packet{Msg: &wire.DkgBegin{DkgID: 1}, Sig: []byte{1}}
	ack, err := a.SendMessage(ctx, 0, pkt)
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, uint64(1), ack.Version)

	for _, bd := range []*Board{a, b} {
		ev, err := bd.NextEvent(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, ev)
		require.Len(t, ev.ModifiedSlots, 1)
		decoded, err := wire.Decode(ev.ModifiedSlots[0].Data)
		require.NoError(t, err)
		assert.Equal(t, pkt.Msg, decoded.Msg)
	}
}

func TestVersionsGrowPerSlot(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	a := net.Join(0)
	pkt := wire.Packet{Msg: &wire.DkgBegin{DkgID: 1}}

	for want := uint64(1); want <= 3; want++ {
		ack, err := a.SendMessage(ctx, 0, pkt)
		require.NoError(t, err)
		assert.Equal(t, want, ack.Version)
	}
	ack, err := a.SendMessage(ctx, 4, pkt)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ack.Version)
}

func TestDownSignerCannotWrite(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	a := net.Join(0)
	net.SetDown(0, true)

	ack, err := a.SendMessage(ctx, 0, wire.Packet{Msg: &wire.DkgBegin{}})
	require.Error(t, err)
	assert.False(t, ack.Accepted)

	ev, err := a.NextEvent(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestSendRejectsEmptyPacket(t *testing.T) {
	a := NewNetwork().Join(0)
	_, err := a.SendMessage(context.Background(), 0, wire.Packet{})
	assert.ErrorIs(t, err, wire.ErrEmptyPacket)
}

func TestCloseDetaches(t *testing.T) {
	ctx := context.Background()
	net := NewNetwork()
	a, b := net.Join(0), net.Join(1)
	require.NoError(t, b.Close())

	_, err := a.SendMessage(ctx, 0, wire.Packet{Msg: &wire.DkgBegin{}})
	require.NoError(t, err)
	_, err = b.NextEvent(ctx, time.Millisecond)
	assert.ErrorIs(t, err, board.ErrClosed)
}
