package wire

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv
}

func TestSignedPacketSurvivesTheWire(t *testing.T) {
	priv := newKey(t)
	msg := &NonceResponse{
		DkgID:    3,
		SignID:   7,
		SignerID: 2,
		KeyIDs:   []uint32{4, 5},
		Nonces: []NonceCommitment{
			{KeyID: 4, Hiding: []byte{1}, Binding: []byte{2}},
			{KeyID: 5, Hiding: []byte{3}, Binding: []byte{4}},
		},
		Message: []byte("hello"),
	}

	pkt, err := SignPacket(msg, priv)
	require.NoError(t, err)

	raw, err := pkt.Encode()
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded.Msg)
	assert.True(t, decoded.Verify(priv.PubKey()))
	assert.False(t, decoded.Verify(newKey(t).PubKey()))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv := newKey(t)
	msg := &DkgEnd{DkgID: 1, SignerID: 1, Status: DkgStatusSuccess}
	pkt, err := SignPacket(msg, priv)
	require.NoError(t, err)

	msg.Status = DkgStatusFailure
	assert.False(t, pkt.Verify(priv.PubKey()))
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	priv := newKey(t)
	pkt := Packet{Msg: &DkgBegin{DkgID: 1}}
	assert.False(t, pkt.Verify(priv.PubKey()))

	pkt.Sig = []byte{0x30, 0x01}
	assert.False(t, pkt.Verify(priv.PubKey()))
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "garbage", data: []byte{0xff, 0x00, 0x13}},
		{name: "truncated", data: func() []byte {
			raw, _ := Packet{Msg: &DkgBegin{DkgID: 9}, Sig: []byte{1}}.Encode()
			return raw[:len(raw)-2]
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	raw, err := Marshal(envelope{Kind: Kind(42), Body: []byte{0xa0}})
	require.NoError(t, err)

	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKeySourcePerKind(t *testing.T) {
	tests := []struct {
		msg  Message
		want KeySource
	}{
		{&DkgBegin{}, FromCoordinator},
		{&DkgPrivateBegin{}, FromCoordinator},
		{&NonceRequest{}, FromCoordinator},
		{&SignatureShareRequest{}, FromCoordinator},
		{&DkgEnd{SignerID: 1}, FromSigner(1)},
		{&DkgPublicShares{SignerID: 2}, FromSigner(2)},
		{&DkgPrivateShares{SignerID: 3}, FromSigner(3)},
		{&NonceResponse{SignerID: 4}, FromSigner(4)},
		{&SignatureShareResponse{SignerID: 5}, FromSigner(5)},
	}
	for _, tt := range tests {
		t.Run(tt.msg.Kind().String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.KeySource())
		})
	}
}

func TestHashIsDomainSeparatedByKind(t *testing.T) {
	a, err := Hash(&DkgBegin{DkgID: 1})
	require.NoError(t, err)
	b, err := Hash(&DkgPrivateBegin{DkgID: 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
