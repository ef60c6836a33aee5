package coordinator

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-signer-node/signerClient/tss"
)

func newRegistry(t *testing.T, ids ...uint32) *tss.PublicKeys {
	t.Helper()
	signers := make(map[uint32]string, len(ids))
	keyIDs := make(map[uint32][]uint32, len(ids))
	for i, id := range ids {
		priv, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		signers[id] = hex.EncodeToString(priv.PubKey().SerializeCompressed())
		keyIDs[id] = []uint32{uint32(i + 1)}
	}
	keys, err := tss.ParsePublicKeys(signers, keyIDs)
	require.NoError(t, err)
	return keys
}

func TestCalculate(t *testing.T) {
	t.Run("elects signer zero", func(t *testing.T) {
		keys := newRegistry(t, 0, 1, 2)

		id, key, err := Calculate(keys)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), id)
		assert.True(t, key.IsEqual(keys.Signers[0]))
	})

	t.Run("same registry gives same answer", func(t *testing.T) {
		keys := newRegistry(t, 0, 1, 2)

		id1, key1, err := Calculate(keys)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			id2, key2, err := Calculate(keys)
			require.NoError(t, err)
			assert.Equal(t, id1, id2)
			assert.True(t, key1.IsEqual(key2))
		}
	})

	t.Run("missing signer zero", func(t *testing.T) {
		keys := newRegistry(t, 1, 2)

		_, _, err := Calculate(keys)
		assert.ErrorIs(t, err, ErrNoCoordinatorKey)
	})

	t.Run("nil registry", func(t *testing.T) {
		_, _, err := Calculate(nil)
		assert.ErrorIs(t, err, ErrNoCoordinatorKey)
	})
}

func TestIsCoordinator(t *testing.T) {
	keys := newRegistry(t, 0, 1, 2)
	assert.True(t, IsCoordinator(keys, 0))
	assert.False(t, IsCoordinator(keys, 1))
	assert.False(t, IsCoordinator(newRegistry(t, 1, 2), 1))
}

func TestCalculateThreshold(t *testing.T) {
	tests := []struct {
		name      string
		totalKeys int
		percent   int
		want      int
	}{
		{"ten keys at seventy percent", 10, 70, 7},
		{"four keys rounds down", 4, 70, 2},
		{"floor of two", 2, 50, 2},
		{"out of range percent uses default", 10, 0, 7},
		{"capped at total", 3, 100, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateThreshold(tt.totalKeys, tt.percent))
		})
	}
}
