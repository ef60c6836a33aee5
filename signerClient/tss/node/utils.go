package node

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/pushchain/push-signer-node/signerClient/tss"
)

// engineKeyIDs returns the key ids of signerID shifted to the zero-based
// numbering the participant engine expects.
func engineKeyIDs(keys *tss.PublicKeys, signerID uint32) ([]uint32, error) {
	owned, ok := keys.SignerKeyIDs[signerID]
	if !ok || len(owned) == 0 {
		return nil, fmt.Errorf("signer %d owns no key ids", signerID)
	}
	ids := make([]uint32, 0, len(owned))
	for _, keyID := range owned {
		ids = append(ids, keyID-1)
	}
	return ids, nil
}

// ParseMessageKey decodes a hex encoded secp256k1 private key.
func ParseMessageKey(hexKey string) (*secp256k1.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("hex decode failed: %w", err)
	}
	if len(raw) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("wrong key length: got %d bytes, expected %d", len(raw), secp256k1.PrivKeyBytesLen)
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("key is not a valid secp256k1 scalar")
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}

// convertPrivateKeyHexToBase64 converts a hex-encoded Ed25519 seed to base64-encoded libp2p format.
func convertPrivateKeyHexToBase64(hexKey string) (string, error) {
	hexKey = strings.TrimSpace(hexKey)
	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("hex decode failed: %w", err)
	}
	if len(keyBytes) != ed25519.SeedSize {
		return "", fmt.Errorf("wrong key length: got %d bytes, expected %d", len(keyBytes), ed25519.SeedSize)
	}

	privKey := ed25519.NewKeyFromSeed(keyBytes)
	libp2pPrivKey, err := crypto.UnmarshalEd25519PrivateKey(privKey)
	if err != nil {
		return "", fmt.Errorf("failed to unmarshal Ed25519 key: %w", err)
	}

	marshaled, err := crypto.MarshalPrivateKey(libp2pPrivKey)
	if err != nil {
		return "", fmt.Errorf("marshal failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(marshaled), nil
}

// PeerIDFromHex returns the libp2p peer id derived from a hex Ed25519 seed.
func PeerIDFromHex(hexKey string) (string, error) {
	b64, err := convertPrivateKeyHexToBase64(hexKey)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
