package tss

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ProtocolType enumerates the round flows a signer takes part in.
type ProtocolType string

const (
	ProtocolDkg         ProtocolType = "dkg"
	ProtocolSign        ProtocolType = "sign"
	ProtocolSignTaproot ProtocolType = "sign_taproot"
)

// PublicKeys is the participant registry shared by coordinator election and
// message authentication. It is loaded once from configuration and never mutated.
type PublicKeys struct {
	// Signers maps a signer id to the key its packets are signed with.
	Signers map[uint32]*secp256k1.PublicKey
	// KeyIDs maps a one-based key id to the key of the signer owning it.
	KeyIDs map[uint32]*secp256k1.PublicKey
	// SignerKeyIDs maps a signer id to the one-based key ids it owns.
	SignerKeyIDs map[uint32][]uint32
}

// Signer returns the registered key for a signer id.
func (pk *PublicKeys) Signer(id uint32) (*secp256k1.PublicKey, bool) {
	if pk == nil {
		return nil, false
	}
	key, ok := pk.Signers[id]
	return key, ok
}

// SignerIDs returns the registered signer ids in ascending order.
func (pk *PublicKeys) SignerIDs() []uint32 {
	ids := make([]uint32, 0, len(pk.Signers))
	for id := range pk.Signers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TotalKeys returns the number of key ids across all signers.
func (pk *PublicKeys) TotalKeys() int {
	return len(pk.KeyIDs)
}

// ParsePublicKeys builds the registry from hex encoded compressed keys and the
// one-based key id assignment of each signer.
func ParsePublicKeys(signers map[uint32]string, signerKeyIDs map[uint32][]uint32) (*PublicKeys, error) {
	pk := &PublicKeys{
		Signers:      make(map[uint32]*secp256k1.PublicKey, len(signers)),
		KeyIDs:       make(map[uint32]*secp256k1.PublicKey),
		SignerKeyIDs: make(map[uint32][]uint32, len(signerKeyIDs)),
	}
	for id, hexKey := range signers {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer %d: invalid hex public key: %w", id, err)
		}
		key, err := secp256k1.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("signer %d: invalid public key: %w", id, err)
		}
		pk.Signers[id] = key
	}
	for id, keyIDs := range signerKeyIDs {
		key, ok := pk.Signers[id]
		if !ok {
			return nil, fmt.Errorf("key ids assigned to unknown signer %d", id)
		}
		owned := make([]uint32, 0, len(keyIDs))
		for _, keyID := range keyIDs {
			if keyID == 0 {
				return nil, fmt.Errorf("signer %d: key ids are one-based, got 0", id)
			}
			if _, dup := pk.KeyIDs[keyID]; dup {
				return nil, fmt.Errorf("key id %d assigned twice", keyID)
			}
			pk.KeyIDs[keyID] = key
			owned = append(owned, keyID)
		}
		sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })
		pk.SignerKeyIDs[id] = owned
	}
	return pk, nil
}
