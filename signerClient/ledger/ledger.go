// Package ledger talks to the external ledger that records the group's
// aggregate public key and the signers' votes for it.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Namespace is the JSON-RPC namespace the ledger methods live under.
const Namespace = "signer"

// Client is the node's view of the ledger. A nil or empty key means absent.
type Client interface {
	// GetAggregatePublicKey returns the ratified aggregate public key.
	GetAggregatePublicKey(ctx context.Context) ([]byte, error)
	// GetAggregatePublicKeyVote returns the key this node voted for.
	GetAggregatePublicKeyVote(ctx context.Context) ([]byte, error)
	// CastAggregatePublicKeyVote records this node's vote and returns the transaction id.
	CastAggregatePublicKeyVote(ctx context.Context, key []byte) (string, error)
}

func voteDigest(signerID uint32, key []byte) []byte {
	h := sha256.New()
	h.Write([]byte("psigner/vote"))
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], signerID)
	h.Write(id[:])
	h.Write(key)
	return h.Sum(nil)
}

// SignVote signs a vote for key with the signer's message key.
func SignVote(priv *secp256k1.PrivateKey, signerID uint32, key []byte) []byte {
	return ecdsa.Sign(priv, voteDigest(signerID, key)).Serialize()
}

// VerifyVote checks a vote signature produced by SignVote.
func VerifyVote(pub *secp256k1.PublicKey, signerID uint32, key, sig []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return parsed.Verify(voteDigest(signerID, key), pub)
}
