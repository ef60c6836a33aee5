// Package engine declares the protocol engines the run loop drives.
//
// Every node owns one ParticipantEngine, which performs the node's share of
// DKG and signing, and one CoordinatorEngine, which is only fed messages while
// the node is the elected coordinator.
package engine

import (
	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

// ParticipantEngine runs this node's share of every round.
type ParticipantEngine interface {
	// SignerID returns the participant id the engine signs its packets as.
	SignerID() uint32
	// ProcessInboundMessages consumes an authenticated batch and returns the
	// packets to broadcast in reply.
	ProcessInboundMessages(msgs []wire.Packet) ([]wire.Packet, error)
}

// CoordinatorEngine drives round progression and aggregates results.
type CoordinatorEngine interface {
	// StartDkg begins a DKG round and returns the packet announcing it.
	StartDkg() (wire.Packet, error)
	// StartSigning begins a signing round over message.
	StartSigning(message []byte, isTaproot bool, merkleRoot *[32]byte) (wire.Packet, error)
	// ProcessInboundMessages consumes an authenticated batch and returns the
	// packets to broadcast and any finished round results.
	ProcessInboundMessages(msgs []wire.Packet) ([]wire.Packet, []OperationResult, error)
	// AggregatePublicKey returns the group key, or nil when none is known.
	AggregatePublicKey() []byte
	// SetAggregatePublicKey installs a group key learned elsewhere. nil clears it.
	SetAggregatePublicKey(key []byte)
	// Reset abandons any half-started round.
	Reset()
}

// Signature is an aggregated Schnorr signature.
type Signature struct {
	R []byte `json:"r"`
	Z []byte `json:"z"`
}

// OperationResult reports a finished round. A failed round carries Err.
type OperationResult struct {
	Kind      tss.ProtocolType `json:"kind"`
	DkgID     uint64           `json:"dkg_id"`
	SignID    uint64           `json:"sign_id,omitempty"`
	GroupKey  []byte           `json:"group_key,omitempty"`
	Signature *Signature       `json:"signature,omitempty"`
	Err       string           `json:"error,omitempty"`
}

// Failed reports whether the round ended without a usable result.
func (r OperationResult) Failed() bool {
	return r.Err != ""
}
