// Package wire defines the protocol messages exchanged over the message board
// and their binary encoding.
package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Kind tags each protocol message on the wire.
type Kind uint8

const (
	KindDkgBegin Kind = iota + 1
	KindDkgPrivateBegin
	KindDkgEnd
	KindDkgPublicShares
	KindDkgPrivateShares
	KindNonceRequest
	KindNonceResponse
	KindSignatureShareRequest
	KindSignatureShareResponse
)

func (k Kind) String() string {
	switch k {
	case KindDkgBegin:
		return "DkgBegin"
	case KindDkgPrivateBegin:
		return "DkgPrivateBegin"
	case KindDkgEnd:
		return "DkgEnd"
	case KindDkgPublicShares:
		return "DkgPublicShares"
	case KindDkgPrivateShares:
		return "DkgPrivateShares"
	case KindNonceRequest:
		return "NonceRequest"
	case KindNonceResponse:
		return "NonceResponse"
	case KindSignatureShareRequest:
		return "SignatureShareRequest"
	case KindSignatureShareResponse:
		return "SignatureShareResponse"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// KeySource says which registered key a message must be signed with.
// Coordinator-issued kinds verify against the elected coordinator's key,
// participant-issued kinds against the key of the sender id they carry.
type KeySource struct {
	Coordinator bool
	SignerID    uint32
}

// FromCoordinator is the key source of coordinator-issued kinds.
var FromCoordinator = KeySource{Coordinator: true}

// FromSigner is the key source of a participant-issued kind.
func FromSigner(id uint32) KeySource {
	return KeySource{SignerID: id}
}

// Message is the closed set of protocol messages.
type Message interface {
	Kind() Kind
	KeySource() KeySource
	isMessage()
}

// DkgStatus is reported by each signer at the end of a DKG round.
type DkgStatus uint8

const (
	DkgStatusSuccess DkgStatus = iota
	DkgStatusFailure
)

// DkgBegin starts a DKG round.
type DkgBegin struct {
	DkgID uint64 `cbor:"1,keyasint"`
}

// DkgPrivateBegin tells signers to distribute private shares.
type DkgPrivateBegin struct {
	DkgID uint64 `cbor:"1,keyasint"`
}

// DkgEnd reports the outcome of a signer's DKG round.
type DkgEnd struct {
	DkgID    uint64    `cbor:"1,keyasint"`
	SignerID uint32    `cbor:"2,keyasint"`
	Status   DkgStatus `cbor:"3,keyasint"`
	Reason   string    `cbor:"4,keyasint,omitempty"`
}

// PolyCommitment holds the public polynomial commitments for one key id.
type PolyCommitment struct {
	KeyID  uint32   `cbor:"1,keyasint"`
	Points [][]byte `cbor:"2,keyasint"`
}

// DkgPublicShares carries a signer's polynomial commitments.
type DkgPublicShares struct {
	DkgID    uint64           `cbor:"1,keyasint"`
	SignerID uint32           `cbor:"2,keyasint"`
	Comms    []PolyCommitment `cbor:"3,keyasint"`
}

// DkgPrivateShares carries a signer's private shares, sealed per destination signer.
type DkgPrivateShares struct {
	DkgID    uint64            `cbor:"1,keyasint"`
	SignerID uint32            `cbor:"2,keyasint"`
	Shares   map[uint32][]byte `cbor:"3,keyasint"`
}

// NonceRequest asks signers for signing nonces.
type NonceRequest struct {
	DkgID      uint64 `cbor:"1,keyasint"`
	SignID     uint64 `cbor:"2,keyasint"`
	SignIterID uint64 `cbor:"3,keyasint"`
	Message    []byte `cbor:"4,keyasint"`
	IsTaproot  bool   `cbor:"5,keyasint"`
	MerkleRoot []byte `cbor:"6,keyasint,omitempty"`
}

// NonceCommitment is the public half of a nonce pair for one key id.
type NonceCommitment struct {
	KeyID   uint32 `cbor:"1,keyasint"`
	Hiding  []byte `cbor:"2,keyasint"`
	Binding []byte `cbor:"3,keyasint"`
}

// NonceResponse answers a NonceRequest.
type NonceResponse struct {
	DkgID      uint64            `cbor:"1,keyasint"`
	SignID     uint64            `cbor:"2,keyasint"`
	SignIterID uint64            `cbor:"3,keyasint"`
	SignerID   uint32            `cbor:"4,keyasint"`
	KeyIDs     []uint32          `cbor:"5,keyasint"`
	Nonces     []NonceCommitment `cbor:"6,keyasint"`
	Message    []byte            `cbor:"7,keyasint"`
}

// SignatureShareRequest asks the selected signers for signature shares.
type SignatureShareRequest struct {
	DkgID          uint64          `cbor:"1,keyasint"`
	SignID         uint64          `cbor:"2,keyasint"`
	SignIterID     uint64          `cbor:"3,keyasint"`
	NonceResponses []NonceResponse `cbor:"4,keyasint"`
	Message        []byte          `cbor:"5,keyasint"`
	IsTaproot      bool            `cbor:"6,keyasint"`
	MerkleRoot     []byte          `cbor:"7,keyasint,omitempty"`
}

// SignatureShare is one key id's share of the group signature.
type SignatureShare struct {
	KeyID uint32 `cbor:"1,keyasint"`
	Z     []byte `cbor:"2,keyasint"`
}

// SignatureShareResponse answers a SignatureShareRequest.
type SignatureShareResponse struct {
	DkgID      uint64           `cbor:"1,keyasint"`
	SignID     uint64           `cbor:"2,keyasint"`
	SignIterID uint64           `cbor:"3,keyasint"`
	SignerID   uint32           `cbor:"4,keyasint"`
	Shares     []SignatureShare `cbor:"5,keyasint"`
}

func (*DkgBegin) Kind() Kind               { return KindDkgBegin }
func (*DkgPrivateBegin) Kind() Kind        { return KindDkgPrivateBegin }
func (*DkgEnd) Kind() Kind                 { return KindDkgEnd }
func (*DkgPublicShares) Kind() Kind        { return KindDkgPublicShares }
func (*DkgPrivateShares) Kind() Kind       { return KindDkgPrivateShares }
func (*NonceRequest) Kind() Kind           { return KindNonceRequest }
func (*NonceResponse) Kind() Kind          { return KindNonceResponse }
func (*SignatureShareRequest) Kind() Kind  { return KindSignatureShareRequest }
func (*SignatureShareResponse) Kind() Kind { return KindSignatureShareResponse }

func (*DkgBegin) KeySource() KeySource                 { return FromCoordinator }
func (*DkgPrivateBegin) KeySource() KeySource          { return FromCoordinator }
func (m *DkgEnd) KeySource() KeySource                 { return FromSigner(m.SignerID) }
func (m *DkgPublicShares) KeySource() KeySource        { return FromSigner(m.SignerID) }
func (m *DkgPrivateShares) KeySource() KeySource       { return FromSigner(m.SignerID) }
func (*NonceRequest) KeySource() KeySource             { return FromCoordinator }
func (m *NonceResponse) KeySource() KeySource          { return FromSigner(m.SignerID) }
func (*SignatureShareRequest) KeySource() KeySource    { return FromCoordinator }
func (m *SignatureShareResponse) KeySource() KeySource { return FromSigner(m.SignerID) }

func (*DkgBegin) isMessage()               {}
func (*DkgPrivateBegin) isMessage()        {}
func (*DkgEnd) isMessage()                 {}
func (*DkgPublicShares) isMessage()        {}
func (*DkgPrivateShares) isMessage()       {}
func (*NonceRequest) isMessage()           {}
func (*NonceResponse) isMessage()          {}
func (*SignatureShareRequest) isMessage()  {}
func (*SignatureShareResponse) isMessage() {}

// newMessage returns an empty message of the given kind.
func newMessage(k Kind) (Message, error) {
	switch k {
	case KindDkgBegin:
		return &DkgBegin{}, nil
	case KindDkgPrivateBegin:
		return &DkgPrivateBegin{}, nil
	case KindDkgEnd:
		return &DkgEnd{}, nil
	case KindDkgPublicShares:
		return &DkgPublicShares{}, nil
	case KindDkgPrivateShares:
		return &DkgPrivateShares{}, nil
	case KindNonceRequest:
		return &NonceRequest{}, nil
	case KindNonceResponse:
		return &NonceResponse{}, nil
	case KindSignatureShareRequest:
		return &SignatureShareRequest{}, nil
	case KindSignatureShareResponse:
		return &SignatureShareResponse{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
}

// encMode encodes deterministically so every node hashes a message to the same digest.
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Hash returns the digest a message's signature is computed over.
func Hash(m Message) ([]byte, error) {
	body, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Kind(), err)
	}
	h := sha256.New()
	h.Write([]byte{byte(m.Kind())})
	h.Write(body)
	return h.Sum(nil), nil
}

// Marshal encodes a value with the deterministic cbor mode used on the wire.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a cbor value produced by Marshal.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
