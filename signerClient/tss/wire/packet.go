package wire

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrEmptyPacket = errors.New("empty packet")
)

// Packet is a protocol message together with the sender's signature over it.
type Packet struct {
	Msg Message
	Sig []byte
}

type envelope struct {
	Kind Kind            `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
	Sig  []byte          `cbor:"3,keyasint"`
}

// Encode serialises the packet for the board.
func (p Packet) Encode() ([]byte, error) {
	if p.Msg == nil {
		return nil, ErrEmptyPacket
	}
	body, err := encMode.Marshal(p.Msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p.Msg.Kind(), err)
	}
	return encMode.Marshal(envelope{Kind: p.Msg.Kind(), Body: body, Sig: p.Sig})
}

// Decode parses a packet written by Encode.
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return Packet{}, ErrEmptyPacket
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Packet{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	msg, err := newMessage(env.Kind)
	if err != nil {
		return Packet{}, err
	}
	if err := cbor.Unmarshal(env.Body, msg); err != nil {
		return Packet{}, fmt.Errorf("failed to decode %s: %w", env.Kind, err)
	}
	return Packet{Msg: msg, Sig: env.Sig}, nil
}

// SignPacket signs msg with the node's message key.
func SignPacket(msg Message, priv *secp256k1.PrivateKey) (Packet, error) {
	digest, err := Hash(msg)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Msg: msg, Sig: ecdsa.Sign(priv, digest).Serialize()}, nil
}

// Verify reports whether the packet carries a valid signature by pub.
func (p Packet) Verify(pub *secp256k1.PublicKey) bool {
	if p.Msg == nil || pub == nil || len(p.Sig) == 0 {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(p.Sig)
	if err != nil {
		return false
	}
	digest, err := Hash(p.Msg)
	if err != nil {
		return false
	}
	return sig.Verify(digest, pub)
}
