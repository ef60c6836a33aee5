// Package auth authenticates inbound protocol packets before any engine sees them.
package auth

import (
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownSigner    = errors.New("unknown signer id")
	ErrNoMessage        = errors.New("packet has no message")
)

// Reason labels a rejection for logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUnknownSigner):
		return "unknown_signer"
	case errors.Is(err, ErrNoMessage):
		return "no_message"
	default:
		return "other"
	}
}

// Verify checks a packet's signature against the key its kind selects:
// the coordinator's key for coordinator-issued kinds, the registered key of
// the claimed sender for participant-issued kinds.
func Verify(pkt wire.Packet, keys *tss.PublicKeys, coordinatorKey *secp256k1.PublicKey) error {
	if pkt.Msg == nil {
		return ErrNoMessage
	}
	src := pkt.Msg.KeySource()
	key := coordinatorKey
	if !src.Coordinator {
		var ok bool
		if key, ok = keys.Signer(src.SignerID); !ok {
			return ErrUnknownSigner
		}
	}
	if !pkt.Verify(key) {
		return ErrInvalidSignature
	}
	return nil
}

// Authenticator filters batches of packets down to the authenticated ones.
type Authenticator struct {
	keys     *tss.PublicKeys
	log      zerolog.Logger
	onReject func(reason string)
}

// NewAuthenticator creates an authenticator over the participant registry.
// onReject may be nil.
func NewAuthenticator(keys *tss.PublicKeys, log zerolog.Logger, onReject func(reason string)) *Authenticator {
	if onReject == nil {
		onReject = func(string) {}
	}
	return &Authenticator{
		keys:     keys,
		log:      log.With().Str("component", "authenticator").Logger(),
		onReject: onReject,
	}
}

// VerifyPacket reports whether pkt is authentic. Rejections are logged as warnings.
func (a *Authenticator) VerifyPacket(pkt wire.Packet, coordinatorKey *secp256k1.PublicKey) bool {
	err := Verify(pkt, a.keys, coordinatorKey)
	if err == nil {
		return true
	}
	ev := a.log.Warn().Err(err)
	if pkt.Msg != nil {
		src := pkt.Msg.KeySource()
		ev = ev.Str("kind", pkt.Msg.Kind().String())
		if !src.Coordinator {
			ev = ev.Uint32("signer_id", src.SignerID)
		}
	}
	ev.Msg("dropping unauthenticated message")
	a.onReject(Reason(err))
	return false
}

// Filter returns the packets of batch that pass VerifyPacket, in order.
func (a *Authenticator) Filter(batch []wire.Packet, coordinatorKey *secp256k1.PublicKey) []wire.Packet {
	out := make([]wire.Packet, 0, len(batch))
	for _, pkt := range batch {
		if a.VerifyPacket(pkt, coordinatorKey) {
			out = append(out, pkt)
		}
	}
	return out
}
