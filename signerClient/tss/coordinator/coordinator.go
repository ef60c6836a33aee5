// Package coordinator elects the participant that drives each round.
package coordinator

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"

	"github.com/pushchain/push-signer-node/signerClient/tss"
)

// DefaultCoordinatorID is the signer id elected for every round.
const DefaultCoordinatorID uint32 = 0

// ErrNoCoordinatorKey is returned when the registry has no key for the elected id.
var ErrNoCoordinatorKey = errors.New("no public key registered for the elected coordinator")

// Calculate returns the coordinator id and its verification key for the given
// registry. Every honest signer computes the same answer from the same registry.
//
// The election always picks signer 0. There is no rotation: if signer 0 is
// offline no round can start.
func Calculate(keys *tss.PublicKeys) (uint32, *secp256k1.PublicKey, error) {
	key, ok := keys.Signer(DefaultCoordinatorID)
	if !ok {
		return 0, nil, errors.Wrapf(ErrNoCoordinatorKey, "signer %d", DefaultCoordinatorID)
	}
	return DefaultCoordinatorID, key, nil
}

// IsCoordinator reports whether signerID is the elected coordinator.
func IsCoordinator(keys *tss.PublicKeys, signerID uint32) bool {
	id, _, err := Calculate(keys)
	return err == nil && id == signerID
}
