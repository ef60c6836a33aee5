package api

import (
	"github.com/pushchain/push-signer-node/signerClient/rpcpool"
	"github.com/pushchain/push-signer-node/signerClient/store"
	"github.com/pushchain/push-signer-node/signerClient/tss/runloop"
)

// SignerNode defines the methods needed by the API server
type SignerNode interface {
	Status() runloop.Status
	Submit(cmd runloop.Command) error
	Rounds(status string, limit int) ([]store.Round, error)
	LedgerEndpoints() []rpcpool.EndpointInfo
}
