package api

import (
	"encoding/json"
	"time"

	"github.com/pushchain/push-signer-node/signerClient/rpcpool"
)

// Message encodings accepted by SignRequest.
const (
	EncodingUTF8 = "utf8"
	EncodingHex  = "hex"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// SignRequest is the body of POST /api/v1/commands/sign.
type SignRequest struct {
	Message    string `json:"message"`
	Encoding   string `json:"encoding,omitempty"` // "utf8" (default) or "hex"
	IsTaproot  bool   `json:"is_taproot"`
	MerkleRoot string `json:"merkle_root,omitempty"` // hex, 32 bytes, taproot only
}

// CommandResponse acknowledges a queued command.
type CommandResponse struct {
	Kind     string `json:"kind"`
	Accepted bool   `json:"accepted"`
}

// RoundView is one entry of GET /api/v1/rounds.
type RoundView struct {
	RoundID   string          `json:"round_id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RoundsResponse is the body of GET /api/v1/rounds.
type RoundsResponse struct {
	Rounds []RoundView `json:"rounds"`
}

// LedgerEndpointsResponse is the body of GET /api/v1/ledger/endpoints.
type LedgerEndpointsResponse struct {
	Endpoints []rpcpool.EndpointInfo `json:"endpoints"`
}
