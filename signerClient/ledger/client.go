package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	signererrors "github.com/pushchain/push-signer-node/signerClient/errors"
	"github.com/pushchain/push-signer-node/signerClient/rpcpool"
)

const defaultCallTimeout = 10 * time.Second

// RPCClient is a ledger client over one or more JSON-RPC endpoints. Calls are
// spread over the endpoint pool, which sidelines endpoints that keep failing,
// and transient failures are retried.
type RPCClient struct {
	pool     *rpcpool.Manager
	signerID uint32
	key      *secp256k1.PrivateKey
	timeout  time.Duration
	retry    *signererrors.RetryConfig
	logger   zerolog.Logger
}

// Options tunes RPCClient calls.
type Options struct {
	Timeout time.Duration
	Retry   *signererrors.RetryConfig

	// HealthCheckInterval between background probes of every endpoint. Zero disables them.
	HealthCheckInterval time.Duration
	Strategy            rpcpool.LoadBalancingStrategy
}

var _ Client = (*RPCClient)(nil)

// Dial connects to the given endpoints. Endpoints that fail to dial are
// skipped; at least one must succeed.
func Dial(ctx context.Context, urls []string, signerID uint32, key *secp256k1.PrivateKey, opts Options, logger zerolog.Logger) (*RPCClient, error) {
	if len(urls) == 0 {
		return nil, signererrors.NewConfigError("ledger: at least one RPC URL is required")
	}
	c := newRPCClient(signerID, key, opts, logger)
	for i, u := range urls {
		conn, err := rpc.DialContext(ctx, u)
		if err != nil {
			logger.Warn().Str("url", u).Int("index", i).Err(err).Msg("ledger dial failed; skipping endpoint")
			continue
		}
		c.pool.Add(u, conn)
	}
	if c.pool.Len() == 0 {
		return nil, signererrors.NewNetworkError(fmt.Sprintf("ledger: all dials failed (%d urls)", len(urls)), nil)
	}
	if err := c.pool.Start(ctx, healthChecker{}); err != nil {
		c.Close()
		return nil, signererrors.NewNetworkError("ledger: endpoint pool failed to start", err)
	}
	return c, nil
}

// NewRPCClient wraps already connected RPC clients.
func NewRPCClient(conns []*rpc.Client, signerID uint32, key *secp256k1.PrivateKey, opts Options, logger zerolog.Logger) *RPCClient {
	c := newRPCClient(signerID, key, opts, logger)
	for i, conn := range conns {
		c.pool.Add(fmt.Sprintf("conn-%d", i), conn)
	}
	return c
}

func newRPCClient(signerID uint32, key *secp256k1.PrivateKey, opts Options, logger zerolog.Logger) *RPCClient {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCallTimeout
	}
	if opts.Retry == nil {
		opts.Retry = signererrors.DefaultRetryConfig()
	}
	return &RPCClient{
		pool: rpcpool.NewManager(Namespace, rpcpool.Config{
			Strategy:            opts.Strategy,
			HealthCheckInterval: opts.HealthCheckInterval,
			RequestTimeout:      opts.Timeout,
		}, logger),
		signerID: signerID,
		key:      key,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		logger:   logger.With().Str("component", "ledger_client").Logger(),
	}
}

// Close stops health checks and closes all owned connections.
func (c *RPCClient) Close() {
	c.pool.Stop()
}

// Endpoints reports the health of every ledger endpoint.
func (c *RPCClient) Endpoints() []rpcpool.EndpointInfo {
	return c.pool.Stats()
}

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	attempt := 0
	return signererrors.RetryWithConfig(ctx, func() error {
		attempt++
		ep, err := c.pool.SelectEndpoint()
		if err != nil {
			return signererrors.NewNetworkError("ledger: "+method, err)
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		err = ep.Client().(*rpc.Client).CallContext(callCtx, result, method, args...)

		// The ledger answered; the request itself was refused.
		var rpcErr rpc.Error
		answered := err == nil || stderrors.As(err, &rpcErr)
		c.pool.UpdateEndpointMetrics(ep, answered, time.Since(start), err)
		if err == nil {
			return nil
		}
		c.logger.Debug().Str("method", method).Str("url", ep.URL).Int("attempt", attempt).Err(err).Msg("ledger call failed")

		if answered {
			return signererrors.NewLedgerError(method+" rejected", err)
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			return signererrors.NewTimeoutError(method + " timed out")
		}
		return signererrors.NewRPCError(method+" failed", err)
	}, c.retry)
}

// healthChecker probes a ledger endpoint with a read-only call.
type healthChecker struct{}

func (healthChecker) CheckHealth(ctx context.Context, client rpcpool.Client) error {
	var key hexutil.Bytes
	return client.(*rpc.Client).CallContext(ctx, &key, Namespace+"_getAggregatePublicKey")
}

func (c *RPCClient) GetAggregatePublicKey(ctx context.Context) ([]byte, error) {
	var key hexutil.Bytes
	if err := c.call(ctx, &key, Namespace+"_getAggregatePublicKey"); err != nil {
		return nil, err
	}
	return nonEmpty(key), nil
}

func (c *RPCClient) GetAggregatePublicKeyVote(ctx context.Context) ([]byte, error) {
	var key hexutil.Bytes
	if err := c.call(ctx, &key, Namespace+"_getAggregatePublicKeyVote", c.signerID); err != nil {
		return nil, err
	}
	return nonEmpty(key), nil
}

func (c *RPCClient) CastAggregatePublicKeyVote(ctx context.Context, key []byte) (string, error) {
	if len(key) == 0 {
		return "", signererrors.NewValidationError("cannot vote for an empty aggregate key")
	}
	sig := SignVote(c.key, c.signerID, key)
	var txID string
	err := c.call(ctx, &txID, Namespace+"_castAggregatePublicKeyVote", c.signerID, hexutil.Bytes(key), hexutil.Bytes(sig))
	if err != nil {
		return "", err
	}
	c.logger.Info().Str("tx_id", txID).Str("key", hexutil.Encode(key)).Msg("cast aggregate public key vote")
	return txID, nil
}

func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
