// Package node wires a signer node together: key registry, message board,
// ledger client, stores, protocol engines and the run loop, plus the polling
// loop that drives it.
package node

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/db"
	signererrors "github.com/pushchain/push-signer-node/signerClient/errors"
	"github.com/pushchain/push-signer-node/signerClient/ledger"
	"github.com/pushchain/push-signer-node/signerClient/rpcpool"
	"github.com/pushchain/push-signer-node/signerClient/metrics"
	"github.com/pushchain/push-signer-node/signerClient/store"
	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	libp2pboard "github.com/pushchain/push-signer-node/signerClient/tss/board/libp2p"
	"github.com/pushchain/push-signer-node/signerClient/tss/coordinator"
	"github.com/pushchain/push-signer-node/signerClient/tss/engine"
	"github.com/pushchain/push-signer-node/signerClient/tss/eventstore"
	"github.com/pushchain/push-signer-node/signerClient/tss/frost"
	"github.com/pushchain/push-signer-node/signerClient/tss/keyshare"
	"github.com/pushchain/push-signer-node/signerClient/tss/runloop"
	"github.com/pushchain/push-signer-node/signerClient/tss/vote"
)

// ErrStartup is returned, wrapped, when the node cannot be built.
var ErrStartup = runloop.ErrStartup

// Node is a running signer.
type Node struct {
	signerID uint32
	keys     *tss.PublicKeys
	loop     *runloop.RunLoop
	runner   *Runner
	sink     *ResultSink
	events   *eventstore.Store
	cleaner  *db.RoundCleaner
	ledger   ledger.Client

	closers   []func() error
	closeOnce sync.Once
	logger    zerolog.Logger
}

// New builds a node and restores rounds left pending by a previous run.
// The node does no work until Run is called.
func New(ctx context.Context, cfg Config, deps Deps) (n *Node, err error) {
	logger := cfg.Logger.With().
		Str("component", "signer_node").
		Uint32("signer_id", cfg.SignerID).
		Logger()

	keys, err := tss.ParsePublicKeys(cfg.Signers, cfg.SignerKeyIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signer registry: %w", ErrStartup, err)
	}
	if _, ok := keys.Signer(cfg.SignerID); !ok {
		return nil, fmt.Errorf("%w: signer %d is not in the registry", ErrStartup, cfg.SignerID)
	}
	messageKey, err := ParseMessageKey(cfg.MessageKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid message key: %w", ErrStartup, err)
	}
	keyIDs, err := engineKeyIDs(keys, cfg.SignerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	n = &Node{signerID: cfg.SignerID, keys: keys, logger: logger}
	defer func() {
		if err != nil {
			if cerr := n.closeAll(); cerr != nil {
				logger.Warn().Err(cerr).Msg("failed to release resources after startup error")
			}
		}
	}()

	home := cfg.HomeDir
	if home == "" {
		tmp, err := os.MkdirTemp("", fmt.Sprintf("psigner-%d-", cfg.SignerID))
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		home = tmp
		logger.Info().Str("home", home).Msg("using temporary directory")
	}

	shares, err := keyshare.NewManager(home, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyshare manager: %w", err)
	}

	database := deps.Database
	if database == nil {
		file := cfg.DatabaseFile
		if file == "" {
			file = defaultDatabaseFile
		}
		database, err = db.OpenFileDB(home, file, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		n.closers = append(n.closers, database.Close)
	}

	ledgerClient := deps.Ledger
	if ledgerClient == nil {
		retry := signererrors.DefaultRetryConfig()
		if cfg.LedgerRetries > 0 {
			retry.MaxAttempts = cfg.LedgerRetries
		}
		rpcClient, err := ledger.Dial(ctx, cfg.LedgerURLs, cfg.SignerID, messageKey,
			ledger.Options{Timeout: cfg.LedgerTimeout, Retry: retry, HealthCheckInterval: cfg.LedgerHealthCheck}, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: ledger unavailable: %w", ErrStartup, err)
		}
		n.closers = append(n.closers, func() error { rpcClient.Close(); return nil })
		ledgerClient = rpcClient
	}

	brd := deps.Board
	if brd == nil {
		brd, err = newLibp2pBoard(cfg.P2P, logger)
		if err != nil {
			return nil, err
		}
	}
	n.closers = append(n.closers, brd.Close)

	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}

	threshold := coordinator.CalculateThreshold(keys.TotalKeys(), cfg.ThresholdPercent)
	logger.Info().
		Int("threshold", threshold).
		Int("total_keys", keys.TotalKeys()).
		Uints32("key_ids", keys.SignerKeyIDs[cfg.SignerID]).
		Msg("initializing protocol engines")

	signer, err := frost.NewSigner(frost.SignerConfig{
		SignerID:   cfg.SignerID,
		KeyIDs:     keyIDs,
		Threshold:  threshold,
		Keys:       keys,
		MessageKey: messageKey,
		Shares:     shares,
		Rand:       deps.Rand,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create participant engine: %w", ErrStartup, err)
	}
	coord, err := frost.NewCoordinator(frost.CoordinatorConfig{
		Threshold:  threshold,
		Keys:       keys,
		MessageKey: messageKey,
		Rand:       deps.Rand,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create coordinator engine: %w", ErrStartup, err)
	}

	n.events = eventstore.NewStore(database.Client(), logger)
	n.ledger = ledgerClient
	votes := vote.NewHandler(ledgerClient, vote.NewStore(database.Client()), cfg.VoteRecastAfter, logger)

	n.loop, err = runloop.New(ctx, runloop.Config{
		Keys:             keys,
		Signer:           signer,
		Coordinator:      coord,
		Board:            brd,
		Ledger:           ledgerClient,
		Votes:            votes,
		Recorder:         newRoundRecorder(n.events, logger),
		Metrics:          rec,
		EventTimeout:     cfg.EventTimeout,
		MaxStartAttempts: cfg.MaxStartAttempts,
		StartRetryBase:   cfg.StartRetryBase,
		StartRetryMax:    cfg.StartRetryMax,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	if err := restorePending(n.events, n.loop, logger); err != nil {
		logger.Warn().Err(err).Msg("failed to restore pending rounds")
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	retention := cfg.RoundRetention
	if retention <= 0 {
		retention = DefaultRoundRetention
	}
	cleanerDB := database
	if deps.Database != nil {
		cleanerDB = nil
	}
	n.cleaner = db.NewRoundCleaner(cleanerDB, n.events, interval, retention, logger)

	n.sink = NewResultSink(logger)
	n.runner = NewRunner(n.loop, brd, n.sink, cfg.CommandBuffer, logger)

	logger.Info().
		Bool("is_coordinator", coordinator.IsCoordinator(keys, cfg.SignerID)).
		Msg("signer node initialized")
	return n, nil
}

func newLibp2pBoard(cfg P2PConfig, logger zerolog.Logger) (board.Board, error) {
	boardCfg := libp2pboard.Config{
		ProtocolID:  cfg.ProtocolID,
		DialTimeout: cfg.DialTimeout,
		IOTimeout:   cfg.IOTimeout,
		Peers:       cfg.Peers,
	}
	if cfg.ListenAddr != "" {
		boardCfg.ListenAddrs = []string{cfg.ListenAddr}
	}
	if cfg.PrivateKeyHex != "" {
		b64, err := convertPrivateKeyHexToBase64(cfg.PrivateKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid p2p private key: %w", err)
		}
		boardCfg.PrivateKeyBase64 = b64
	}
	brd, err := libp2pboard.New(boardCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start libp2p board: %w", err)
	}
	logger.Info().
		Str("peer_id", brd.ID()).
		Strs("addrs", brd.ListenAddrs()).
		Int("peers", len(cfg.Peers)).
		Msg("libp2p board started")
	return brd, nil
}

// Run drives the node until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	n.cleaner.Start(ctx)
	n.logger.Info().Msg("signer node running")
	err := n.runner.Run(ctx)
	n.logger.Info().Err(err).Msg("signer node stopped")
	return err
}

// Submit queues an operator command for the next pass.
func (n *Node) Submit(cmd runloop.Command) error {
	return n.runner.Submit(cmd)
}

// Status returns the run loop snapshot of the last pass.
func (n *Node) Status() runloop.Status {
	return n.loop.Status()
}

// SetEventTimeout changes how long each pass waits for board writes.
func (n *Node) SetEventTimeout(d time.Duration) {
	n.loop.SetEventTimeout(d)
}

// Rounds lists the round history, newest first.
func (n *Node) Rounds(status string, limit int) ([]store.Round, error) {
	return n.events.ListRounds(status, limit)
}

// LedgerEndpoints reports the health of every ledger endpoint. It is empty
// when the ledger client is not backed by an endpoint pool.
func (n *Node) LedgerEndpoints() []rpcpool.EndpointInfo {
	if pooled, ok := n.ledger.(interface{ Endpoints() []rpcpool.EndpointInfo }); ok {
		return pooled.Endpoints()
	}
	return []rpcpool.EndpointInfo{}
}

// Subscribe receives every batch of round results until cancel is called.
func (n *Node) Subscribe(buffer int) (<-chan []engine.OperationResult, func()) {
	return n.sink.Subscribe(buffer)
}

// Close stops the cleaner and releases the board, ledger and database.
func (n *Node) Close() error {
	return n.closeAll()
}

func (n *Node) closeAll() error {
	var result *multierror.Error
	n.closeOnce.Do(func() {
		if n.cleaner != nil {
			n.cleaner.Stop()
		}
		for i := len(n.closers) - 1; i >= 0; i-- {
			if err := n.closers[i](); err != nil {
				result = multierror.Append(result, err)
			}
		}
	})
	return result.ErrorOrNil()
}
