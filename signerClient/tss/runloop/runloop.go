// Package runloop is the signer node's orchestration core. Each pass takes an
// optional batch of board writes and an optional operator command, feeds
// authenticated messages to the participant and coordinator engines, and
// starts queued rounds one at a time.
package runloop

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/pushchain/push-signer-node/signerClient/metrics"
	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/auth"
	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	"github.com/pushchain/push-signer-node/signerClient/tss/coordinator"
	"github.com/pushchain/push-signer-node/signerClient/tss/engine"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

// ErrStartup marks errors that prevent the run loop from being built.
var ErrStartup = errors.New("run loop startup failed")

var errStartFailed = errors.New("round start failed")

const (
	DefaultEventTimeout   = 5 * time.Second
	DefaultStartRetryBase = 50 * time.Millisecond
	DefaultStartRetryMax  = 2 * time.Second
)

// Sender writes outbound packets to the board.
type Sender interface {
	SendMessage(ctx context.Context, signerID uint32, pkt wire.Packet) (board.Ack, error)
}

// KeyFetcher reads the ratified aggregate public key.
type KeyFetcher interface {
	GetAggregatePublicKey(ctx context.Context) ([]byte, error)
}

// VoteEnsurer makes sure this node's vote for key is on the ledger.
type VoteEnsurer interface {
	Ensure(ctx context.Context, key []byte) error
}

// Recorder keeps the round history. Calls are best effort.
type Recorder interface {
	RoundQueued(id string, cmd Command)
	RoundAttempted(id string, attempts int)
	RoundStarted(id string, attempts int)
	RoundCompleted(id string, results []engine.OperationResult)
}

// Config wires the run loop to its collaborators.
type Config struct {
	Keys        *tss.PublicKeys
	Signer      engine.ParticipantEngine
	Coordinator engine.CoordinatorEngine
	Board       Sender
	Ledger      KeyFetcher
	Votes       VoteEnsurer
	Recorder    Recorder
	Metrics     metrics.Recorder

	EventTimeout time.Duration
	// MaxStartAttempts bounds start attempts per pass; zero retries until the round starts.
	MaxStartAttempts int
	StartRetryBase   time.Duration
	StartRetryMax    time.Duration

	Logger zerolog.Logger
}

// StuckCommand describes a command that keeps failing to start.
type StuckCommand struct {
	RoundID   string           `json:"round_id"`
	Kind      tss.ProtocolType `json:"kind"`
	Attempts  int              `json:"attempts"`
	Since     time.Time        `json:"since"`
	LastError string           `json:"last_error,omitempty"`
}

// Status is a snapshot of the run loop taken at the end of a pass.
type Status struct {
	SignerID           uint32        `json:"signer_id"`
	CoordinatorID      uint32        `json:"coordinator_id"`
	IsCoordinator      bool          `json:"is_coordinator"`
	State              string        `json:"state"`
	PendingCommands    int           `json:"pending_commands"`
	CurrentRound       string        `json:"current_round,omitempty"`
	AggregatePublicKey string        `json:"aggregate_public_key,omitempty"`
	Stuck              *StuckCommand `json:"stuck,omitempty"`
	EventTimeout       time.Duration `json:"event_timeout"`
}

// RunLoop drives rounds for one signer. RunOnePass must not be called
// concurrently with itself; the other methods are safe from any goroutine.
type RunLoop struct {
	passMu sync.Mutex

	keys        *tss.PublicKeys
	signer      engine.ParticipantEngine
	coordinator engine.CoordinatorEngine
	board       Sender
	votes       VoteEnsurer
	recorder    Recorder
	metrics     metrics.Recorder
	auth        *auth.Authenticator

	state        State
	commands     *commandQueue
	current      string
	stuck        *StuckCommand
	eventTimeout atomic.Int64

	maxStartAttempts int
	retryBase        time.Duration
	retryMax         time.Duration

	statusMu sync.RWMutex
	status   Status

	logger zerolog.Logger
}

// New builds a run loop and loads the ratified aggregate key into the
// coordinator engine. Every error wraps ErrStartup.
func New(ctx context.Context, cfg Config) (*RunLoop, error) {
	switch {
	case cfg.Keys == nil:
		return nil, fmt.Errorf("%w: public keys are required", ErrStartup)
	case cfg.Signer == nil || cfg.Coordinator == nil:
		return nil, fmt.Errorf("%w: both protocol engines are required", ErrStartup)
	case cfg.Board == nil:
		return nil, fmt.Errorf("%w: board is required", ErrStartup)
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger is required", ErrStartup)
	case cfg.MaxStartAttempts < 0:
		return nil, fmt.Errorf("%w: max start attempts must not be negative", ErrStartup)
	}
	if _, _, err := coordinator.Calculate(cfg.Keys); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultEventTimeout
	}
	if cfg.StartRetryBase <= 0 {
		cfg.StartRetryBase = DefaultStartRetryBase
	}
	if cfg.StartRetryMax <= 0 {
		cfg.StartRetryMax = DefaultStartRetryMax
	}

	logger := cfg.Logger.With().
		Str("component", "runloop").
		Uint32("signer_id", cfg.Signer.SignerID()).
		Logger()

	key, err := cfg.Ledger.GetAggregatePublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load aggregate public key from ledger: %w", ErrStartup, err)
	}
	cfg.Coordinator.SetAggregatePublicKey(key)
	if len(key) > 0 {
		logger.Info().Str("key", hex.EncodeToString(key)).Msg("loaded aggregate public key from ledger")
	}

	r := &RunLoop{
		keys:             cfg.Keys,
		signer:           cfg.Signer,
		coordinator:      cfg.Coordinator,
		board:            cfg.Board,
		votes:            cfg.Votes,
		recorder:         cfg.Recorder,
		metrics:          cfg.Metrics,
		auth:             auth.NewAuthenticator(cfg.Keys, logger, cfg.Metrics.MessageDropped),
		state:            StateIdle,
		commands:         newCommandQueue(cfg.Metrics.PendingCommands),
		maxStartAttempts: cfg.MaxStartAttempts,
		retryBase:        cfg.StartRetryBase,
		retryMax:         cfg.StartRetryMax,
		logger:           logger,
	}
	r.eventTimeout.Store(int64(cfg.EventTimeout))
	r.publishStatus()
	return r, nil
}

// EventTimeout is how long the caller should wait for the next event.
func (r *RunLoop) EventTimeout() time.Duration {
	return time.Duration(r.eventTimeout.Load())
}

// SetEventTimeout changes the event wait used by the caller.
func (r *RunLoop) SetEventTimeout(d time.Duration) {
	r.eventTimeout.Store(int64(d))
}

// Status returns the snapshot published by the last pass.
func (r *RunLoop) Status() Status {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	s := r.status
	if s.Stuck != nil {
		stuck := *s.Stuck
		s.Stuck = &stuck
	}
	s.EventTimeout = r.EventTimeout()
	return s
}

// Restore queues a command recorded before a restart under its original round id.
func (r *RunLoop) Restore(roundID string, cmd Command) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	r.commands.pushBack(&queued{id: roundID, cmd: cmd})
	r.logger.Info().Str("round_id", roundID).Str("kind", string(cmd.Kind())).Msg("restored pending command")
	r.publishStatus()
}

// RunOnePass runs one tick: queue cmd, process event and forward its
// results, queue a DKG if one is needed, then try to start the next command.
func (r *RunLoop) RunOnePass(ctx context.Context, event *board.Event, cmd Command, results chan<- []engine.OperationResult) {
	r.passMu.Lock()
	defer r.passMu.Unlock()
	defer r.publishStatus()
	defer r.metrics.PassCompleted()

	if cmd != nil {
		r.enqueue(cmd)
	}

	if event != nil {
		outbound, opResults := r.processEvent(event)
		r.logger.Debug().Int("count", len(outbound)).Msg("sending messages to the board")
		for _, pkt := range outbound {
			r.send(ctx, pkt)
		}

		if len(opResults) > 0 {
			r.finishRound(opResults)
			r.emit(ctx, results, opResults)
		}
	}

	if r.shouldRunDkg(ctx) {
		r.logger.Debug().Msg("DKG has not run and needs to be queued; adding it to the back of the queue")
		r.enqueue(DkgCommand{})
	}

	// Must run after the event: its results may have returned the node to idle.
	r.processNextCommand(ctx)
}

func (r *RunLoop) enqueue(cmd Command) {
	id := uuid.NewString()
	r.commands.pushBack(&queued{id: id, cmd: cmd})
	if r.recorder != nil {
		r.recorder.RoundQueued(id, cmd)
	}
	r.logger.Info().Str("round_id", id).Str("kind", string(cmd.Kind())).Int("pending", r.commands.len()).Msg("queued command")
}

func (r *RunLoop) send(ctx context.Context, pkt wire.Packet) {
	ack, err := r.board.SendMessage(ctx, r.signer.SignerID(), pkt)
	if err != nil {
		r.metrics.SendFailed()
		r.logger.Warn().
			Err(err).
			Uint32("signer_id", r.signer.SignerID()).
			Str("kind", pkt.Msg.Kind().String()).
			Msg("failed to send message to the board")
		return
	}
	r.metrics.MessageSent()
	r.logger.Debug().Uint32("slot_id", ack.SlotID).Uint64("version", ack.Version).Bool("accepted", ack.Accepted).Msg("board ack")
}

func (r *RunLoop) finishRound(opResults []engine.OperationResult) {
	r.logger.Info().Str("round_id", r.current).Str("state", r.state.String()).Int("results", len(opResults)).Msg("round finished")
	for _, res := range opResults {
		r.metrics.RoundCompleted(string(res.Kind), res.Failed())
	}
	if r.recorder != nil && r.current != "" {
		r.recorder.RoundCompleted(r.current, opResults)
	}
	r.current = ""
	r.setState(StateIdle)
}

func (r *RunLoop) emit(ctx context.Context, results chan<- []engine.OperationResult, opResults []engine.OperationResult) {
	if results == nil {
		return
	}
	select {
	case results <- opResults:
		r.logger.Debug().Int("count", len(opResults)).Msg("sent operation results")
	case <-ctx.Done():
		r.logger.Warn().Err(ctx.Err()).Int("count", len(opResults)).Msg("failed to send operation results")
	}
}

// processEvent authenticates the event's messages and runs them through the
// participant engine and, on the coordinator, the coordinator engine.
// Participant output comes first.
func (r *RunLoop) processEvent(event *board.Event) ([]wire.Packet, []engine.OperationResult) {
	coordinatorID, coordinatorKey := r.electCoordinator()

	inbound := make([]wire.Packet, 0, len(event.ModifiedSlots))
	for _, chunk := range event.ModifiedSlots {
		pkt, err := wire.Decode(chunk.Data)
		if err != nil {
			r.logger.Trace().Err(err).Uint32("slot_id", chunk.SlotID).Msg("ignoring undecodable write")
			continue
		}
		inbound = append(inbound, pkt)
	}
	inbound = r.auth.Filter(inbound, coordinatorKey)
	if len(inbound) == 0 {
		return nil, nil
	}

	outbound, err := r.signer.ProcessInboundMessages(inbound)
	if err != nil {
		r.logger.Warn().Err(err).Msg("participant engine failed to process messages")
		outbound = nil
	}

	if r.signer.SignerID() != coordinatorID {
		return outbound, nil
	}
	msgs, opResults, err := r.coordinator.ProcessInboundMessages(inbound)
	if err != nil {
		r.logger.Warn().Err(err).Msg("coordinator engine failed to process messages")
		return outbound, nil
	}
	return append(outbound, msgs...), opResults
}

func (r *RunLoop) electCoordinator() (uint32, *secp256k1.PublicKey) {
	id, key, err := coordinator.Calculate(r.keys)
	if err != nil {
		// New checked the registry; coordinator kinds are rejected with a nil key.
		r.logger.Error().Err(err).Msg("coordinator election failed")
		return id, nil
	}
	return id, key
}

func (r *RunLoop) isCoordinator() bool {
	id, _ := r.electCoordinator()
	return id == r.signer.SignerID()
}

// shouldRunDkg reports whether a DKG command must be queued. With a group key
// already known it never does; instead the coordinator makes sure its vote
// for the key reached the ledger.
func (r *RunLoop) shouldRunDkg(ctx context.Context) bool {
	if r.state != StateIdle {
		return false
	}
	isCoordinator := r.isCoordinator()
	if key := r.coordinator.AggregatePublicKey(); len(key) > 0 {
		if isCoordinator && r.votes != nil {
			err := r.votes.Ensure(ctx, key)
			r.metrics.VoteCast(err == nil)
			if err != nil {
				r.logger.Error().Err(err).Msg("aggregate public key vote failed; retrying next pass")
			}
		}
		return false
	}
	if !isCoordinator {
		return false
	}
	front, ok := r.commands.front()
	return !ok || !CommandsEqual(front.cmd, DkgCommand{})
}

// executeCommand tries to start cmd. On failure the coordinator engine is
// reset so a half-started round cannot affect the next attempt.
func (r *RunLoop) executeCommand(ctx context.Context, cmd Command) error {
	var (
		pkt wire.Packet
		err error
	)
	switch c := cmd.(type) {
	case DkgCommand:
		r.logger.Info().Msg("starting DKG")
		pkt, err = r.coordinator.StartDkg()
	case SignCommand:
		r.logger.Info().Str("message", hex.EncodeToString(c.Message)).Bool("is_taproot", c.IsTaproot).Msg("signing message")
		pkt, err = r.coordinator.StartSigning(c.Message, c.IsTaproot, c.MerkleRoot)
	default:
		err = fmt.Errorf("unknown command %T", cmd)
	}
	if err != nil {
		r.metrics.StartFailed()
		r.logger.Error().Err(err).Str("kind", string(cmd.Kind())).Msg("failed to start round; resetting coordinator state")
		r.coordinator.Reset()
		return err
	}
	r.send(ctx, pkt)
	r.setState(stateFor(cmd))
	return nil
}

// processNextCommand starts the front command while idle. A command that
// fails to start is retried with backoff; after MaxStartAttempts failures in
// one pass it goes back to the front of the queue and is reported as stuck.
func (r *RunLoop) processNextCommand(ctx context.Context) {
	if r.state != StateIdle {
		r.logger.Debug().Str("state", r.state.String()).Msg("waiting for operation to finish")
		return
	}
	item, ok := r.commands.popFront()
	if !ok {
		r.logger.Trace().Msg("nothing to process; waiting for command")
		return
	}

	backoff, err := r.startBackoff()
	if err != nil {
		r.commands.pushFront(item)
		r.logger.Error().Err(err).Msg("invalid start retry configuration")
		return
	}

	var lastErr error
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		item.attempts++
		if lastErr = r.executeCommand(ctx, item.cmd); lastErr != nil {
			r.logger.Warn().Str("round_id", item.id).Int("attempt", item.attempts).Msg("failed to execute command; retrying")
			return retry.RetryableError(errStartFailed)
		}
		return nil
	})
	if err == nil {
		r.current = item.id
		r.clearStuck()
		r.metrics.RoundStarted(string(item.cmd.Kind()))
		if r.recorder != nil {
			r.recorder.RoundStarted(item.id, item.attempts)
		}
		return
	}

	r.commands.pushFront(item)
	if r.recorder != nil {
		r.recorder.RoundAttempted(item.id, item.attempts)
	}
	r.markStuck(item, lastErr)
}

func (r *RunLoop) startBackoff() (retry.Backoff, error) {
	b, err := retry.NewExponential(r.retryBase)
	if err != nil {
		return nil, err
	}
	b = retry.WithCappedDuration(r.retryMax, b)
	if r.maxStartAttempts > 0 {
		b = retry.WithMaxRetries(uint64(r.maxStartAttempts-1), b)
	}
	return b, nil
}

func (r *RunLoop) markStuck(item *queued, lastErr error) {
	if r.stuck == nil || r.stuck.RoundID != item.id {
		r.stuck = &StuckCommand{RoundID: item.id, Kind: item.cmd.Kind(), Since: time.Now()}
	}
	r.stuck.Attempts = item.attempts
	if lastErr != nil {
		r.stuck.LastError = lastErr.Error()
	}
	r.metrics.Stuck(true)
	r.logger.Error().
		Str("round_id", item.id).
		Str("kind", string(item.cmd.Kind())).
		Int("attempts", item.attempts).
		Msg("command keeps failing to start; retrying next pass")
}

func (r *RunLoop) clearStuck() {
	if r.stuck != nil {
		r.stuck = nil
		r.metrics.Stuck(false)
	}
}

func (r *RunLoop) setState(s State) {
	r.state = s
	r.metrics.State(int(s))
}

func (r *RunLoop) publishStatus() {
	coordinatorID, _ := r.electCoordinator()
	s := Status{
		SignerID:        r.signer.SignerID(),
		CoordinatorID:   coordinatorID,
		IsCoordinator:   coordinatorID == r.signer.SignerID(),
		State:           r.state.String(),
		PendingCommands: r.commands.len(),
		CurrentRound:    r.current,
	}
	if key := r.coordinator.AggregatePublicKey(); len(key) > 0 {
		s.AggregatePublicKey = hex.EncodeToString(key)
	}
	if r.stuck != nil {
		stuck := *r.stuck
		s.Stuck = &stuck
	}
	r.statusMu.Lock()
	r.status = s
	r.statusMu.Unlock()
}
