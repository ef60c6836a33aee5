package node

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/tss/engine"
	"github.com/pushchain/push-signer-node/signerClient/tss/eventstore"
	"github.com/pushchain/push-signer-node/signerClient/tss/runloop"
)

// roundRecorder writes the run loop's round lifecycle to the event store.
// Store failures are logged and never reach the run loop.
type roundRecorder struct {
	events *eventstore.Store
	logger zerolog.Logger
}

var _ runloop.Recorder = (*roundRecorder)(nil)

func newRoundRecorder(events *eventstore.Store, logger zerolog.Logger) *roundRecorder {
	return &roundRecorder{
		events: events,
		logger: logger.With().Str("component", "round_recorder").Logger(),
	}
}

func (r *roundRecorder) RoundQueued(id string, cmd runloop.Command) {
	payload, err := runloop.MarshalCommand(cmd)
	if err != nil {
		r.logger.Warn().Err(err).Str("round_id", id).Msg("failed to encode command")
		return
	}
	if err := r.events.CreateRound(id, string(cmd.Kind()), payload); err != nil {
		r.logger.Warn().Err(err).Str("round_id", id).Msg("failed to record queued round")
	}
}

func (r *roundRecorder) RoundAttempted(id string, attempts int) {
	if err := r.events.RecordAttempts(id, attempts); err != nil {
		r.logger.Warn().Err(err).Str("round_id", id).Msg("failed to record start attempts")
	}
}

func (r *roundRecorder) RoundStarted(id string, attempts int) {
	if err := r.events.MarkInProgress(id, attempts); err != nil {
		r.logger.Warn().Err(err).Str("round_id", id).Msg("failed to mark round in progress")
	}
}

func (r *roundRecorder) RoundCompleted(id string, results []engine.OperationResult) {
	failed := false
	var reasons []string
	for _, res := range results {
		if res.Failed() {
			failed = true
			reasons = append(reasons, res.Err)
		}
	}
	data, err := json.Marshal(results)
	if err != nil {
		r.logger.Warn().Err(err).Str("round_id", id).Msg("failed to encode round results")
	}
	if err := r.events.Complete(id, failed, data, strings.Join(reasons, "; ")); err != nil {
		r.logger.Warn().Err(err).Str("round_id", id).Msg("failed to record round result")
	}
}

// restorePending requeues rounds left unfinished by a previous process.
func restorePending(events *eventstore.Store, loop *runloop.RunLoop, logger zerolog.Logger) error {
	reset, err := events.ResetInProgressToPending()
	if err != nil {
		return err
	}
	if reset > 0 {
		logger.Info().Int64("count", reset).Msg("reset interrupted rounds to pending")
	}
	rounds, err := events.PendingRounds()
	if err != nil {
		return err
	}
	for _, round := range rounds {
		cmd, err := runloop.UnmarshalCommand(round.Payload)
		if err != nil {
			logger.Warn().Err(err).Str("round_id", round.RoundID).Msg("dropping unreadable pending round")
			if cerr := events.Complete(round.RoundID, true, nil, "unreadable command: "+err.Error()); cerr != nil {
				logger.Warn().Err(cerr).Str("round_id", round.RoundID).Msg("failed to close unreadable round")
			}
			continue
		}
		loop.Restore(round.RoundID, cmd)
	}
	return nil
}
