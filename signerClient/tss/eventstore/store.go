// Package eventstore keeps the node's round history: every command from the
// moment it is queued until its result arrives.
package eventstore

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/push-signer-node/signerClient/store"
)

const (
	StatusPending    = store.RoundPending
	StatusInProgress = store.RoundInProgress
	StatusSuccess    = store.RoundSuccess
	StatusFailed     = store.RoundFailed
)

// Store provides database access for round records.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a new round store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "event_store").Logger(),
	}
}

// CreateRound records a newly queued command.
func (s *Store) CreateRound(roundID, kind string, payload []byte) error {
	round := store.Round{RoundID: roundID, Kind: kind, Status: StatusPending, Payload: payload}
	if err := s.db.Create(&round).Error; err != nil {
		return errors.Wrapf(err, "failed to create round %s", roundID)
	}
	s.logger.Debug().Str("round_id", roundID).Str("kind", kind).Msg("stored new round")
	return nil
}

// MarkInProgress records that the executor started the round after attempts tries.
func (s *Store) MarkInProgress(roundID string, attempts int) error {
	return s.update(roundID, map[string]any{"status": StatusInProgress, "attempts": attempts})
}

// RecordAttempts updates the attempt count of a round that has not started yet.
func (s *Store) RecordAttempts(roundID string, attempts int) error {
	return s.update(roundID, map[string]any{"attempts": attempts})
}

// Complete stores a round's outcome.
func (s *Store) Complete(roundID string, failed bool, result []byte, errorMsg string) error {
	status := StatusSuccess
	if failed {
		status = StatusFailed
	}
	update := map[string]any{"status": status, "result": result}
	if errorMsg != "" {
		update["error_msg"] = errorMsg
	}
	return s.update(roundID, update)
}

func (s *Store) update(roundID string, update map[string]any) error {
	result := s.db.Model(&store.Round{}).
		Where("round_id = ?", roundID).
		Updates(update)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update round %s", roundID)
	}
	if result.RowsAffected == 0 {
		return errors.Errorf("round %s not found", roundID)
	}
	return nil
}

// GetRound retrieves a round by ID.
func (s *Store) GetRound(roundID string) (*store.Round, error) {
	var round store.Round
	if err := s.db.Where("round_id = ?", roundID).First(&round).Error; err != nil {
		return nil, err
	}
	return &round, nil
}

// ListRounds returns rounds with the given status, newest first. An empty
// status matches every round; a non-positive limit returns all.
func (s *Store) ListRounds(status string, limit int) ([]store.Round, error) {
	var rounds []store.Round
	query := s.db.Order("id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rounds).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query rounds with status %q", status)
	}
	return rounds, nil
}

// PendingRounds returns the rounds still waiting to start, oldest first.
func (s *Store) PendingRounds() ([]store.Round, error) {
	var rounds []store.Round
	if err := s.db.Where("status = ?", StatusPending).Order("id ASC").Find(&rounds).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query pending rounds")
	}
	return rounds, nil
}

// ResetInProgressToPending resets all IN_PROGRESS rounds to PENDING. It runs
// on startup: a round that was in flight when the node stopped is lost and
// has to be started again.
func (s *Store) ResetInProgressToPending() (int64, error) {
	result := s.db.Model(&store.Round{}).
		Where("status = ?", StatusInProgress).
		Update("status", StatusPending)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reset IN_PROGRESS rounds to PENDING")
	}
	if result.RowsAffected > 0 {
		s.logger.Info().Int64("reset_count", result.RowsAffected).Msg("reset IN_PROGRESS rounds to PENDING on node startup")
	}
	return result.RowsAffected, nil
}

// ClearFinished deletes successful and failed rounds last touched before olderThan ago.
func (s *Store) ClearFinished(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.Unscoped().
		Where("status IN ? AND updated_at < ?", []string{StatusSuccess, StatusFailed}, cutoff).
		Delete(&store.Round{})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to clear finished rounds")
	}
	if result.RowsAffected > 0 {
		s.logger.Info().Int64("deleted_count", result.RowsAffected).Msg("cleared finished rounds")
	}
	return result.RowsAffected, nil
}
