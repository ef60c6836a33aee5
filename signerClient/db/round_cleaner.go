package db

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes finished records older than a retention period.
type Pruner interface {
	ClearFinished(olderThan time.Duration) (int64, error)
}

// RoundCleaner periodically prunes finished rounds from the round history.
type RoundCleaner struct {
	db              *DB
	pruner          Pruner
	logger          zerolog.Logger
	stopCh          chan struct{}
	cleanupInterval time.Duration
	retentionPeriod time.Duration
}

// NewRoundCleaner creates a cleaner. db may be nil when WAL checkpointing is not wanted.
func NewRoundCleaner(db *DB, pruner Pruner, interval, retention time.Duration, logger zerolog.Logger) *RoundCleaner {
	return &RoundCleaner{
		db:              db,
		pruner:          pruner,
		cleanupInterval: interval,
		retentionPeriod: retention,
		logger:          logger.With().Str("component", "round_cleaner").Logger(),
		stopCh:          make(chan struct{}),
	}
}

// Start runs an initial cleanup and then one per interval until ctx is done or Stop is called.
func (rc *RoundCleaner) Start(ctx context.Context) {
	rc.logger.Info().
		Dur("cleanup_interval", rc.cleanupInterval).
		Dur("retention_period", rc.retentionPeriod).
		Msg("starting round cleaner")

	if _, err := rc.Cleanup(); err != nil {
		rc.logger.Error().Err(err).Msg("failed to perform initial cleanup")
	}

	ticker := time.NewTicker(rc.cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-rc.stopCh:
				return
			case <-ticker.C:
				if _, err := rc.Cleanup(); err != nil {
					rc.logger.Error().Err(err).Msg("failed to perform scheduled cleanup")
				}
			}
		}
	}()
}

// Stop ends the periodic cleanup.
func (rc *RoundCleaner) Stop() {
	close(rc.stopCh)
}

// Cleanup prunes once and returns the number of deleted rounds.
func (rc *RoundCleaner) Cleanup() (int64, error) {
	start := time.Now()
	deleted, err := rc.pruner.ClearFinished(rc.retentionPeriod)
	if err != nil {
		return 0, err
	}
	if deleted > 0 && rc.db != nil {
		if err := rc.db.Checkpoint(); err != nil {
			rc.logger.Warn().Err(err).Msg("failed to checkpoint WAL")
		}
	}
	rc.logger.Debug().
		Int64("deleted", deleted).
		Dur("duration", time.Since(start)).
		Msg("round cleanup completed")
	return deleted, nil
}
