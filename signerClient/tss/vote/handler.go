// Package vote makes sure the coordinator's aggregate public key gets this
// node's vote on the ledger.
package vote

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/push-signer-node/signerClient/ledger"
	"github.com/pushchain/push-signer-node/signerClient/store"
)

// DefaultRecastAfter is how long a cast vote suppresses another cast for the same key.
const DefaultRecastAfter = 10 * time.Minute

// Store remembers which aggregate keys this node has voted for.
type Store struct {
	db *gorm.DB
}

// NewStore creates a vote record store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the record for key, or nil if none exists.
func (s *Store) Get(key []byte) (*store.VoteRecord, error) {
	var rec store.VoteRecord
	err := s.db.Where("aggregate_key = ?", hex.EncodeToString(key)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load vote record")
	}
	return &rec, nil
}

// Record stores or refreshes the record for key.
func (s *Store) Record(key []byte, txID string, observed bool) error {
	rec := store.VoteRecord{AggregateKey: hex.EncodeToString(key)}
	err := s.db.Where(rec).
		Assign(map[string]any{"tx_id": txID, "observed": observed}).
		FirstOrCreate(&rec).Error
	return errors.Wrap(err, "failed to store vote record")
}

// Handler casts this node's vote for an aggregate public key when the ledger
// has neither ratified a key nor recorded a vote from this node.
type Handler struct {
	ledger      ledger.Client
	store       *Store
	recastAfter time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewHandler creates a vote handler. A nil store disables the local record.
func NewHandler(client ledger.Client, st *Store, recastAfter time.Duration, log zerolog.Logger) *Handler {
	if recastAfter <= 0 {
		recastAfter = DefaultRecastAfter
	}
	return &Handler{
		ledger:      client,
		store:       st,
		recastAfter: recastAfter,
		log:         log.With().Str("component", "tss_vote_handler").Logger(),
		now:         time.Now,
	}
}

// Ensure votes for key unless that already happened. It makes at most one
// cast per call and never retries; the caller's polling cadence does.
func (h *Handler) Ensure(ctx context.Context, key []byte) error {
	keyHex := hex.EncodeToString(key)

	if h.store != nil {
		rec, err := h.store.Get(key)
		if err != nil {
			h.log.Warn().Err(err).Msg("vote record lookup failed")
		} else if rec != nil && h.now().Sub(rec.UpdatedAt) < h.recastAfter {
			h.log.Debug().Str("key", keyHex).Str("tx_id", rec.TxID).Msg("vote already recorded locally")
			return nil
		}
	}

	ratified, err := h.ledger.GetAggregatePublicKey(ctx)
	if err != nil {
		// Not fatal: the vote lookup below decides.
		h.log.Warn().Err(err).Msg("failed to read ratified aggregate key")
	} else if len(ratified) > 0 {
		h.log.Debug().Str("key", hex.EncodeToString(ratified)).Msg("aggregate key already ratified")
		return nil
	}

	voted, err := h.ledger.GetAggregatePublicKeyVote(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get aggregate public key vote")
	}
	if len(voted) > 0 {
		h.log.Debug().Str("key", hex.EncodeToString(voted)).Msg("already voted for aggregate public key")
		h.record(voted, "", true)
		return nil
	}

	h.log.Info().Str("key", keyHex).Msg("voting for aggregate public key")
	txID, err := h.ledger.CastAggregatePublicKeyVote(ctx, key)
	if err != nil {
		return errors.Wrap(err, "failed to cast aggregate public key vote")
	}
	h.record(key, txID, false)
	return nil
}

func (h *Handler) record(key []byte, txID string, observed bool) {
	if h.store == nil {
		return
	}
	if err := h.store.Record(key, txID, observed); err != nil {
		h.log.Warn().Err(err).Msg("failed to store vote record")
	}
}
