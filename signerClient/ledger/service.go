package ledger

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/push-signer-node/signerClient/store"
	"github.com/pushchain/push-signer-node/signerClient/tss"
)

var (
	ErrAlreadyRatified = errors.New("aggregate public key already ratified")
	ErrUnknownVoter    = errors.New("vote from unknown signer")
	ErrBadVote         = errors.New("invalid vote signature")
)

// Service is a devnet ledger. It keeps the latest vote of each registered
// signer and ratifies a key once quorum signers voted for it.
type Service struct {
	mu     sync.Mutex
	db     *gorm.DB
	keys   *tss.PublicKeys
	quorum int
	logger zerolog.Logger
}

// NewService creates the devnet ledger. A quorum below one is treated as one.
func NewService(db *gorm.DB, keys *tss.PublicKeys, quorum int, logger zerolog.Logger) *Service {
	if quorum < 1 {
		quorum = 1
	}
	return &Service{
		db:     db,
		keys:   keys,
		quorum: quorum,
		logger: logger.With().Str("component", "ledger_service").Logger(),
	}
}

// NewServer exposes svc under the signer namespace.
func NewServer(svc *Service) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(Namespace, svc); err != nil {
		return nil, errors.Wrap(err, "failed to register ledger service")
	}
	return srv, nil
}

func (s *Service) GetAggregatePublicKey(ctx context.Context) (hexutil.Bytes, error) {
	var key store.LedgerKey
	err := s.db.WithContext(ctx).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aggregate key")
	}
	return key.Key, nil
}

func (s *Service) GetAggregatePublicKeyVote(ctx context.Context, signerID uint32) (hexutil.Bytes, error) {
	var vote store.LedgerVote
	err := s.db.WithContext(ctx).First(&vote, "signer_id = ?", signerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load vote of signer %d", signerID)
	}
	return vote.Key, nil
}

func (s *Service) CastAggregatePublicKeyVote(ctx context.Context, signerID uint32, key, sig hexutil.Bytes) (string, error) {
	if len(key) == 0 {
		return "", errors.New("empty aggregate key")
	}
	pub, ok := s.keys.Signer(signerID)
	if !ok {
		return "", errors.Wrapf(ErrUnknownVoter, "signer %d", signerID)
	}
	if !VerifyVote(pub, signerID, key, sig) {
		return "", errors.Wrapf(ErrBadVote, "signer %d", signerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txID := uuid.NewString()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ratified int64
		if err := tx.Model(&store.LedgerKey{}).Count(&ratified).Error; err != nil {
			return err
		}
		if ratified > 0 {
			return ErrAlreadyRatified
		}
		vote := store.LedgerVote{SignerID: signerID, Key: key, TxID: txID, UpdatedAt: time.Now()}
		if err := tx.Save(&vote).Error; err != nil {
			return err
		}

		var votes []store.LedgerVote
		if err := tx.Find(&votes).Error; err != nil {
			return err
		}
		agree := 0
		for _, v := range votes {
			if bytes.Equal(v.Key, key) {
				agree++
			}
		}
		if agree < s.quorum {
			return nil
		}
		s.logger.Info().Str("key", hexutil.Encode(key)).Int("votes", agree).Msg("aggregate public key ratified")
		return tx.Create(&store.LedgerKey{ID: 1, Key: key, Votes: agree, RatifiedAt: time.Now()}).Error
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to record vote of signer %d", signerID)
	}
	s.logger.Debug().Uint32("signer_id", signerID).Str("tx_id", txID).Msg("recorded vote")
	return txID, nil
}
