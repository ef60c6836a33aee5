package eventstore

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pushchain/push-signer-node/signerClient/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.Round{}))
	return NewStore(db, zerolog.Nop())
}

func TestRoundLifecycle(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.CreateRound("r1", "dkg", []byte(`{"kind":"dkg"}`)))

	r, err := s.GetRound("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)

	require.NoError(t, s.RecordAttempts("r1", 2))
	require.NoError(t, s.MarkInProgress("r1", 3))
	r, err = s.GetRound("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, r.Status)
	assert.Equal(t, 3, r.Attempts)

	require.NoError(t, s.Complete("r1", true, []byte(`[]`), "signer 2: bad share"))
	r, err = s.GetRound("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "signer 2: bad share", r.ErrorMsg)
}

func TestUpdateUnknownRound(t *testing.T) {
	s := setupTestStore(t)
	assert.Error(t, s.MarkInProgress("nope", 1))
	assert.Error(t, s.Complete("nope", false, nil, ""))
}

func TestDuplicateRoundID(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.CreateRound("r1", "dkg", nil))
	assert.Error(t, s.CreateRound("r1", "sign", nil))
}

func TestListAndPendingRounds(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.CreateRound("a", "dkg", nil))
	require.NoError(t, s.CreateRound("b", "sign", nil))
	require.NoError(t, s.CreateRound("c", "sign", nil))
	require.NoError(t, s.MarkInProgress("a", 1))

	all, err := s.ListRounds("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RoundID)

	limited, err := s.ListRounds(StatusPending, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "c", limited[0].RoundID)

	pending, err := s.PendingRounds()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].RoundID)

	n, err := s.ResetInProgressToPending()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	pending, err = s.PendingRounds()
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].RoundID)
}

func TestClearFinished(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.CreateRound("done", "sign", nil))
	require.NoError(t, s.CreateRound("failed", "sign", nil))
	require.NoError(t, s.CreateRound("waiting", "sign", nil))
	require.NoError(t, s.Complete("done", false, nil, ""))
	require.NoError(t, s.Complete("failed", true, nil, "x"))

	n, err := s.ClearFinished(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "recent rounds are retained")

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.db.Model(&store.Round{}).Where("round_id IN ?", []string{"done", "failed"}).UpdateColumn("updated_at", old).Error)

	n, err = s.ClearFinished(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := s.ListRounds("", 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "waiting", left[0].RoundID)
}
