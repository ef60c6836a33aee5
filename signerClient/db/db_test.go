package db

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/push-signer-node/signerClient/store"
)

func TestDB_OpenModes(t *testing.T) {
	t.Run("in-memory", func(t *testing.T) {
		db, err := OpenInMemoryDB(true)
		require.NoError(t, err)
		runSampleInsertSelectTest(t, db)
		assert.NoError(t, db.Close())
	})

	t.Run("file-based DB", func(t *testing.T) {
		dir := t.TempDir()
		db, err := OpenFileDB(dir, "test.db", true)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "test.db"))
		runSampleInsertSelectTest(t, db)
		assert.NoError(t, db.Checkpoint())
		assert.NoError(t, db.Close())
	})

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		db, err := OpenFileDB(dir, "test.db", true)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "test.db"))
		assert.NoError(t, db.Close())
	})
}

func runSampleInsertSelectTest(t *testing.T, db *DB) {
	t.Helper()
	entry := store.Round{RoundID: "r-1", Kind: "dkg", Status: store.RoundPending}
	require.NoError(t, db.Client().Create(&entry).Error)

	var result store.Round
	require.NoError(t, db.Client().First(&result, "round_id = ?", "r-1").Error)
	assert.Equal(t, store.RoundPending, result.Status)
}

type fakePruner struct {
	calls   int
	deleted int64
	err     error
}

func (p *fakePruner) ClearFinished(time.Duration) (int64, error) {
	p.calls++
	return p.deleted, p.err
}

func TestRoundCleanerCleanup(t *testing.T) {
	db, err := OpenInMemoryDB(true)
	require.NoError(t, err)
	defer db.Close()

	p := &fakePruner{deleted: 3}
	rc := NewRoundCleaner(db, p, time.Hour, time.Hour, zerolog.Nop())
	n, err := rc.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	p.err = fmt.Errorf("locked")
	_, err = rc.Cleanup()
	assert.Error(t, err)
	assert.Equal(t, 2, p.calls)
}
