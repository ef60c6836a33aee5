package keyshare

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, password string) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), password)
	require.NoError(t, err)
	return mgr
}

func TestNewManager(t *testing.T) {
	t.Run("creates private directory", func(t *testing.T) {
		home := t.TempDir()
		mgr, err := NewManager(home, "pw")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, keysharesDirName), mgr.keysharesDir)

		info, err := os.Stat(mgr.keysharesDir)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(dirPerms), info.Mode().Perm())
	})

	t.Run("empty home", func(t *testing.T) {
		mgr, err := NewManager("", "pw")
		assert.Error(t, err)
		assert.Nil(t, mgr)
	})
}

func TestStoreGetRoundTrip(t *testing.T) {
	mgr := newManager(t, "pw")
	require.NoError(t, mgr.Store([]byte("secret"), "a"))

	got, err := mgr.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	raw, err := os.ReadFile(filepath.Join(mgr.keysharesDir, "a"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}

func TestGetWithWrongPasswordFails(t *testing.T) {
	home := t.TempDir()
	mgr, err := NewManager(home, "right")
	require.NoError(t, err)
	require.NoError(t, mgr.Store([]byte("secret"), "a"))

	other, err := NewManager(home, "wrong")
	require.NoError(t, err)
	_, err = other.Get("a")
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKeyIDValidation(t *testing.T) {
	mgr := newManager(t, "pw")
	for _, id := range []string{"", "../x", "a/b", `a\b`} {
		t.Run(id, func(t *testing.T) {
			assert.ErrorIs(t, mgr.Store([]byte("x"), id), ErrInvalidKeyID)
			_, err := mgr.Get(id)
			assert.ErrorIs(t, err, ErrInvalidKeyID)
			_, err = mgr.Exists(id)
			assert.ErrorIs(t, err, ErrInvalidKeyID)
		})
	}
}

func TestExistsListDelete(t *testing.T) {
	mgr := newManager(t, "pw")
	ok, err := mgr.Exists("b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mgr.Store([]byte("1"), "b"))
	require.NoError(t, mgr.Store([]byte("2"), "a"))

	ok, err = mgr.Exists("b")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := mgr.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, mgr.Delete("b"))
	require.NoError(t, mgr.Delete("b"))
	_, err = mgr.Get("b")
	assert.ErrorIs(t, err, ErrKeyshareNotFound)
}

func TestShares(t *testing.T) {
	mgr := newManager(t, "pw")

	_, err := mgr.LoadShares([]uint32{1})
	assert.ErrorIs(t, err, ErrKeyshareNotFound)

	s1 := Share{KeyID: 1, DkgID: 3, SecretKey: []byte{1}, PublicKey: []byte{2}, GroupKey: []byte{9}}
	s2 := Share{KeyID: 2, DkgID: 3, SecretKey: []byte{3}, PublicKey: []byte{4}, GroupKey: []byte{9}}
	require.NoError(t, mgr.StoreShare(s1))
	require.NoError(t, mgr.StoreShare(s2))

	shares, err := mgr.LoadShares([]uint32{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []Share{s1, s2}, shares)

	s2.DkgID = 4
	require.NoError(t, mgr.StoreShare(s2))
	_, err = mgr.LoadShares([]uint32{1, 2})
	assert.ErrorIs(t, err, ErrKeyshareNotFound)
}
