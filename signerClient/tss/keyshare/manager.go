// Package keyshare persists this node's FROST key shares as encrypted files.
package keyshare

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrKeyshareNotFound = errors.New("keyshare not found")
	ErrInvalidKeyID     = errors.New("invalid key ID")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const (
	keysharesDirName = "keyshares"
	sharePrefix      = "key-"
	filePerms        = 0o600
	dirPerms         = 0o700

	saltLength       = 32
	nonceLength      = 12
	keyLength        = 32
	pbkdf2Iterations = 100000
)

// Share is one key id's output of a finished DKG round.
type Share struct {
	KeyID     uint32 `cbor:"1,keyasint"`
	DkgID     uint64 `cbor:"2,keyasint"`
	SecretKey []byte `cbor:"3,keyasint"`
	PublicKey []byte `cbor:"4,keyasint"`
	GroupKey  []byte `cbor:"5,keyasint"`
}

// Manager stores encrypted key shares under <home>/keyshares.
type Manager struct {
	keysharesDir string
	password     string
}

// NewManager creates the keyshares directory under homeDir if needed.
func NewManager(homeDir string, encryptionPassword string) (*Manager, error) {
	if homeDir == "" {
		return nil, errors.New("home directory cannot be empty")
	}
	keysharesDir := filepath.Join(homeDir, keysharesDirName)
	if err := os.MkdirAll(keysharesDir, dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create keyshares directory: %w", err)
	}
	return &Manager{
		keysharesDir: keysharesDir,
		password:     encryptionPassword,
	}, nil
}

func (m *Manager) path(keyID string) (string, error) {
	if keyID == "" {
		return "", ErrInvalidKeyID
	}
	if strings.ContainsAny(keyID, `/\`) || strings.Contains(keyID, "..") {
		return "", fmt.Errorf("%w: keyID contains invalid characters", ErrInvalidKeyID)
	}
	return filepath.Join(m.keysharesDir, keyID), nil
}

// Store encrypts and writes raw share bytes under keyID.
func (m *Manager) Store(data []byte, keyID string) error {
	p, err := m.path(keyID)
	if err != nil {
		return err
	}
	enc, err := m.encrypt(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt keyshare: %w", err)
	}
	if err := os.WriteFile(p, enc, filePerms); err != nil {
		return fmt.Errorf("failed to write keyshare file: %w", err)
	}
	return nil
}

// Get reads and decrypts the share bytes stored under keyID.
func (m *Manager) Get(keyID string) ([]byte, error) {
	p, err := m.path(keyID)
	if err != nil {
		return nil, err
	}
	enc, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyshareNotFound
		}
		return nil, fmt.Errorf("failed to read keyshare file: %w", err)
	}
	data, err := m.decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keyshare: %w", err)
	}
	return data, nil
}

// Exists reports whether a share is stored under keyID.
func (m *Manager) Exists(keyID string) (bool, error) {
	p, err := m.path(keyID)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check keyshare file: %w", err)
	}
	return true, nil
}

// Delete removes the share stored under keyID. Deleting a missing share is not an error.
func (m *Manager) Delete(keyID string) error {
	p, err := m.path(keyID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete keyshare file: %w", err)
	}
	return nil
}

// List returns the names of all stored shares.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.keysharesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyshares directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ShareName returns the file name a key id's share is stored under.
func ShareName(keyID uint32) string {
	return sharePrefix + strconv.FormatUint(uint64(keyID), 10)
}

// StoreShare persists a DKG output, replacing any earlier share for the same key id.
func (m *Manager) StoreShare(s Share) error {
	data, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode share for key %d: %w", s.KeyID, err)
	}
	return m.Store(data, ShareName(s.KeyID))
}

// LoadShare returns the stored share for a key id.
func (m *Manager) LoadShare(keyID uint32) (Share, error) {
	data, err := m.Get(ShareName(keyID))
	if err != nil {
		return Share{}, err
	}
	var s Share
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Share{}, fmt.Errorf("failed to decode share for key %d: %w", keyID, err)
	}
	return s, nil
}

// LoadShares returns the stored shares for keyIDs. It returns ErrKeyshareNotFound
// unless every key id has a share from the same DKG round.
func (m *Manager) LoadShares(keyIDs []uint32) ([]Share, error) {
	shares := make([]Share, 0, len(keyIDs))
	for _, id := range keyIDs {
		s, err := m.LoadShare(id)
		if err != nil {
			return nil, err
		}
		if len(shares) > 0 && shares[0].DkgID != s.DkgID {
			return nil, fmt.Errorf("%w: key %d belongs to dkg %d, expected %d", ErrKeyshareNotFound, id, s.DkgID, shares[0].DkgID)
		}
		shares = append(shares, s)
	}
	return shares, nil
}

// encrypt seals data with AES-256-GCM under a PBKDF2 key.
// Output layout: salt(32) || nonce(12) || ciphertext || tag(16).
func (m *Manager) encrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("keyshare data cannot be empty")
	}
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := m.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := make([]byte, 0, saltLength+nonceLength+len(data)+gcm.Overhead())
	out = append(out, salt...)
	return gcm.Seal(append(out, nonce...), nonce, data, nil), nil
}

func (m *Manager) decrypt(enc []byte) ([]byte, error) {
	if len(enc) < saltLength+nonceLength {
		return nil, ErrDecryptionFailed
	}
	gcm, err := m.aead(enc[:saltLength])
	if err != nil {
		return nil, err
	}
	nonce := enc[saltLength : saltLength+nonceLength]
	plain, err := gcm.Open(nil, nonce, enc[saltLength+nonceLength:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func (m *Manager) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(m.password), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
