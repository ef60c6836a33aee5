package frost

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Private DKG shares travel on a public board, so each bundle is sealed to its
// destination signer with a key derived from ECDH over the message keys.

func shareContext(dkgID uint64, from, to uint32) []byte {
	info := make([]byte, 0, 32)
	info = append(info, "psigner/dkg-share"...)
	info = binary.BigEndian.AppendUint64(info, dkgID)
	info = binary.BigEndian.AppendUint32(info, from)
	info = binary.BigEndian.AppendUint32(info, to)
	return info
}

func shareAEAD(priv *secp256k1.PrivateKey, peer *secp256k1.PublicKey, info []byte) (cipher.AEAD, error) {
	secret := secp256k1.GenerateSharedSecret(priv, peer)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, errors.Wrap(err, "derive share key")
	}
	return chacha20poly1305.New(key)
}

func sealShare(r io.Reader, priv *secp256k1.PrivateKey, peer *secp256k1.PublicKey, dkgID uint64, from, to uint32, plain []byte) ([]byte, error) {
	info := shareContext(dkgID, from, to)
	aead, err := shareAEAD(priv, peer, info)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, errors.Wrap(err, "share nonce")
	}
	return aead.Seal(nonce, nonce, plain, info), nil
}

func openShare(priv *secp256k1.PrivateKey, peer *secp256k1.PublicKey, dkgID uint64, from, to uint32, sealed []byte) ([]byte, error) {
	info := shareContext(dkgID, from, to)
	aead, err := shareAEAD(priv, peer, info)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed share too short")
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], info)
	if err != nil {
		return nil, errors.Wrapf(err, "open share from signer %d", from)
	}
	return plain, nil
}
