// Package frost implements the participant and coordinator engines on top of
// FROST threshold Schnorr signatures over the Baby Jubjub curve.
//
// Every key id is one FROST participant. A signer owning several key ids runs
// one participant per key id and answers for all of them in a single message.
package frost

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sort"

	fy "github.com/f3rmion/fy/frost"
	"github.com/f3rmion/fy/bjj"
	"github.com/f3rmion/fy/group"
	"github.com/pkg/errors"

	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/keyshare"
)

var (
	ErrRoundInProgress = errors.New("a round is already in progress")
	ErrNoGroupKey      = errors.New("no aggregate public key")
	ErrEmptyMessage    = errors.New("message to sign is empty")
	ErrNoShares        = errors.New("no key shares loaded")
)

// maxKeyIDs bounds the key id space; participant identifiers are encoded in a single byte.
const maxKeyIDs = 255

// ShareStore persists finished DKG outputs. *keyshare.Manager satisfies it.
type ShareStore interface {
	StoreShare(s keyshare.Share) error
	LoadShares(keyIDs []uint32) ([]keyshare.Share, error)
}

// scheme bundles the FROST parameters shared by both engines.
type scheme struct {
	g         group.Group
	f         *fy.FROST
	threshold int
	total     int
	rand      io.Reader
}

func newScheme(keys *tss.PublicKeys, threshold int, r io.Reader) (*scheme, error) {
	if keys == nil {
		return nil, errors.New("public keys are required")
	}
	total := keys.TotalKeys()
	if total > maxKeyIDs {
		return nil, errors.Errorf("at most %d key ids are supported, got %d", maxKeyIDs, total)
	}
	for keyID := range keys.KeyIDs {
		if keyID > maxKeyIDs {
			return nil, errors.Errorf("key id %d out of range", keyID)
		}
	}
	g := &bjj.BJJ{}
	f, err := fy.New(g, threshold, total)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid threshold %d of %d", threshold, total)
	}
	if r == nil {
		r = rand.Reader
	}
	return &scheme{g: g, f: f, threshold: threshold, total: total, rand: r}, nil
}

// scalarID returns the FROST identifier of a one-based key id.
func (s *scheme) scalarID(keyID uint32) group.Scalar {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint32(buf[28:], keyID)
	id, _ := s.g.NewScalar().SetBytes(buf)
	return id
}

func (s *scheme) point(b []byte) (group.Point, error) {
	p, err := s.g.NewPoint().SetBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "invalid point")
	}
	return p, nil
}

func (s *scheme) scalar(b []byte) (group.Scalar, error) {
	if len(b) != 32 {
		return nil, errors.Errorf("invalid scalar length %d", len(b))
	}
	v, err := s.g.NewScalar().SetBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "invalid scalar")
	}
	return v, nil
}

func (s *scheme) points(raw [][]byte) ([]group.Point, error) {
	out := make([]group.Point, len(raw))
	for i, b := range raw {
		p, err := s.point(b)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func pointBytes(ps []group.Point) [][]byte {
	out := make([][]byte, len(ps))
	for i, p := range ps {
		out[i] = p.Bytes()
	}
	return out
}

// sumCommitments sums the constant-term commitments of every key id.
func (s *scheme) sumCommitments(comms map[uint32][]group.Point) group.Point {
	acc := s.g.NewPoint()
	for _, keyID := range sortedKeys(comms) {
		acc = s.g.NewPoint().Add(acc, comms[keyID][0])
	}
	return acc
}

func (s *scheme) toKeyShare(ks keyshare.Share) (*fy.KeyShare, error) {
	secret, err := s.scalar(ks.SecretKey)
	if err != nil {
		return nil, err
	}
	pub, err := s.point(ks.PublicKey)
	if err != nil {
		return nil, err
	}
	gk, err := s.point(ks.GroupKey)
	if err != nil {
		return nil, err
	}
	return &fy.KeyShare{ID: s.scalarID(ks.KeyID), SecretKey: secret, PublicKey: pub, GroupKey: gk}, nil
}

// SigningMessage returns the bytes actually signed for a request. Taproot
// rounds commit to the script tree by signing a tagged hash of the merkle
// root and the message.
func SigningMessage(message []byte, isTaproot bool, merkleRoot []byte) []byte {
	if !isTaproot {
		return message
	}
	tag := sha256.Sum256([]byte("TapTweak/psigner"))
	h := sha256.New()
	h.Write(tag[:])
	h.Write(tag[:])
	h.Write(merkleRoot)
	h.Write(message)
	return h.Sum(nil)
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func merkleBytes(root *[32]byte) []byte {
	if root == nil {
		return nil
	}
	return append([]byte(nil), root[:]...)
}
