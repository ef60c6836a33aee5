package frost

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	fy "github.com/f3rmion/fy/frost"
	"github.com/f3rmion/fy/group"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/engine"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

// CoordinatorConfig configures a coordinator engine.
type CoordinatorConfig struct {
	Threshold  int
	Keys       *tss.PublicKeys
	MessageKey *secp256k1.PrivateKey
	Rand       io.Reader
	Logger     zerolog.Logger
}

type phase int

const (
	phaseIdle phase = iota
	phaseDkgPublic
	phaseDkgEnd
	phaseNonces
	phaseShares
)

// Coordinator is the coordinator engine. It sequences DKG and signing rounds
// and aggregates their results.
type Coordinator struct {
	*scheme
	keys *tss.PublicKeys
	priv *secp256k1.PrivateKey
	log  zerolog.Logger

	phase    phase
	dkgID    uint64
	signID   uint64
	iterID   uint64
	groupKey group.Point

	publicShares   map[uint32]*wire.DkgPublicShares
	dkgEnds        map[uint32]*wire.DkgEnd
	request        *wire.NonceRequest
	nonceResponses map[uint32]*wire.NonceResponse
	selected       []wire.NonceResponse
	shareResponses map[uint32]*wire.SignatureShareResponse
	failure        string
}

var (
	_ engine.CoordinatorEngine = (*Coordinator)(nil)
	_ engine.ParticipantEngine = (*Signer)(nil)
)

// NewCoordinator creates a coordinator engine.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	sc, err := newScheme(cfg.Keys, cfg.Threshold, cfg.Rand)
	if err != nil {
		return nil, err
	}
	if cfg.MessageKey == nil {
		return nil, errors.New("message key is required")
	}
	return &Coordinator{
		scheme: sc,
		keys:   cfg.Keys,
		priv:   cfg.MessageKey,
		log:    cfg.Logger.With().Str("component", "frost_coordinator").Logger(),
	}, nil
}

// StartDkg begins a new DKG round.
func (c *Coordinator) StartDkg() (wire.Packet, error) {
	if c.phase != phaseIdle {
		return wire.Packet{}, ErrRoundInProgress
	}
	c.Reset()
	c.dkgID++
	c.publicShares = make(map[uint32]*wire.DkgPublicShares)
	c.dkgEnds = make(map[uint32]*wire.DkgEnd)
	c.phase = phaseDkgPublic
	c.log.Info().Uint64("dkg_id", c.dkgID).Msg("starting dkg")
	return wire.SignPacket(&wire.DkgBegin{DkgID: c.dkgID}, c.priv)
}

// StartSigning begins a signing round over message with the current group key.
func (c *Coordinator) StartSigning(message []byte, isTaproot bool, merkleRoot *[32]byte) (wire.Packet, error) {
	if c.phase != phaseIdle {
		return wire.Packet{}, ErrRoundInProgress
	}
	if c.groupKey == nil {
		return wire.Packet{}, ErrNoGroupKey
	}
	if len(message) == 0 {
		return wire.Packet{}, ErrEmptyMessage
	}
	c.Reset()
	c.signID++
	c.iterID = 0
	c.request = &wire.NonceRequest{
		DkgID:      c.dkgID,
		SignID:     c.signID,
		SignIterID: c.iterID,
		Message:    append([]byte(nil), message...),
		IsTaproot:  isTaproot,
		MerkleRoot: merkleBytes(merkleRoot),
	}
	c.nonceResponses = make(map[uint32]*wire.NonceResponse)
	c.phase = phaseNonces
	c.log.Info().Uint64("sign_id", c.signID).Bool("taproot", isTaproot).Msg("starting signing round")
	return wire.SignPacket(c.request, c.priv)
}

// AggregatePublicKey returns the group key, or nil when none is known.
func (c *Coordinator) AggregatePublicKey() []byte {
	if c.groupKey == nil {
		return nil
	}
	return c.groupKey.Bytes()
}

// SetAggregatePublicKey installs a group key read from the ledger.
func (c *Coordinator) SetAggregatePublicKey(key []byte) {
	if len(key) == 0 {
		c.groupKey = nil
		return
	}
	p, err := c.point(key)
	if err != nil {
		c.log.Error().Err(err).Str("key", hex.EncodeToString(key)).Msg("ignoring malformed aggregate public key")
		return
	}
	c.groupKey = p
}

// Reset drops any in-flight round. Round counters and the group key survive.
func (c *Coordinator) Reset() {
	c.phase = phaseIdle
	c.publicShares = nil
	c.dkgEnds = nil
	c.request = nil
	c.nonceResponses = nil
	c.selected = nil
	c.shareResponses = nil
	c.failure = ""
}

// ProcessInboundMessages records the responses of the current round and
// returns the next request, or the round's result once it is complete.
func (c *Coordinator) ProcessInboundMessages(msgs []wire.Packet) ([]wire.Packet, []engine.OperationResult, error) {
	for _, pkt := range msgs {
		switch m := pkt.Msg.(type) {
		case *wire.DkgPublicShares:
			c.onPublicShares(m)
		case *wire.DkgEnd:
			c.onDkgEnd(m)
		case *wire.NonceResponse:
			c.onNonceResponse(m)
		case *wire.SignatureShareResponse:
			c.onShareResponse(m)
		}
	}

	var (
		out     []wire.Packet
		results []engine.OperationResult
	)
	for {
		msg, res := c.advance()
		if res != nil {
			results = append(results, *res)
		}
		if msg == nil {
			break
		}
		pkt, err := wire.SignPacket(msg, c.priv)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "sign %s", msg.Kind())
		}
		out = append(out, pkt)
	}
	return out, results, nil
}

func (c *Coordinator) fail(format string, args ...any) {
	if c.failure == "" {
		c.failure = fmt.Sprintf(format, args...)
	}
}

func (c *Coordinator) onPublicShares(m *wire.DkgPublicShares) {
	if c.phase != phaseDkgPublic || m.DkgID != c.dkgID {
		return
	}
	if _, seen := c.publicShares[m.SignerID]; seen {
		return
	}
	owned := c.keys.SignerKeyIDs[m.SignerID]
	if len(m.Comms) != len(owned) {
		c.fail("signer %d sent commitments for %d keys, expected %d", m.SignerID, len(m.Comms), len(owned))
		return
	}
	for i, comm := range m.Comms {
		if comm.KeyID != owned[i] || len(comm.Points) != c.threshold {
			c.fail("signer %d sent malformed commitments for key %d", m.SignerID, comm.KeyID)
			return
		}
		if _, err := c.points(comm.Points); err != nil {
			c.fail("signer %d: key %d: %v", m.SignerID, comm.KeyID, err)
			return
		}
	}
	c.publicShares[m.SignerID] = m
}

func (c *Coordinator) onDkgEnd(m *wire.DkgEnd) {
	if (c.phase != phaseDkgPublic && c.phase != phaseDkgEnd) || m.DkgID != c.dkgID {
		return
	}
	if _, seen := c.dkgEnds[m.SignerID]; !seen {
		c.dkgEnds[m.SignerID] = m
	}
}

func (c *Coordinator) onNonceResponse(m *wire.NonceResponse) {
	if c.phase != phaseNonces || m.SignID != c.signID || m.SignIterID != c.iterID {
		return
	}
	if _, seen := c.nonceResponses[m.SignerID]; seen {
		return
	}
	owned := c.keys.SignerKeyIDs[m.SignerID]
	if len(m.KeyIDs) != len(owned) || len(m.Nonces) != len(owned) {
		c.log.Warn().Uint32("signer_id", m.SignerID).Msg("nonce response does not cover the signer's keys")
		return
	}
	for i, keyID := range owned {
		if m.KeyIDs[i] != keyID || m.Nonces[i].KeyID != keyID {
			c.log.Warn().Uint32("signer_id", m.SignerID).Uint32("key_id", m.KeyIDs[i]).Msg("nonce response for foreign key")
			return
		}
	}
	if _, err := c.commitments([]wire.NonceResponse{*m}); err != nil {
		c.log.Warn().Err(err).Uint32("signer_id", m.SignerID).Msg("malformed nonce response")
		return
	}
	c.nonceResponses[m.SignerID] = m
}

func (c *Coordinator) onShareResponse(m *wire.SignatureShareResponse) {
	if c.phase != phaseShares || m.SignID != c.signID || m.SignIterID != c.iterID {
		return
	}
	if !c.isSelected(m.SignerID) {
		return
	}
	if _, seen := c.shareResponses[m.SignerID]; !seen {
		c.shareResponses[m.SignerID] = m
	}
}

func (c *Coordinator) isSelected(signerID uint32) bool {
	for _, r := range c.selected {
		if r.SignerID == signerID {
			return true
		}
	}
	return false
}

// advance moves the round forward by at most one step.
func (c *Coordinator) advance() (wire.Message, *engine.OperationResult) {
	switch c.phase {
	case phaseDkgPublic:
		if c.failure != "" {
			return nil, c.finishDkg(nil)
		}
		if len(c.publicShares) < len(c.keys.Signers) {
			return nil, nil
		}
		c.phase = phaseDkgEnd
		return &wire.DkgPrivateBegin{DkgID: c.dkgID}, nil

	case phaseDkgEnd:
		if len(c.dkgEnds) < len(c.keys.Signers) {
			return nil, nil
		}
		var reasons []string
		for _, id := range sortedKeys(c.dkgEnds) {
			if end := c.dkgEnds[id]; end.Status != wire.DkgStatusSuccess {
				reasons = append(reasons, fmt.Sprintf("signer %d: %s", id, end.Reason))
			}
		}
		if len(reasons) > 0 {
			c.fail("%s", strings.Join(reasons, "; "))
			return nil, c.finishDkg(nil)
		}
		comms := make(map[uint32][]group.Point, c.total)
		for _, ps := range c.publicShares {
			for _, comm := range ps.Comms {
				pts, _ := c.points(comm.Points)
				comms[comm.KeyID] = pts
			}
		}
		return nil, c.finishDkg(c.sumCommitments(comms))

	case phaseNonces:
		covered := 0
		for _, r := range c.nonceResponses {
			covered += len(r.KeyIDs)
		}
		if covered < c.threshold {
			return nil, nil
		}
		c.selected = c.selected[:0]
		covered = 0
		for _, id := range sortedKeys(c.nonceResponses) {
			if covered >= c.threshold {
				break
			}
			c.selected = append(c.selected, *c.nonceResponses[id])
			covered += len(c.nonceResponses[id].KeyIDs)
		}
		c.shareResponses = make(map[uint32]*wire.SignatureShareResponse)
		c.phase = phaseShares
		return &wire.SignatureShareRequest{
			DkgID:          c.request.DkgID,
			SignID:         c.signID,
			SignIterID:     c.iterID,
			NonceResponses: c.selected,
			Message:        c.request.Message,
			IsTaproot:      c.request.IsTaproot,
			MerkleRoot:     c.request.MerkleRoot,
		}, nil

	case phaseShares:
		if len(c.shareResponses) < len(c.selected) {
			return nil, nil
		}
		return nil, c.finishSign()
	}
	return nil, nil
}

func (c *Coordinator) finishDkg(groupKey group.Point) *engine.OperationResult {
	res := &engine.OperationResult{Kind: tss.ProtocolDkg, DkgID: c.dkgID}
	if c.failure != "" {
		res.Err = c.failure
		c.log.Error().Uint64("dkg_id", c.dkgID).Str("reason", c.failure).Msg("dkg round failed")
	} else {
		c.groupKey = groupKey
		res.GroupKey = groupKey.Bytes()
		c.log.Info().Uint64("dkg_id", c.dkgID).Str("group_key", hex.EncodeToString(res.GroupKey)).Msg("dkg round complete")
	}
	c.Reset()
	return res
}

func (c *Coordinator) finishSign() *engine.OperationResult {
	kind := tss.ProtocolSign
	if c.request.IsTaproot {
		kind = tss.ProtocolSignTaproot
	}
	res := &engine.OperationResult{Kind: kind, DkgID: c.request.DkgID, SignID: c.signID}
	sig, err := c.aggregate()
	if err != nil {
		res.Err = err.Error()
		c.log.Error().Err(err).Uint64("sign_id", c.signID).Msg("signing round failed")
	} else {
		res.Signature = &engine.Signature{R: sig.R.Bytes(), Z: sig.Z.Bytes()}
		c.log.Info().Uint64("sign_id", c.signID).Msg("signing round complete")
	}
	c.Reset()
	return res
}

func (c *Coordinator) aggregate() (*fy.Signature, error) {
	comms, err := c.commitments(c.selected)
	if err != nil {
		return nil, err
	}
	var shares []*fy.SignatureShare
	for _, r := range c.selected {
		resp := c.shareResponses[r.SignerID]
		if len(resp.Shares) != len(r.KeyIDs) {
			return nil, errors.Errorf("signer %d returned %d shares for %d keys", r.SignerID, len(resp.Shares), len(r.KeyIDs))
		}
		for i, sh := range resp.Shares {
			if sh.KeyID != r.KeyIDs[i] {
				return nil, errors.Errorf("signer %d returned a share for key %d", r.SignerID, sh.KeyID)
			}
			z, err := c.scalar(sh.Z)
			if err != nil {
				return nil, errors.Wrapf(err, "share for key %d", sh.KeyID)
			}
			shares = append(shares, &fy.SignatureShare{ID: c.scalarID(sh.KeyID), Z: z})
		}
	}
	msg := SigningMessage(c.request.Message, c.request.IsTaproot, c.request.MerkleRoot)
	sig, err := c.f.Aggregate(msg, commitmentList(comms), shares)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate")
	}
	if !c.f.Verify(msg, sig, c.groupKey) {
		return nil, errors.New("aggregated signature does not verify")
	}
	return sig, nil
}

// VerifySignature checks an aggregated signature against a group key.
func (c *Coordinator) VerifySignature(message []byte, isTaproot bool, merkleRoot []byte, sig engine.Signature, groupKey []byte) bool {
	gk, err := c.point(groupKey)
	if err != nil {
		return false
	}
	r, err := c.point(sig.R)
	if err != nil {
		return false
	}
	z, err := c.scalar(sig.Z)
	if err != nil {
		return false
	}
	return c.f.Verify(SigningMessage(message, isTaproot, merkleRoot), &fy.Signature{R: r, Z: z}, gk)
}
