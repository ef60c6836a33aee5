package frost

import (
	"encoding/hex"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	fy "github.com/f3rmion/fy/frost"
	"github.com/f3rmion/fy/group"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/tss"
	"github.com/pushchain/push-signer-node/signerClient/tss/keyshare"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

// SignerConfig configures a participant engine.
type SignerConfig struct {
	SignerID uint32
	// KeyIDs are the zero-based key ids this signer owns.
	KeyIDs     []uint32
	Threshold  int
	Keys       *tss.PublicKeys
	MessageKey *secp256k1.PrivateKey
	Shares     ShareStore
	Rand       io.Reader
	Logger     zerolog.Logger
}

type signKey struct {
	signID uint64
	iterID uint64
}

type dkgState struct {
	id           uint64
	participants map[uint32]*fy.Participant
	comms        map[uint32][]group.Point
	pending      map[uint32]*wire.DkgPrivateShares
	applied      map[uint32]bool
	privateSent  bool
	ended        bool
	failure      string
}

// Signer is the participant engine. It answers coordinator requests for every
// key id the node owns.
type Signer struct {
	*scheme
	id     uint32
	keyIDs []uint32
	keys   *tss.PublicKeys
	priv   *secp256k1.PrivateKey
	store  ShareStore
	log    zerolog.Logger

	shares map[uint32]*fy.KeyShare
	dkg    *dkgState
	nonces map[signKey]map[uint32]*fy.SigningNonce
}

// NewSigner creates a participant engine and loads any key shares persisted
// by an earlier DKG round.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	sc, err := newScheme(cfg.Keys, cfg.Threshold, cfg.Rand)
	if err != nil {
		return nil, err
	}
	if cfg.MessageKey == nil {
		return nil, errors.New("message key is required")
	}
	own, ok := cfg.Keys.Signer(cfg.SignerID)
	if !ok {
		return nil, errors.Errorf("signer %d is not registered", cfg.SignerID)
	}
	if !own.IsEqual(cfg.MessageKey.PubKey()) {
		return nil, errors.Errorf("message key does not match the registered key of signer %d", cfg.SignerID)
	}
	if len(cfg.KeyIDs) == 0 {
		return nil, errors.Errorf("signer %d owns no key ids", cfg.SignerID)
	}

	keyIDs := make([]uint32, 0, len(cfg.KeyIDs))
	for _, k := range cfg.KeyIDs {
		keyID := k + 1
		if key, ok := cfg.Keys.KeyIDs[keyID]; !ok || !key.IsEqual(own) {
			return nil, errors.Errorf("key id %d is not owned by signer %d", keyID, cfg.SignerID)
		}
		keyIDs = append(keyIDs, keyID)
	}

	s := &Signer{
		scheme: sc,
		id:     cfg.SignerID,
		keyIDs: keyIDs,
		keys:   cfg.Keys,
		priv:   cfg.MessageKey,
		store:  cfg.Shares,
		log:    cfg.Logger.With().Str("component", "frost_signer").Uint32("signer_id", cfg.SignerID).Logger(),
		nonces: make(map[signKey]map[uint32]*fy.SigningNonce),
	}
	if err := s.loadShares(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Signer) loadShares() error {
	if s.store == nil {
		return nil
	}
	stored, err := s.store.LoadShares(s.keyIDs)
	if errors.Is(err, keyshare.ErrKeyshareNotFound) {
		s.log.Info().Msg("no key shares on disk, waiting for DKG")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load key shares")
	}
	shares := make(map[uint32]*fy.KeyShare, len(stored))
	for _, st := range stored {
		ks, err := s.toKeyShare(st)
		if err != nil {
			return errors.Wrapf(err, "key share %d", st.KeyID)
		}
		shares[st.KeyID] = ks
	}
	s.shares = shares
	s.log.Info().Int("shares", len(shares)).Str("group_key", hex.EncodeToString(s.GroupKey())).Msg("loaded key shares")
	return nil
}

// SignerID returns the participant id this engine signs as.
func (s *Signer) SignerID() uint32 { return s.id }

// PublicKeys returns the participant registry.
func (s *Signer) PublicKeys() *tss.PublicKeys { return s.keys }

// GroupKey returns the group key of the loaded shares, or nil before DKG.
func (s *Signer) GroupKey() []byte {
	for _, ks := range s.shares {
		return ks.GroupKey.Bytes()
	}
	return nil
}

// ProcessInboundMessages handles an authenticated batch. A message that
// cannot be handled is logged and skipped.
func (s *Signer) ProcessInboundMessages(msgs []wire.Packet) ([]wire.Packet, error) {
	var replies []wire.Message
	for _, pkt := range msgs {
		reply, err := s.handle(pkt.Msg)
		if err != nil {
			s.log.Warn().Err(err).Str("kind", pkt.Msg.Kind().String()).Msg("failed to handle message")
			continue
		}
		if reply != nil {
			replies = append(replies, reply)
		}
	}
	if end := s.advanceDkg(); end != nil {
		replies = append(replies, end)
	}

	out := make([]wire.Packet, 0, len(replies))
	for _, msg := range replies {
		pkt, err := wire.SignPacket(msg, s.priv)
		if err != nil {
			return nil, errors.Wrapf(err, "sign %s", msg.Kind())
		}
		out = append(out, pkt)
	}
	return out, nil
}

func (s *Signer) handle(msg wire.Message) (wire.Message, error) {
	switch m := msg.(type) {
	case *wire.DkgBegin:
		return s.onDkgBegin(m)
	case *wire.DkgPublicShares:
		return nil, s.onPublicShares(m)
	case *wire.DkgPrivateBegin:
		return s.onPrivateBegin(m)
	case *wire.DkgPrivateShares:
		s.onPrivateShares(m)
		return nil, nil
	case *wire.NonceRequest:
		return s.onNonceRequest(m)
	case *wire.SignatureShareRequest:
		return s.onShareRequest(m)
	default:
		return nil, nil
	}
}

func (s *Signer) onDkgBegin(m *wire.DkgBegin) (wire.Message, error) {
	if s.dkg != nil && s.dkg.id == m.DkgID {
		return nil, nil
	}
	st := &dkgState{
		id:           m.DkgID,
		participants: make(map[uint32]*fy.Participant, len(s.keyIDs)),
		comms:        make(map[uint32][]group.Point, s.total),
		pending:      make(map[uint32]*wire.DkgPrivateShares),
		applied:      make(map[uint32]bool),
	}
	reply := &wire.DkgPublicShares{DkgID: m.DkgID, SignerID: s.id}
	for _, keyID := range s.keyIDs {
		p, err := s.f.NewParticipant(s.rand, int(keyID))
		if err != nil {
			return nil, errors.Wrapf(err, "dkg participant for key %d", keyID)
		}
		st.participants[keyID] = p
		st.comms[keyID] = p.Round1Broadcast().Commitments
		reply.Comms = append(reply.Comms, wire.PolyCommitment{KeyID: keyID, Points: pointBytes(st.comms[keyID])})
	}
	s.dkg = st
	s.log.Info().Uint64("dkg_id", m.DkgID).Msg("dkg started")
	return reply, nil
}

func (s *Signer) ownsKey(signerID, keyID uint32) bool {
	for _, k := range s.keys.SignerKeyIDs[signerID] {
		if k == keyID {
			return true
		}
	}
	return false
}

func (s *Signer) onPublicShares(m *wire.DkgPublicShares) error {
	if s.dkg == nil || s.dkg.id != m.DkgID || m.SignerID == s.id {
		return nil
	}
	for _, c := range m.Comms {
		if !s.ownsKey(m.SignerID, c.KeyID) {
			return errors.Errorf("signer %d sent commitments for key %d it does not own", m.SignerID, c.KeyID)
		}
		if len(c.Points) != s.threshold {
			return errors.Errorf("key %d: expected %d commitments, got %d", c.KeyID, s.threshold, len(c.Points))
		}
		pts, err := s.points(c.Points)
		if err != nil {
			return errors.Wrapf(err, "key %d commitments", c.KeyID)
		}
		s.dkg.comms[c.KeyID] = pts
	}
	return nil
}

// shareBundle maps a source key id to destination key id to the encoded share.
type shareBundle map[uint32]map[uint32][]byte

func (s *Signer) onPrivateBegin(m *wire.DkgPrivateBegin) (wire.Message, error) {
	st := s.dkg
	if st == nil || st.id != m.DkgID || st.privateSent {
		return nil, nil
	}
	reply := &wire.DkgPrivateShares{DkgID: st.id, SignerID: s.id, Shares: make(map[uint32][]byte)}
	for _, dst := range s.keys.SignerIDs() {
		if dst == s.id {
			for _, src := range s.keyIDs {
				for _, to := range s.keyIDs {
					if src == to {
						continue
					}
					data := s.f.Round1PrivateSend(st.participants[src], int(to))
					if err := s.f.Round2ReceiveShare(st.participants[to], data, st.comms[src]); err != nil {
						return nil, errors.Wrapf(err, "local share %d -> %d", src, to)
					}
				}
			}
			continue
		}
		bundle := make(shareBundle, len(s.keyIDs))
		for _, src := range s.keyIDs {
			bundle[src] = make(map[uint32][]byte)
			for _, to := range s.keys.SignerKeyIDs[dst] {
				bundle[src][to] = s.f.Round1PrivateSend(st.participants[src], int(to)).Share.Bytes()
			}
		}
		plain, err := wire.Marshal(bundle)
		if err != nil {
			return nil, errors.Wrap(err, "encode share bundle")
		}
		peer, _ := s.keys.Signer(dst)
		sealed, err := sealShare(s.rand, s.priv, peer, st.id, s.id, dst, plain)
		if err != nil {
			return nil, errors.Wrapf(err, "seal shares for signer %d", dst)
		}
		reply.Shares[dst] = sealed
	}
	st.privateSent = true
	st.applied[s.id] = true
	return reply, nil
}

func (s *Signer) onPrivateShares(m *wire.DkgPrivateShares) {
	st := s.dkg
	if st == nil || st.id != m.DkgID || m.SignerID == s.id || st.applied[m.SignerID] {
		return
	}
	st.pending[m.SignerID] = m
}

// advanceDkg applies buffered private shares whose commitments are known and
// finalizes once every signer's shares are in.
func (s *Signer) advanceDkg() wire.Message {
	st := s.dkg
	if st == nil || st.ended {
		return nil
	}
	for _, from := range sortedKeys(st.pending) {
		if !s.haveCommitments(from) {
			continue
		}
		if err := s.applyShares(st.pending[from]); err != nil {
			s.log.Warn().Err(err).Uint32("from", from).Msg("rejected private shares")
			if st.failure == "" {
				st.failure = err.Error()
			}
		}
		delete(st.pending, from)
		st.applied[from] = true
	}
	if !st.privateSent || len(st.applied) < len(s.keys.Signers) {
		return nil
	}
	st.ended = true
	end := &wire.DkgEnd{DkgID: st.id, SignerID: s.id, Status: wire.DkgStatusSuccess}
	if st.failure == "" {
		if err := s.finalize(); err != nil {
			st.failure = err.Error()
		}
	}
	if st.failure != "" {
		end.Status = wire.DkgStatusFailure
		end.Reason = st.failure
		s.log.Error().Uint64("dkg_id", st.id).Str("reason", st.failure).Msg("dkg failed")
	}
	return end
}

func (s *Signer) haveCommitments(signerID uint32) bool {
	for _, keyID := range s.keys.SignerKeyIDs[signerID] {
		if _, ok := s.dkg.comms[keyID]; !ok {
			return false
		}
	}
	return true
}

func (s *Signer) applyShares(m *wire.DkgPrivateShares) error {
	st := s.dkg
	sealed, ok := m.Shares[s.id]
	if !ok {
		return errors.Errorf("signer %d sent no shares for us", m.SignerID)
	}
	peer, _ := s.keys.Signer(m.SignerID)
	plain, err := openShare(s.priv, peer, st.id, m.SignerID, s.id, sealed)
	if err != nil {
		return err
	}
	var bundle shareBundle
	if err := wire.Unmarshal(plain, &bundle); err != nil {
		return errors.Wrap(err, "decode share bundle")
	}
	srcs := s.keys.SignerKeyIDs[m.SignerID]
	if len(bundle) != len(srcs) {
		return errors.Errorf("signer %d sent shares for %d keys, expected %d", m.SignerID, len(bundle), len(srcs))
	}
	for _, src := range srcs {
		dsts, ok := bundle[src]
		if !ok || len(dsts) != len(s.keyIDs) {
			return errors.Errorf("signer %d sent an incomplete share set for key %d", m.SignerID, src)
		}
		for _, to := range s.keyIDs {
			raw, ok := dsts[to]
			if !ok {
				return errors.Errorf("missing share %d -> %d", src, to)
			}
			share, err := s.scalar(raw)
			if err != nil {
				return errors.Wrapf(err, "share %d -> %d", src, to)
			}
			data := &fy.Round1PrivateData{FromID: s.scalarID(src), ToID: s.scalarID(to), Share: share}
			if err := s.f.Round2ReceiveShare(st.participants[to], data, st.comms[src]); err != nil {
				return errors.Wrapf(err, "share %d -> %d", src, to)
			}
		}
	}
	return nil
}

func (s *Signer) finalize() error {
	st := s.dkg
	if len(st.comms) != s.total {
		return errors.Errorf("have commitments for %d of %d keys", len(st.comms), s.total)
	}
	broadcasts := make([]*fy.Round1Data, 0, s.total)
	for _, keyID := range sortedKeys(st.comms) {
		broadcasts = append(broadcasts, &fy.Round1Data{ID: s.scalarID(keyID), Commitments: st.comms[keyID]})
	}
	shares := make(map[uint32]*fy.KeyShare, len(s.keyIDs))
	for _, keyID := range s.keyIDs {
		ks, err := s.f.Finalize(st.participants[keyID], broadcasts)
		if err != nil {
			return errors.Wrapf(err, "finalize key %d", keyID)
		}
		shares[keyID] = ks
	}
	if s.store != nil {
		for _, keyID := range s.keyIDs {
			ks := shares[keyID]
			err := s.store.StoreShare(keyshare.Share{
				KeyID:     keyID,
				DkgID:     st.id,
				SecretKey: ks.SecretKey.Bytes(),
				PublicKey: ks.PublicKey.Bytes(),
				GroupKey:  ks.GroupKey.Bytes(),
			})
			if err != nil {
				return errors.Wrapf(err, "persist key share %d", keyID)
			}
		}
	}
	s.shares = shares
	s.log.Info().Uint64("dkg_id", st.id).Str("group_key", hex.EncodeToString(s.GroupKey())).Msg("dkg finished")
	return nil
}

func (s *Signer) onNonceRequest(m *wire.NonceRequest) (wire.Message, error) {
	if len(s.shares) == 0 {
		return nil, ErrNoShares
	}
	key := signKey{m.SignID, m.SignIterID}
	if _, answered := s.nonces[key]; answered {
		return nil, nil
	}
	nonces := make(map[uint32]*fy.SigningNonce, len(s.keyIDs))
	reply := &wire.NonceResponse{
		DkgID:      m.DkgID,
		SignID:     m.SignID,
		SignIterID: m.SignIterID,
		SignerID:   s.id,
		KeyIDs:     s.keyIDs,
		Message:    m.Message,
	}
	for _, keyID := range s.keyIDs {
		nonce, comm, err := s.f.SignRound1(s.rand, s.shares[keyID])
		if err != nil {
			return nil, errors.Wrapf(err, "nonce for key %d", keyID)
		}
		nonces[keyID] = nonce
		reply.Nonces = append(reply.Nonces, wire.NonceCommitment{
			KeyID:   keyID,
			Hiding:  comm.HidingPoint.Bytes(),
			Binding: comm.BindingPoint.Bytes(),
		})
	}
	// Only the latest request's nonces are kept; each nonce signs at most once.
	s.nonces = map[signKey]map[uint32]*fy.SigningNonce{key: nonces}
	return reply, nil
}

func (s *Signer) onShareRequest(m *wire.SignatureShareRequest) (wire.Message, error) {
	key := signKey{m.SignID, m.SignIterID}
	nonces, ok := s.nonces[key]
	if !ok {
		return nil, nil
	}
	selected := false
	for _, r := range m.NonceResponses {
		if r.SignerID == s.id {
			selected = true
			break
		}
	}
	if !selected {
		return nil, nil
	}
	comms, err := s.commitments(m.NonceResponses)
	if err != nil {
		return nil, err
	}
	for _, keyID := range s.keyIDs {
		c, ok := comms[keyID]
		if !ok || !c.HidingPoint.Equal(s.g.NewPoint().ScalarMult(nonces[keyID].D, s.g.Generator())) {
			return nil, errors.Errorf("request carries a foreign nonce for key %d", keyID)
		}
	}
	list := commitmentList(comms)
	msg := SigningMessage(m.Message, m.IsTaproot, m.MerkleRoot)

	reply := &wire.SignatureShareResponse{DkgID: m.DkgID, SignID: m.SignID, SignIterID: m.SignIterID, SignerID: s.id}
	for _, keyID := range s.keyIDs {
		z, err := s.f.SignRound2(s.shares[keyID], nonces[keyID], msg, list)
		if err != nil {
			return nil, errors.Wrapf(err, "signature share for key %d", keyID)
		}
		reply.Shares = append(reply.Shares, wire.SignatureShare{KeyID: keyID, Z: z.Z.Bytes()})
	}
	delete(s.nonces, key)
	return reply, nil
}

// commitments decodes the nonce commitments of every selected signer, keyed by key id.
func (s *scheme) commitments(responses []wire.NonceResponse) (map[uint32]*fy.SigningCommitment, error) {
	out := make(map[uint32]*fy.SigningCommitment)
	for _, r := range responses {
		for _, n := range r.Nonces {
			if _, dup := out[n.KeyID]; dup {
				return nil, errors.Errorf("duplicate nonce for key %d", n.KeyID)
			}
			hiding, err := s.point(n.Hiding)
			if err != nil {
				return nil, errors.Wrapf(err, "hiding nonce for key %d", n.KeyID)
			}
			binding, err := s.point(n.Binding)
			if err != nil {
				return nil, errors.Wrapf(err, "binding nonce for key %d", n.KeyID)
			}
			out[n.KeyID] = &fy.SigningCommitment{ID: s.scalarID(n.KeyID), HidingPoint: hiding, BindingPoint: binding}
		}
	}
	return out, nil
}

// commitmentList orders commitments by key id so every party hashes the same list.
func commitmentList(comms map[uint32]*fy.SigningCommitment) []*fy.SigningCommitment {
	list := make([]*fy.SigningCommitment, 0, len(comms))
	for _, keyID := range sortedKeys(comms) {
		list = append(list, comms[keyID])
	}
	return list
}
