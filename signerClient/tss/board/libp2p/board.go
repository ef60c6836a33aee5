// Package libp2p implements the message board on top of libp2p streams. Every
// write is appended to the local inbox and pushed to all configured peers.
package libp2p

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/rs/zerolog"

	signererrors "github.com/pushchain/push-signer-node/signerClient/errors"
	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

const maxFrameSize = 4 << 20

// Board implements board.Board on top of libp2p.
type Board struct {
	cfg        Config
	host       host.Host
	protocolID protocol.ID
	inbox      *board.Inbox
	version    atomic.Uint64

	peerMu sync.RWMutex
	peers  map[peer.ID]peer.AddrInfo

	logger zerolog.Logger
}

var _ board.Board = (*Board)(nil)

// New creates a libp2p board and registers the configured peers.
func New(cfg Config, logger zerolog.Logger) (*Board, error) {
	cfg.setDefaults()

	priv, err := loadIdentity(cfg.PrivateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to load libp2p identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, err
	}

	b := &Board{
		cfg:        cfg,
		host:       h,
		protocolID: protocol.ID(cfg.ProtocolID),
		inbox:      board.NewInbox(),
		peers:      make(map[peer.ID]peer.AddrInfo),
		logger:     logger.With().Str("component", "board_libp2p").Logger(),
	}
	// Versions start at the wall clock so a restarted node is not mistaken for stale.
	b.version.Store(uint64(time.Now().UnixNano()))

	for _, p := range cfg.Peers {
		if err := b.AddPeer(p.ID, p.Addrs); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("peer %s: %w", p.ID, err)
		}
	}

	h.SetStreamHandler(b.protocolID, b.handleStream)
	return b, nil
}

// ID returns the local peer id.
func (b *Board) ID() string {
	return b.host.ID().String()
}

// ListenAddrs returns the addresses peers can dial, each with the /p2p suffix.
func (b *Board) ListenAddrs() []string {
	addrs := b.host.Addrs()
	var filtered []string
	for _, addr := range addrs {
		if isUnspecified(addr) {
			continue
		}
		filtered = append(filtered, addr.String()+"/p2p/"+b.host.ID().String())
	}
	if len(filtered) == 0 {
		out := make([]string, len(addrs))
		for i, addr := range addrs {
			out[i] = addr.String() + "/p2p/" + b.host.ID().String()
		}
		return out
	}
	return filtered
}

// AddPeer registers a remote board.
func (b *Board) AddPeer(peerID string, addrs []string) error {
	if peerID == "" || len(addrs) == 0 {
		return fmt.Errorf("libp2p board: invalid peer info")
	}
	id, err := peer.Decode(peerID)
	if err != nil {
		return err
	}
	multiaddrs, err := normalizeAddrs(addrs, id)
	if err != nil {
		return err
	}
	b.peerMu.Lock()
	b.peers[id] = peer.AddrInfo{ID: id, Addrs: multiaddrs}
	b.peerMu.Unlock()
	return nil
}

// SendMessage appends pkt to signerID's slot locally and pushes it to every
// peer. The write is accepted once it is stored locally; failed peers are
// reported in the returned error.
func (b *Board) SendMessage(ctx context.Context, signerID uint32, pkt wire.Packet) (board.Ack, error) {
	data, err := pkt.Encode()
	if err != nil {
		return board.Ack{SlotID: signerID}, err
	}
	chunk := board.Chunk{SlotID: signerID, Version: b.version.Add(1), Data: data}
	frame, err := wire.Marshal(chunk)
	if err != nil {
		return board.Ack{SlotID: signerID}, err
	}

	ack := board.Ack{SlotID: signerID, Version: chunk.Version, Accepted: b.inbox.Put(chunk)}

	b.peerMu.RLock()
	peers := make([]peer.AddrInfo, 0, len(b.peers))
	for _, info := range b.peers {
		peers = append(peers, info)
	}
	b.peerMu.RUnlock()

	var (
		mu     sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
	)
	for _, info := range peers {
		wg.Add(1)
		go func(info peer.AddrInfo) {
			defer wg.Done()
			if err := b.sendWithRetry(ctx, info, frame); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}(info)
	}
	wg.Wait()

	if err := result.ErrorOrNil(); err != nil {
		ack.Reason = err.Error()
		return ack, err
	}
	return ack, nil
}

func (b *Board) sendWithRetry(ctx context.Context, info peer.AddrInfo, frame []byte) error {
	cfg := &signererrors.RetryConfig{
		MaxAttempts:     b.cfg.SendAttempts,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		RetryableErrors: []signererrors.ErrorCode{signererrors.ErrCodeNetwork},
	}
	return signererrors.RetryWithConfig(ctx, func() error {
		if err := b.send(ctx, info, frame); err != nil {
			return signererrors.NewNetworkError("send to peer "+info.ID.String()+" failed", err)
		}
		return nil
	}, cfg)
}

func (b *Board) send(ctx context.Context, info peer.AddrInfo, payload []byte) error {
	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.DialTimeout)
	defer cancel()

	// libp2p reuses existing connections
	if err := b.host.Connect(dialCtx, info); err != nil {
		return fmt.Errorf("failed to connect to peer %s: %w", info.ID, err)
	}

	stream, err := b.host.NewStream(dialCtx, info.ID, b.protocolID)
	if err != nil {
		return fmt.Errorf("failed to create stream to peer %s: %w", info.ID, err)
	}
	defer stream.Close()

	if err := stream.SetWriteDeadline(time.Now().Add(b.cfg.IOTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := writeFramed(stream, payload); err != nil {
		return fmt.Errorf("failed to write payload to peer %s: %w", info.ID, err)
	}
	return nil
}

// NextEvent implements board.Board.
func (b *Board) NextEvent(ctx context.Context, timeout time.Duration) (*board.Event, error) {
	return b.inbox.Next(ctx, timeout)
}

// Close stops the host.
func (b *Board) Close() error {
	b.inbox.Close()
	return b.host.Close()
}

func (b *Board) handleStream(stream network.Stream) {
	defer stream.Close()
	remote := stream.Conn().RemotePeer()

	b.peerMu.RLock()
	_, known := b.peers[remote]
	b.peerMu.RUnlock()
	if !known {
		b.logger.Warn().Str("peer_id", remote.String()).Msg("dropping write from unknown peer")
		_ = stream.Reset()
		return
	}

	_ = stream.SetReadDeadline(time.Now().Add(b.cfg.IOTimeout))
	payload, err := readFramed(stream)
	if err != nil {
		b.logger.Warn().Err(err).Str("peer_id", remote.String()).Msg("libp2p read failed")
		return
	}

	var chunk board.Chunk
	if err := wire.Unmarshal(payload, &chunk); err != nil {
		b.logger.Warn().Err(err).Str("peer_id", remote.String()).Msg("malformed board write")
		return
	}
	if !b.inbox.Put(chunk) {
		b.logger.Debug().Uint32("slot_id", chunk.SlotID).Uint64("version", chunk.Version).Msg("dropped stale write")
	}
}

// GenerateIdentity returns a fresh base64 encoded libp2p identity key and its peer id.
func GenerateIdentity() (string, string, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return "", "", err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(raw), id.String(), nil
}

func loadIdentity(base64Key string) (crypto.PrivKey, error) {
	if base64Key == "" {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		return priv, err
	}
	raw, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, err
	}
	return crypto.UnmarshalPrivateKey(raw)
}

func writeFramed(w io.Writer, payload []byte) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

func readFramed(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var length uint32
	if err := binary.Read(br, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func normalizeAddrs(raw []string, expected peer.ID) ([]ma.Multiaddr, error) {
	var results []ma.Multiaddr
	for _, addr := range raw {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		if _, err := maddr.ValueForProtocol(ma.P_P2P); err == nil {
			info, err := peer.AddrInfoFromP2pAddr(maddr)
			if err != nil {
				return nil, err
			}
			if info.ID != expected {
				return nil, fmt.Errorf("multiaddr peer mismatch: expected %s got %s", expected, info.ID)
			}
			results = append(results, info.Addrs...)
			continue
		}
		results = append(results, maddr)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no usable addresses provided")
	}
	return results, nil
}

func isUnspecified(addr ma.Multiaddr) bool {
	if ip, err := manet.ToIP(addr); err == nil {
		return ip.IsUnspecified()
	}
	return false
}
