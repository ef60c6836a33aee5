// Package memory is an in-process message board shared by every node joined
// to the same Network. It backs tests and single-process devnets.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

// Network links in-memory boards. Every write reaches every joined board,
// including the writer's own.
type Network struct {
	mu       sync.RWMutex
	boards   map[uint32]*Board
	versions map[uint32]uint64
	down     map[uint32]bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		boards:   make(map[uint32]*Board),
		versions: make(map[uint32]uint64),
		down:     make(map[uint32]bool),
	}
}

// Join returns the board of signerID, creating it on first use.
func (n *Network) Join(signerID uint32) *Board {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.boards[signerID]; ok {
		return b
	}
	b := &Board{id: signerID, net: n, inbox: board.NewInbox()}
	n.boards[signerID] = b
	return b
}

// SetDown makes writes from signerID fail until it is set back up.
func (n *Network) SetDown(signerID uint32, down bool) {
	n.mu.Lock()
	n.down[signerID] = down
	n.mu.Unlock()
}

func (n *Network) publish(c board.Chunk) (board.Ack, error) {
	n.mu.Lock()
	if n.down[c.SlotID] {
		n.mu.Unlock()
		return board.Ack{SlotID: c.SlotID, Reason: "unreachable"}, fmt.Errorf("memory board: signer %d is down", c.SlotID)
	}
	n.versions[c.SlotID]++
	c.Version = n.versions[c.SlotID]
	targets := make([]*Board, 0, len(n.boards))
	for _, b := range n.boards {
		targets = append(targets, b)
	}
	n.mu.Unlock()

	for _, b := range targets {
		b.inbox.Put(c)
	}
	return board.Ack{SlotID: c.SlotID, Version: c.Version, Accepted: true}, nil
}

// Board is one node's view of the network.
type Board struct {
	id    uint32
	net   *Network
	inbox *board.Inbox
}

var _ board.Board = (*Board)(nil)

// SendMessage writes pkt to signerID's slot.
func (b *Board) SendMessage(_ context.Context, signerID uint32, pkt wire.Packet) (board.Ack, error) {
	data, err := pkt.Encode()
	if err != nil {
		return board.Ack{SlotID: signerID}, err
	}
	return b.net.publish(board.Chunk{SlotID: signerID, Data: data})
}

// NextEvent implements board.Board.
func (b *Board) NextEvent(ctx context.Context, timeout time.Duration) (*board.Event, error) {
	return b.inbox.Next(ctx, timeout)
}

// Close detaches the board from the network.
func (b *Board) Close() error {
	b.net.mu.Lock()
	delete(b.net.boards, b.id)
	b.net.mu.Unlock()
	b.inbox.Close()
	return nil
}
