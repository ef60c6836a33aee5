// Package board defines the shared append-only message board the signers
// exchange protocol packets over.
package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pushchain/push-signer-node/signerClient/tss/wire"
)

// ErrClosed is returned by a board after Close.
var ErrClosed = errors.New("board closed")

// Chunk is one write to a signer's slot. Versions grow with every write.
type Chunk struct {
	SlotID  uint32 `cbor:"1,keyasint"`
	Version uint64 `cbor:"2,keyasint"`
	Data    []byte `cbor:"3,keyasint"`
}

// Event is the batch of writes that arrived since the previous event.
type Event struct {
	ModifiedSlots []Chunk
}

// Ack acknowledges a write.
type Ack struct {
	SlotID   uint32
	Version  uint64
	Accepted bool
	Reason   string
}

// Board accepts outbound packets and yields batches of inbound writes.
// A node's own writes come back to it through NextEvent.
type Board interface {
	SendMessage(ctx context.Context, signerID uint32, pkt wire.Packet) (Ack, error)
	// NextEvent waits up to timeout for new writes. It returns a nil event
	// when nothing arrived in time.
	NextEvent(ctx context.Context, timeout time.Duration) (*Event, error)
	Close() error
}

// Inbox buffers inbound writes until the next NextEvent call. Writes that are
// not newer than the last accepted version of their slot are dropped.
type Inbox struct {
	mu      sync.Mutex
	pending []Chunk
	seen    map[uint32]uint64
	notify  chan struct{}
	closed  bool
}

// NewInbox returns an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		seen:   make(map[uint32]uint64),
		notify: make(chan struct{}, 1),
	}
}

// Put appends a write and reports whether it was accepted.
func (i *Inbox) Put(c Chunk) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return false
	}
	if last, ok := i.seen[c.SlotID]; ok && c.Version <= last {
		return false
	}
	i.seen[c.SlotID] = c.Version
	i.pending = append(i.pending, c)
	select {
	case i.notify <- struct{}{}:
	default:
	}
	return true
}

// Next returns every pending write, waiting up to timeout for the first.
func (i *Inbox) Next(ctx context.Context, timeout time.Duration) (*Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if ev, err := i.take(); ev != nil || err != nil {
			return ev, err
		}
		select {
		case <-i.notify:
		case <-timer.C:
			return i.take()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (i *Inbox) take() (*Event, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrClosed
	}
	if len(i.pending) == 0 {
		return nil, nil
	}
	ev := &Event{ModifiedSlots: i.pending}
	i.pending = nil
	return ev, nil
}

// Close wakes any waiter; later calls to Next return ErrClosed.
func (i *Inbox) Close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()
	select {
	case i.notify <- struct{}{}:
	default:
	}
}
