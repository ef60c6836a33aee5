package runloop

import (
	"github.com/ef-ds/deque"
)

// queued is a pending command together with its round id.
type queued struct {
	id       string
	cmd      Command
	attempts int
}

// commandQueue is the FIFO of pending commands. It is not safe for
// concurrent use; the run loop serialises access.
type commandQueue struct {
	queue          deque.Deque
	lengthObserver func(int)
}

func newCommandQueue(observer func(int)) *commandQueue {
	if observer == nil {
		observer = func(int) {}
	}
	return &commandQueue{lengthObserver: observer}
}

func (q *commandQueue) pushBack(item *queued) {
	q.queue.PushBack(item)
	q.lengthObserver(q.queue.Len())
}

// pushFront returns an item that could not be started to the head of the queue.
func (q *commandQueue) pushFront(item *queued) {
	q.queue.PushFront(item)
	q.lengthObserver(q.queue.Len())
}

func (q *commandQueue) popFront() (*queued, bool) {
	v, ok := q.queue.PopFront()
	if !ok {
		return nil, false
	}
	q.lengthObserver(q.queue.Len())
	return v.(*queued), true
}

func (q *commandQueue) front() (*queued, bool) {
	v, ok := q.queue.Front()
	if !ok {
		return nil, false
	}
	return v.(*queued), true
}

func (q *commandQueue) len() int {
	return q.queue.Len()
}
