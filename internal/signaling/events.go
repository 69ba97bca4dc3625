package signaling

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

type eventKind uint8

const (
	evLocalCandidate eventKind = iota
	evSignalingState
	evConnectionState
)

// event is one engine callback, handed to the adapter loop.
type event struct {
	kind eventKind

	candidate *webrtc.ICECandidateInit // nil = end of gathering
	signaling webrtc.SignalingState
	conn      webrtc.PeerConnectionState
}

// eventQueue is an unbounded FIFO. push never blocks; it is called from
// pion's goroutines. Once closed it drops everything, since the engine
// outlives the loop that reads it.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	closed bool
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain takes every queued event in arrival order.
func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// close discards queued events and makes later pushes no-ops.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
