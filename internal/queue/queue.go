// Package queue implements the bounded single-consumer channels used for
// every cross-shard and shard-to-socket handoff. One generic Queue[T] (with
// its Producer[T] handles) serves each of them: decoded packet batches from
// Miot to its Shard, outbound packets from a Shard to a socket, and the
// inter-shard Message envelope. All share the same try_sends/try_recvs discipline and
// waker-on-drop notification so a consumer parked in its poller wakes up
// exactly once per producer that drops a non-empty handle.
package queue

import "sync/atomic"

// Status reports the outcome of a non-blocking batch operation.
type Status int

const (
	// Ok means every element in the batch was accepted (try_sends) or the
	// batch came back full (try_recvs).
	Ok Status = iota
	// Block means the queue is full (try_sends) or was drained before the
	// batch filled (try_recvs); the caller should retry on its next turn.
	Block
	// Disconnected means the peer side of the channel has gone away.
	Disconnected
)

// Waker is a one-shot wake-up signal attached to a consumer's poller.
// Multiple producer handles may share one Waker; Wake is safe to call from
// any goroutine and tolerates being called when nobody is listening.
type Waker struct {
	ch chan struct{}
}

// NewWaker creates a waker with room for exactly one pending notification;
// a waker that already has a pending wake drops further wakes (the consumer
// only needs to know "something happened", not how many times).
func NewWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Wake signals the waker. Safe to call more than once; redundant wakes are
// coalesced.
func (w *Waker) Wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// C returns the channel a poller selects on to observe wakes.
func (w *Waker) C() <-chan struct{} {
	return w.ch
}

// Queue is a bounded single-consumer channel of T with a shared waker and a
// closed flag observable by every producer handle.
type Queue[T any] struct {
	ch     chan T
	waker  *Waker
	closed atomic.Bool
}

// New creates a queue with the given capacity, woken via w whenever a
// producer handle is dropped having sent at least one item.
func New[T any](capacity int, w *Waker) *Queue[T] {
	return &Queue[T]{ch: make(chan T, capacity), waker: w}
}

// Producer is a cloneable handle to the send side. Each clone tracks its own
// send count and independently wakes the consumer when dropped (via Close)
// if it ever sent anything.
type Producer[T any] struct {
	q    *Queue[T]
	sent int
}

// NewProducer returns a fresh producer handle bound to q.
func NewProducer[T any](q *Queue[T]) *Producer[T] {
	return &Producer[T]{q: q}
}

// Clone returns an independent producer handle sharing the same queue, with
// its own zeroed send count.
func (p *Producer[T]) Clone() *Producer[T] {
	return &Producer[T]{q: p.q}
}

// TrySends attempts to push every element of batch in order. On the first
// element that cannot be pushed immediately (queue full) the remaining
// elements, including the one that failed, are returned alongside Block. If
// the queue has been closed, the remaining elements are returned alongside
// Disconnected.
func (p *Producer[T]) TrySends(batch []T) ([]T, Status) {
	for i, item := range batch {
		if p.q.closed.Load() {
			return batch[i:], Disconnected
		}
		select {
		case p.q.ch <- item:
			p.sent++
		default:
			return batch[i:], Block
		}
	}
	return nil, Ok
}

// Close drops this producer handle. If it ever sent an item, the consumer's
// waker fires exactly once.
func (p *Producer[T]) Close() {
	if p.sent > 0 && p.q.waker != nil {
		p.q.waker.Wake()
	}
	p.sent = 0
}

// CloseQueue marks q as disconnected; every Producer.TrySends call on it from
// this point on returns Disconnected, and TryRecvs drains whatever remains
// before reporting Disconnected itself.
func (q *Queue[T]) CloseQueue() {
	q.closed.Store(true)
}

// TryRecvs drains up to batchSize items. It returns Ok with a full batch,
// Block with a partial (possibly empty) batch once the queue is
// momentarily empty, or Disconnected with whatever was drained once the
// queue is both closed and empty.
func (q *Queue[T]) TryRecvs(batchSize int) ([]T, Status) {
	items := make([]T, 0, batchSize)
	for len(items) < batchSize {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return items, Disconnected
			}
			items = append(items, item)
		default:
			if q.closed.Load() && len(q.ch) == 0 {
				return items, Disconnected
			}
			if len(items) == batchSize {
				return items, Ok
			}
			return items, Block
		}
	}
	return items, Ok
}
