// Package queue provides a bounded multi-producer/single-consumer queue for
// decoupling hot-path producers from a periodic consumer, plus a sharded
// wrapper that spreads producer contention the way per-CPU queues do.
//
// Slots carry sequence numbers: a producer claims a slot by advancing the
// enqueue cursor with a CAS, writes the payload, and publishes it by storing
// the slot's next sequence. The consumer observes the sequence, reads the
// payload and re-arms the slot one lap ahead. Push and Pop never block.
package queue

import "sync/atomic"

const cacheLine = 64

// slot is one ring cell. seq encodes the cell's state relative to the
// cursors: seq == pos means free for the producer claiming position pos,
// seq == pos+1 means the payload is visible to the consumer.
type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Queue is a bounded MPSC ring. Any number of goroutines may Push; exactly
// one goroutine may Pop. The cursors live on separate cache lines so
// producers and the consumer do not false-share.
type Queue[T any] struct {
	_    [cacheLine]byte
	enq  atomic.Uint64 // producer cursor
	_    [cacheLine - 8]byte
	deq  atomic.Uint64 // consumer cursor
	_    [cacheLine - 8]byte
	mask uint64
	step uint64
	buf  []slot[T]
}

// New creates a queue with the given capacity, which must be a positive
// power of two.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("queue: capacity must be >0 and a power of two")
	}

	q := &Queue[T]{
		mask: uint64(capacity - 1),
		step: uint64(capacity),
		buf:  make([]slot[T], capacity),
	}

	for i := range q.buf {
		q.buf[i].seq.Store(uint64(i))
	}

	return q
}

// Push enqueues v. It reports false when the queue is full; the caller is
// expected to drop the item.
func (q *Queue[T]) Push(v T) bool {
	for {
		pos := q.enq.Load()
		s := &q.buf[pos&q.mask]

		seq := s.seq.Load()
		switch {
		case seq == pos:
			if !q.enq.CompareAndSwap(pos, pos+1) {
				continue
			}

			s.val = v
			s.seq.Store(pos + 1)

			return true
		case seq < pos:
			// The slot is still one lap behind: the ring is full.
			return false
		}
		// Another producer claimed the slot between the loads; retry.
	}
}

// Pop dequeues the oldest item. It reports false when the queue is empty.
// Only the single consumer may call it.
func (q *Queue[T]) Pop() (T, bool) {
	pos := q.deq.Load()
	s := &q.buf[pos&q.mask]

	if s.seq.Load() != pos+1 {
		var zero T

		return zero, false
	}

	v := s.val
	s.seq.Store(pos + q.step)
	q.deq.Store(pos + 1)

	return v, true
}

// Sharded fans producers out over several independent MPSC rings, the
// user-space analogue of one queue per CPU. The single consumer drains all
// shards in turn.
type Sharded[T any] struct {
	shards []*Queue[T]
	next   atomic.Uint64 // producer shard rotation
}

// NewSharded creates shards queues of capacity items each. The shard count
// is rounded up to a power of two.
func NewSharded[T any](shards, capacity int) *Sharded[T] {
	if shards < 1 {
		shards = 1
	}

	n := 1
	for n < shards {
		n <<= 1
	}

	s := &Sharded[T]{shards: make([]*Queue[T], n)}
	for i := range s.shards {
		s.shards[i] = New[T](capacity)
	}

	return s
}

// Push enqueues v on one of the shards. It reports false when that shard is
// full.
func (s *Sharded[T]) Push(v T) bool {
	return s.shards[s.next.Add(1)&uint64(len(s.shards)-1)].Push(v)
}

// Shards returns the number of shards.
func (s *Sharded[T]) Shards() int { return len(s.shards) }

// Drain pops every pending item from every shard and hands it to fn. Only
// the single consumer may call it.
func (s *Sharded[T]) Drain(fn func(T)) {
	for _, q := range s.shards {
		for {
			v, ok := q.Pop()
			if !ok {
				break
			}

			fn(v)
		}
	}
}
