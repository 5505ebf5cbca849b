package stats

import (
	"sync"
	"sync/atomic"
)

// slotEntry is one of the two published value vectors with its lock.
type slotEntry struct {
	val []uint32
	mu  sync.RWMutex
}

// Publisher hands computed percentile vectors from the single calculating
// executor to any number of readers in a flip-flop manner.
//
// Readers copy from asent[rdidx%2]; the writer fills asent[(rdidx+1)%2] and
// then increments rdidx. The writer never conflicts with itself since there
// is only one, producers never block on readers, and readers serialize only
// against one short in-place copy of a small vector.
type Publisher struct {
	asent [2]slotEntry
	rdidx atomic.Uint64
}

// NewPublisher creates a publisher for result vectors of size values.
func NewPublisher(size int) *Publisher {
	p := &Publisher{}
	p.asent[0].val = make([]uint32, size)
	p.asent[1].val = make([]uint32, size)

	return p
}

// Publish stores a freshly computed vector and makes it the one readers
// observe. Only the calculating executor may call it.
func (p *Publisher) Publish(val []uint32) {
	s := &p.asent[(p.rdidx.Load()+1)%2]

	s.mu.Lock()
	copy(s.val, val)
	p.rdidx.Add(1)
	s.mu.Unlock()
}

// Read copies the latest published vector into ps.Val and reports whether
// it changed since the caller's previous read, as witnessed by ps.Seq.
func (p *Publisher) Read(ps *PercentileStats) bool {
	seq := ps.Seq

	rdidx := p.rdidx.Load()
	s := &p.asent[rdidx%2]

	s.mu.RLock()
	copy(ps.Val, s.val)
	s.mu.RUnlock()

	ps.Seq = rdidx

	return seq != rdidx
}

// ReadBH is the variant of Read for callers running in a context that the
// original split off under a different lock flavor; both flavors collapse
// to the same lock here and the semantics are identical.
func (p *Publisher) ReadBH(ps *PercentileStats) bool {
	return p.Read(ps)
}
