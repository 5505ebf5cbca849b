package stats

import (
	"sync"
	"testing"

	"github.com/longbridgeapp/assert"
)

func TestPublisher_FlipFlop(t *testing.T) {
	p := NewPublisher(5)

	ps := NewPercentileStats([]uint32{50, 99})

	// Nothing published yet: the zero vector is observed as unchanged.
	assert.False(t, p.Read(ps))

	p.Publish([]uint32{1, 10, 5, 4, 9})

	assert.True(t, p.Read(ps))
	assert.Equal(t, uint32(1), ps.Val[IdxMin])
	assert.Equal(t, uint32(10), ps.Val[IdxMax])

	// Re-reading between publishes reports no change.
	assert.False(t, p.Read(ps))
	assert.False(t, p.ReadBH(ps))

	// Two publishes while the reader is away: one changed read returning
	// the second vector, then unchanged again.
	p.Publish([]uint32{2, 20, 6, 5, 18})
	p.Publish([]uint32{3, 30, 7, 6, 27})

	assert.True(t, p.Read(ps))
	assert.Equal(t, uint32(3), ps.Val[IdxMin])
	assert.Equal(t, uint32(30), ps.Val[IdxMax])
	assert.Equal(t, uint32(27), ps.Val[IdxIth+1])

	assert.False(t, p.Read(ps))
}

func TestPublisher_IndependentReaders(t *testing.T) {
	p := NewPublisher(4)

	p.Publish([]uint32{1, 2, 3, 4})

	psA := &PercentileStats{Ith: []uint32{50}, Val: make([]uint32, 4)}
	psB := &PercentileStats{Ith: []uint32{50}, Val: make([]uint32, 4)}

	// Each reader tracks its own sequence.
	assert.True(t, p.Read(psA))
	assert.True(t, p.Read(psB))
	assert.False(t, p.Read(psA))

	p.Publish([]uint32{5, 6, 7, 8})

	assert.True(t, p.Read(psB))
	assert.True(t, p.Read(psA))
}

func TestPublisher_ConcurrentReads(t *testing.T) {
	p := NewPublisher(4)

	stop := make(chan struct{})

	var wg sync.WaitGroup

	// Readers must always observe one published vector in full, never a
	// mix of two, while the single writer keeps flipping.
	for w := 0; w < 4; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ps := &PercentileStats{Ith: []uint32{50}, Val: make([]uint32, 4)}

			for {
				select {
				case <-stop:
					return
				default:
				}

				p.Read(ps)

				base := ps.Val[0]
				for i, v := range ps.Val {
					if base == 0 {
						assert.Equal(t, uint32(0), v)

						continue
					}

					assert.Equal(t, base+uint32(i), v)
				}
			}
		}()
	}

	for i := uint32(1); i <= 1000; i++ {
		p.Publish([]uint32{i, i + 1, i + 2, i + 3})
	}

	close(stop)
	wg.Wait()
}
