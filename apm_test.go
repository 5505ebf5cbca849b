package apm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/apm/internal/sentinel"
	"github.com/hyp3rd/apm/pkg/stats"
)

// fakeClock is a hand-driven tick source for deterministic tests.
type fakeClock struct {
	ticks atomic.Uint64
}

func (c *fakeClock) Now() uint64 { return c.ticks.Load() }

func (c *fakeClock) advance(d time.Duration) {
	c.ticks.Add(uint64(d / time.Millisecond))
}

// newTestMonitor builds a started monitor whose timer never fires on its
// own; tests drive the executor by calling tick directly.
func newTestMonitor(t *testing.T, clk Clock) *Monitor {
	t.Helper()

	m, err := New(
		WithClock(clk),
		WithTimerPeriod(time.Hour),
		WithQueueShards(1),
		WithQueueCapacity(1024),
	)
	assert.Nil(t, err)
	assert.Nil(t, m.Start())

	return m
}

func TestMonitor_RecordAndStats(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{}
	m := newTestMonitor(t, clk)

	defer m.Stop()

	assert.Nil(t, m.Track(ctx, "backend-1"))

	// 1..50ms, twice each.
	for i := 0; i < 100; i++ {
		assert.Nil(t, m.Record(ctx, "backend-1", time.Duration(i%50+1)*time.Millisecond))
	}

	m.tick()

	ps := m.NewRequest()

	changed, err := m.Stats(ctx, "backend-1", ps)
	assert.Nil(t, err)
	assert.True(t, changed)

	assert.Equal(t, uint32(1), ps.Val[stats.IdxMin])
	assert.Equal(t, uint32(50), ps.Val[stats.IdxMax])
	assert.True(t, ps.Val[stats.IdxAvg] >= 24 && ps.Val[stats.IdxAvg] <= 26)

	p50 := ps.Val[stats.IdxIth]
	assert.True(t, p50 >= 23 && p50 <= 27, "p50 = %d", p50)

	// Nothing new happened: the same vector, reported unchanged.
	prev := append([]uint32(nil), ps.Val...)

	changed, err = m.Stats(ctx, "backend-1", ps)
	assert.Nil(t, err)
	assert.False(t, changed)
	assert.Equal(t, prev, ps.Val)

	// Fresh samples trigger a republish on the next tick.
	assert.Nil(t, m.Record(ctx, "backend-1", 60*time.Millisecond))
	m.tick()

	changed, _ = m.Stats(ctx, "backend-1", ps)
	assert.True(t, changed)
	assert.Equal(t, uint32(60), ps.Val[stats.IdxMax])
}

func TestMonitor_HandleLifecycle(t *testing.T) {
	clk := &fakeClock{}
	m := newTestMonitor(t, clk)

	defer m.Stop()

	tr, err := m.Create()
	assert.Nil(t, err)

	m.Update(tr, clk.Now(), 10)
	m.Update(tr, clk.Now(), 0x10000) // above MaxRTT: dropped silently
	m.tick()

	ps := m.NewRequest()
	assert.True(t, m.Query(tr, ps))
	assert.Equal(t, uint32(10), ps.Val[stats.IdxMin])
	assert.Equal(t, uint32(10), ps.Val[stats.IdxMax])
	assert.False(t, m.QueryBH(tr, ps))

	m.Destroy(tr)
}

func TestMonitor_TrackErrors(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{}
	m := newTestMonitor(t, clk)

	defer m.Stop()

	assert.Nil(t, m.Track(ctx, "backend-1"))

	err := m.Track(ctx, "backend-1")
	assert.True(t, errors.Is(err, sentinel.ErrServerAlreadyTracked))

	err = m.Track(ctx, "")
	assert.True(t, errors.Is(err, sentinel.ErrParamCannotBeEmpty))

	err = m.Record(ctx, "nobody", time.Millisecond)
	assert.True(t, errors.Is(err, sentinel.ErrServerNotTracked))

	err = m.Forget(ctx, "nobody")
	assert.True(t, errors.Is(err, sentinel.ErrServerNotTracked))

	assert.Nil(t, m.Forget(ctx, "backend-1"))
	assert.Equal(t, 0, len(m.Servers(ctx)))
}

func TestMonitor_VerifyStats(t *testing.T) {
	clk := &fakeClock{}
	m := newTestMonitor(t, clk)

	defer m.Stop()

	assert.Nil(t, m.VerifyStats(m.NewRequest()))

	err := m.VerifyStats(stats.NewPercentileStats([]uint32{50}))
	assert.True(t, errors.Is(err, sentinel.ErrPercentileMismatch))

	err = m.VerifyStats(stats.NewPercentileStats([]uint32{50, 75, 90, 95, 98}))
	assert.True(t, errors.Is(err, sentinel.ErrPercentileMismatch))
}

func TestMonitor_IncompleteCalcRetries(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{}
	m := newTestMonitor(t, clk)

	defer m.Stop()

	assert.Nil(t, m.Track(ctx, "backend-1"))
	assert.Nil(t, m.Record(ctx, "backend-1", 10*time.Millisecond))

	tr, ok := m.reg.get("backend-1")
	assert.True(t, ok)

	m.tick()
	assert.Equal(t, 0, m.qrecalc.Len())

	// Skew the memoized window total past the bucket sums, the way the
	// transient gap between a bucket increment and the total increment
	// can: the calculation comes up short, parks the tracker on the retry
	// queue and schedules the fast tick.
	assert.Nil(t, m.Record(ctx, "backend-1", 10*time.Millisecond))
	tr.ctl.TotalCnt += 100

	next := m.tick()
	assert.Equal(t, tickDuration, next)
	assert.Equal(t, 1, m.qrecalc.Len())
	assert.True(t, tr.flags&flagRecalc != 0)

	// The next window roll rebuilds the totals from the ring and the
	// retried calculation completes.
	clk.advance(61 * time.Second)
	assert.Nil(t, m.Record(ctx, "backend-1", 10*time.Millisecond))

	next = m.tick()
	assert.Equal(t, m.cfg.TimerPeriod, next)
	assert.Equal(t, 0, m.qrecalc.Len())

	ps := m.NewRequest()

	changed, err := m.Stats(ctx, "backend-1", ps)
	assert.Nil(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint32(10), ps.Val[stats.IdxIth])
}

func TestMonitor_WindowRoll(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{}
	m := newTestMonitor(t, clk)

	defer m.Stop()

	assert.Nil(t, m.Track(ctx, "backend-1"))
	assert.Nil(t, m.Record(ctx, "backend-1", 25*time.Millisecond))
	m.tick()

	ps := m.NewRequest()

	changed, _ := m.Stats(ctx, "backend-1", ps)
	assert.True(t, changed)

	// Keep a trickle of samples flowing while the window slides past the
	// original burst; the published max decays once the burst's entry is
	// recycled.
	for i := 0; i < 6; i++ {
		clk.advance(61 * time.Second)
		assert.Nil(t, m.Record(ctx, "backend-1", 5*time.Millisecond))
		m.tick()
	}

	changed, _ = m.Stats(ctx, "backend-1", ps)
	assert.True(t, changed)
	assert.Equal(t, uint32(5), ps.Val[stats.IdxMax])
}

func TestMonitor_StartStop(t *testing.T) {
	clk := &fakeClock{}

	m, err := New(WithClock(clk), WithQueueShards(1))
	assert.Nil(t, err)

	_, err = m.Create()
	assert.True(t, errors.Is(err, sentinel.ErrNotStarted))

	assert.Nil(t, m.Start())
	assert.True(t, errors.Is(m.Start(), sentinel.ErrAlreadyStarted))

	// Samples still queued at stop time are dropped with their references.
	tr, err := m.Create()
	assert.Nil(t, err)

	m.Update(tr, clk.Now(), 10)
	m.Stop()
	m.Stop() // idempotent

	assert.Equal(t, int64(1), tr.refcnt.Load())
	m.Destroy(tr)
}
