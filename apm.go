// Package apm maintains streaming approximate percentile statistics of
// backend response times for many tracked servers. Samples are recorded by
// any number of producers into lock-free per-shard queues; a single periodic
// executor rolls the sliding time window, recomputes the configured
// percentile vector and publishes it so that readers never block producers.
package apm

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/apm/internal/sentinel"
	"github.com/hyp3rd/apm/pkg/queue"
	"github.com/hyp3rd/apm/pkg/stats"
)

// Per-tracker flags. They are manipulated only by the calculating executor,
// so plain word access suffices.
const (
	flagRecalc     uint32 = 1 << iota // calculation came up short, retry next tick
	flagUpdateDone                    // tracker already queued for calculation this tick
)

// tickDuration is the fast retry delay used while any tracker still needs a
// recalculation.
const tickDuration = time.Millisecond

// wqItem is one queued response-time sample.
type wqItem struct {
	t   *Tracker
	ts  uint64 // ticks at sample time
	rtt uint32 // milliseconds
}

// Tracker is the per-server statistics state: the windowed ring of
// histograms, the memoized window control, the publisher of the latest
// percentile vector, and the executor-side queue linkage.
//
// A tracker stays alive while an ingest queue item references it, while it
// is linked on a calculation queue, or while an external owner holds it;
// the reference count covers all three.
type Tracker struct {
	ring stats.Ring
	ctl  stats.Control
	pub  *stats.Publisher

	elem   *list.Element // linkage in qcalc or qrecalc, executor-owned
	flags  uint32
	refcnt atomic.Int64
	name   string
}

// Name returns the server name the tracker was registered under, if any.
func (t *Tracker) Name() string { return t.name }

func (t *Tracker) get() { t.refcnt.Add(1) }

// Monitor owns the tracked servers, the ingest queues and the periodic
// calculation executor.
type Monitor struct {
	cfg      *Config
	clock    Clock
	interval uint64 // ticks
	scale    int

	queues *queue.Sharded[wqItem]
	reg    *trackerMap

	// qcalc holds trackers with fresh samples awaiting calculation;
	// qrecalc holds trackers whose last calculation came up short.
	// Both are touched only by the executor.
	qcalc   *list.List
	qrecalc *list.List
	scratch *stats.PercentileStats

	pool sync.Pool

	mu      sync.Mutex
	started bool
	rearm   atomic.Bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a monitor from the given options. The configuration,
// including the percentile rank set, is frozen here.
func New(options ...Option) (*Monitor, error) {
	cfg := NewConfig()
	ApplyOptions(cfg, options...)

	interval, err := cfg.validate()
	if err != nil {
		return nil, ewrap.Wrap(err, "apm: invalid configuration")
	}

	if cfg.Clock == nil {
		cfg.Clock = NewMonotonicClock()
	}

	m := &Monitor{
		cfg:      cfg,
		clock:    cfg.Clock,
		interval: interval,
		scale:    cfg.Scale,
		queues:   queue.NewSharded[wqItem](cfg.QueueShards, cfg.QueueCapacity),
		reg:      newTrackerMap(),
		qcalc:    list.New(),
		qrecalc:  list.New(),
		scratch:  stats.NewPercentileStats(cfg.Percentiles),
	}
	m.pool.New = func() any { return &Tracker{} }

	return m, nil
}

// Start launches the periodic calculation executor.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return sentinel.ErrAlreadyStarted
	}

	m.started = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.rearm.Store(true)

	go m.run()

	return nil
}

// Stop shuts the monitor down in two phases: it disarms and waits out the
// timer, then drains all ingest queues and the retry queue, dropping the
// references they hold. Trackers held by external owners stay usable for
// queries; no further calculations happen.
func (m *Monitor) Stop() {
	m.mu.Lock()

	if !m.started {
		m.mu.Unlock()

		return
	}

	m.started = false
	m.mu.Unlock()

	m.rearm.Store(false)
	close(m.stopCh)
	<-m.done

	m.queues.Drain(func(it wqItem) { m.put(it.t) })

	for e := m.qrecalc.Front(); e != nil; {
		next := e.Next()
		t, _ := e.Value.(*Tracker)
		m.qrecalc.Remove(e)
		t.elem = nil
		m.put(t)

		e = next
	}

	if m.qcalc.Len() != 0 {
		panic("apm: calculation queue not empty on stop")
	}
}

// run is the timer loop. There is exactly one executor; all queue drains
// and calculations happen on it.
func (m *Monitor) run() {
	defer close(m.done)

	timer := time.NewTimer(m.cfg.TimerPeriod)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			next := m.tick()
			if !m.rearm.Load() {
				return
			}

			timer.Reset(next)
		case <-m.stopCh:
			return
		}
	}
}

// tick drains every ingest queue shard into the per-server rings, then
// recalculates the percentiles of every server that received samples.
// It returns the delay until the next tick: the regular period, or a
// single tick when some tracker still needs a recalculation, in
// anticipation of more samples for it arriving shortly.
func (m *Monitor) tick() time.Duration {
	// Samples are applied in queue order. A tracker is put on qcalc only
	// once per tick; a tracker waiting on qrecalc is pulled back to qcalc
	// the moment it sees a fresh sample, since a recalculation makes
	// sense only after new data.
	m.queues.Drain(func(it wqItem) {
		t := it.t
		t.ring.Record(it.ts, it.rtt)

		if t.flags&flagUpdateDone != 0 {
			m.put(t)

			return
		}

		if t.elem != nil {
			// Drop the retry queue's reference; the sample's own one now
			// covers the qcalc linkage.
			m.qrecalc.Remove(t.elem)
			t.elem = nil
			m.put(t)
		}

		t.flags |= flagUpdateDone
		t.elem = m.qcalc.PushBack(t)
	})

	for e := m.qcalc.Front(); e != nil; {
		next := e.Next()
		t, _ := e.Value.(*Tracker)
		m.qcalc.Remove(e)
		t.elem = nil
		t.flags &^= flagUpdateDone

		if m.calc(t) != 0 {
			t.elem = m.qrecalc.PushBack(t)
		} else {
			m.put(t)
		}

		e = next
	}

	if m.qrecalc.Len() != 0 {
		return tickDuration
	}

	return m.cfg.TimerPeriod
}

// calc refreshes the window control and, when needed, recomputes and
// publishes the percentile vector for t. It returns 0 on a complete pass
// and the number of filled slots when the calculation came up short.
func (m *Monitor) calc(t *Tracker) int {
	recalc := t.flags&flagRecalc != 0
	t.flags &^= flagRecalc

	if !t.ring.Refresh(&t.ctl, m.clock.Now(), recalc) {
		return 0
	}

	ps := m.scratch

	nfilled := stats.Calc(&t.ring, &t.ctl, ps)
	if nfilled < len(ps.Val) {
		// The bucket sums ran short of the window total; retry on the
		// next tick once more samples have landed.
		t.flags |= flagRecalc

		return nfilled % len(ps.Val)
	}

	t.pub.Publish(ps.Val)

	return 0
}

// put releases one reference and recycles the tracker once the last one is
// gone.
func (m *Monitor) put(t *Tracker) {
	if t.refcnt.Add(-1) == 0 {
		t.name = ""
		m.pool.Put(t)
	}
}

// Create allocates a tracker for one server. The caller owns the returned
// reference and must release it with Destroy.
func (m *Monitor) Create() (*Tracker, error) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil, sentinel.ErrNotStarted
	}

	t, _ := m.pool.Get().(*Tracker)
	t.ring.InitRing(m.scale, m.interval)
	t.ctl = stats.Control{}
	t.pub = stats.NewPublisher(len(m.cfg.Percentiles) + stats.IdxIth)
	t.flags = 0
	t.elem = nil
	t.refcnt.Store(1)

	return t, nil
}

// Destroy releases the caller's reference on t. The tracker is recycled
// once all in-flight queue items referencing it have drained.
func (m *Monitor) Destroy(t *Tracker) {
	if t != nil {
		m.put(t)
	}
}

// Update records one response-time sample for t, stamped with ts ticks.
// Samples above MaxRTT are dropped silently, as are samples arriving while
// the ingest queue shard is full; neither can stall the caller.
func (m *Monitor) Update(t *Tracker, ts uint64, rtt uint32) {
	if rtt > stats.MaxRTT {
		return
	}

	t.get()

	if !m.queues.Push(wqItem{t: t, ts: ts, rtt: rtt}) {
		m.put(t)
	}
}

// Query copies the latest published percentile vector for t into ps and
// reports whether it changed since the caller's previous query.
func (m *Monitor) Query(t *Tracker, ps *stats.PercentileStats) bool {
	return t.pub.Read(ps)
}

// QueryBH is the counterpart of Query for callers running in the softer
// execution context the original interface distinguished; the semantics
// are identical.
func (m *Monitor) QueryBH(t *Tracker, ps *stats.PercentileStats) bool {
	return t.pub.ReadBH(ps)
}

// VerifyStats checks that a request vector matches the globally configured
// percentile rank set. All stats consumers must use the same set.
func (m *Monitor) VerifyStats(ps *stats.PercentileStats) error {
	if len(ps.Ith) != len(m.cfg.Percentiles) {
		return ewrap.Wrapf(sentinel.ErrPercentileMismatch, "got %d ranks, want %d",
			len(ps.Ith), len(m.cfg.Percentiles))
	}

	for i, rank := range ps.Ith {
		if rank != m.cfg.Percentiles[i] {
			return ewrap.Wrapf(sentinel.ErrPercentileMismatch, "rank[%d] = %d, want %d",
				i, rank, m.cfg.Percentiles[i])
		}
	}

	return nil
}

// Percentiles returns the configured percentile rank set.
func (m *Monitor) Percentiles() []uint32 { return m.cfg.Percentiles }

// NewRequest builds a request vector matching the configured rank set.
func (m *Monitor) NewRequest() *stats.PercentileStats {
	return stats.NewPercentileStats(m.cfg.Percentiles)
}

// Track registers a server by name and creates its tracker.
func (m *Monitor) Track(_ context.Context, name string) error {
	if name == "" {
		return ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "name")
	}

	t, err := m.Create()
	if err != nil {
		return err
	}

	t.name = name

	if !m.reg.setIfAbsent(name, t) {
		m.Destroy(t)

		return ewrap.Wrap(sentinel.ErrServerAlreadyTracked, name)
	}

	return nil
}

// Forget unregisters a server and releases the registry's reference on its
// tracker.
func (m *Monitor) Forget(_ context.Context, name string) error {
	t, ok := m.reg.remove(name)
	if !ok {
		return ewrap.Wrap(sentinel.ErrServerNotTracked, name)
	}

	m.Destroy(t)

	return nil
}

// Record stores one response-time sample for a tracked server, stamped with
// the current tick.
func (m *Monitor) Record(_ context.Context, name string, rtt time.Duration) error {
	t, ok := m.reg.get(name)
	if !ok {
		return ewrap.Wrap(sentinel.ErrServerNotTracked, name)
	}

	ms := rtt.Milliseconds()
	if ms < 0 {
		return nil
	}

	if ms > stats.MaxRTT {
		// Out of the accountable range; dropped by Update as well, cut
		// the conversion short.
		return nil
	}

	m.Update(t, m.clock.Now(), uint32(ms))

	return nil
}

// Stats fills ps with the latest published vector for a tracked server and
// reports whether it changed since the caller's previous read.
func (m *Monitor) Stats(_ context.Context, name string, ps *stats.PercentileStats) (bool, error) {
	t, ok := m.reg.get(name)
	if !ok {
		return false, ewrap.Wrap(sentinel.ErrServerNotTracked, name)
	}

	if err := m.VerifyStats(ps); err != nil {
		return false, err
	}

	return m.Query(t, ps), nil
}

// Snapshot returns an export-friendly view of a tracked server's latest
// published vector.
func (m *Monitor) Snapshot(ctx context.Context, name string) (*stats.Snapshot, error) {
	ps := m.NewRequest()

	if _, err := m.Stats(ctx, name, ps); err != nil {
		return nil, err
	}

	return stats.MakeSnapshot(name, ps), nil
}

// Servers returns the names of all tracked servers.
func (m *Monitor) Servers(_ context.Context) []string {
	return m.reg.names()
}
