package stats

import "sync/atomic"

// Entry is one slot of the observation ring: a histogram plus the start tick
// of the interval it accounts for, and a single-shot reset token.
type Entry struct {
	Hist   Histogram
	istamp atomic.Uint64 // start tick of the interval this entry covers
	reset  atomic.Int32  // single-shot token, 1 means armed
}

// Init arms the entry with the initial bucket layout.
func (e *Entry) Init(istamp uint64) {
	e.Hist.Init()
	e.istamp.Store(istamp)
	e.reset.Store(1)
}

// IntervalStart returns the start tick of the interval the entry covers.
func (e *Entry) IntervalStart() uint64 { return e.istamp.Load() }

// CheckReset resets the entry if it is being reused for a new interval.
// Any number of producers and the calculating executor may race here; the
// token guarantees exactly one of them performs the zeroing. Updates landing
// while the reset is in progress may be lost, which is acceptable.
func (e *Entry) CheckReset(istamp uint64) {
	if e.istamp.Load() == istamp {
		return
	}

	if e.reset.Add(-1) != 0 {
		return
	}

	// The bucket layout survives: ranges stay adjusted to the response
	// times the server has actually shown.
	e.Hist.Reset()
	e.istamp.Store(istamp)
	e.reset.Store(1)
}

// Ring keeps the per-interval histograms that together cover the sliding
// time window. Entries are reused as the clock advances; an entry whose
// interval stamp is stale is reset on first touch in the new interval.
type Ring struct {
	ent      []Entry
	interval uint64 // interval length in ticks
	window   uint64 // interval * len(ent) ticks
}

// InitRing initializes rb with size entries of interval ticks each.
func (rb *Ring) InitRing(size int, interval uint64) {
	rb.ent = make([]Entry, size)
	rb.interval = interval
	rb.window = interval * uint64(size)

	for i := range rb.ent {
		rb.ent[i].Init(0)
	}
}

// Size returns the number of ring entries.
func (rb *Ring) Size() int { return len(rb.ent) }

// Interval returns the interval length in ticks.
func (rb *Ring) Interval() uint64 { return rb.interval }

// Window returns the window length in ticks.
func (rb *Ring) Window() uint64 { return rb.window }

// EntryAt returns the entry that accounts for tick t.
func (rb *Ring) EntryAt(t uint64) *Entry {
	return &rb.ent[(t/rb.interval)%uint64(len(rb.ent))]
}

// entryIndex returns the slot index for tick t.
func (rb *Ring) entryIndex(t uint64) int {
	return int((t / rb.interval) % uint64(len(rb.ent)))
}

// Record resets the entry covering tick t if needed and adds one sample.
// This is the producer-facing write path into the ring.
func (rb *Ring) Record(t uint64, rtt uint32) {
	e := rb.EntryAt(t)
	e.CheckReset(t - t%rb.interval)
	e.Hist.Update(rtt)
}

// Control memoizes per-window counters so that a recalculation can be
// skipped when nothing changed since the last one.
type Control struct {
	WindowStart uint64 // start tick of the window the published values are for
	EntryCnt    uint64 // hits in the current ring entry at last refresh
	TotalCnt    uint64 // hits within the window at last refresh
}

// Refresh brings ctl up to date for tick now and reports whether the
// percentiles need recalculation.
//
// When the window rolled since the last refresh the counters are rebuilt
// from scratch; otherwise they are advanced incrementally from the current
// entry's counter, and an unchanged counter short-circuits the whole
// recalculation unless a retry was requested.
func (rb *Ring) Refresh(ctl *Control, now uint64, recalc bool) bool {
	istart := now - now%rb.interval
	wstart := istart - rb.window
	centry := rb.entryIndex(now)

	if ctl.WindowStart != wstart {
		rb.ent[centry].CheckReset(istart)

		var total uint64
		for i := range rb.ent {
			total += rb.ent[i].Hist.TotalCount()
		}

		ctl.EntryCnt = rb.ent[centry].Hist.TotalCount()
		ctl.TotalCnt = total
		ctl.WindowStart = wstart

		return true
	}

	// Same window. Nothing to do if there were no updates since the
	// last calculation, unless an incomplete result wants a retry.
	entryCnt := rb.ent[centry].Hist.TotalCount()
	if ctl.EntryCnt == entryCnt {
		return recalc
	}

	ctl.TotalCnt += entryCnt - ctl.EntryCnt
	ctl.EntryCnt = entryCnt

	return true
}
