package stats

import "math"

// Slots of the result vector. The configured percentile values follow the
// three fixed aggregates.
const (
	IdxMin = 0
	IdxMax = 1
	IdxAvg = 2
	IdxIth = 3
)

// DefaultPercentiles is the percentile rank set used when none is
// configured.
var DefaultPercentiles = []uint32{50, 75, 90, 95, 99}

// PercentileStats is a caller-supplied request/result vector.
//
// Ith holds the requested percentile ranks in percent. Val must have
// len(Ith)+IdxIth slots; slot 0 receives the minimum, slot 1 the maximum,
// slot 2 the average, and slots from IdxIth the percentile values in rank
// order. Seq carries the publication sequence observed by the caller's last
// read and is used to report whether the values changed since.
type PercentileStats struct {
	Ith []uint32
	Val []uint32
	Seq uint64
}

// NewPercentileStats builds a request vector for the given rank set.
func NewPercentileStats(ith []uint32) *PercentileStats {
	return &PercentileStats{
		Ith: ith,
		Val: make([]uint32, len(ith)+IdxIth),
	}
}

// cursor walks one ring entry's buckets in ascending order of their
// response-time value. v holds the value of the bucket the cursor is
// parked on, or cursorDone when the entry is exhausted.
type cursor struct {
	v uint32
	i int // sequential bucket number across all ranges
	r int
	b int
}

const cursorDone = math.MaxUint32

// next advances the cursor to the first non-zero bucket at or after
// sequential position st.i. Bucket values ascend strictly across ranges
// because the partition is contiguous and non-overlapping.
func (st *cursor) next(h *Histogram) {
	i := st.i
	for r := i / NumBuckets; r < NumRanges; r++ {
		for b := i % NumBuckets; b < NumBuckets; b, i = b+1, i+1 {
			if h.BucketCount(r, b) == 0 {
				continue
			}

			st.v = h.BucketValue(r, b)
			st.i = i
			st.r = r
			st.b = b

			return
		}
	}

	st.v = cursorDone
	st.i = TotalBuckets
	st.r = NumRanges
	st.b = 0
}

// Calc computes the requested percentiles plus min/max/avg from the ring in
// a single k-way merge across the ring entries, and returns the number of
// result slots filled.
//
// tot_cnt and the bucket counters are updated by producers asynchronously
// and at slightly different times, so the sum of bucket hits can run short
// of ctl.TotalCnt. When that happens the merge exhausts all cursors before
// every target is reached and the result is only partially filled; the
// caller is expected to retry on the next timer tick.
func Calc(rb *Ring, ctl *Control, ps *PercentileStats) int {
	var cnt uint64

	st := make([]cursor, len(rb.ent))
	for i := range rb.ent {
		st[i].next(&rb.ent[i].Hist)
	}

	pval := make([]uint64, len(ps.Ith))

	p := IdxIth
	for i := range ps.Ith {
		pval[i] = ctl.TotalCnt * uint64(ps.Ith[i]) / 100
		if pval[i] == 0 {
			ps.Val[p] = 0
			p++
		}
	}

	for p < len(ps.Val) {
		vMin := uint32(cursorDone)
		for i := range st {
			if st[i].v < vMin {
				vMin = st[i].v
			}
		}

		if vMin == cursorDone {
			// Ran out of bucket hits before reaching the target:
			// the result is incomplete and can be used only partially.
			break
		}

		for i := range st {
			if st[i].v != vMin {
				continue
			}

			h := &rb.ent[i].Hist
			cnt += uint64(h.BucketCount(st[i].r, st[i].b))
			st[i].i++
			st[i].next(h)
		}

		for ; p < len(ps.Val) && pval[p-IdxIth] <= cnt; p++ {
			ps.Val[p] = vMin
		}
	}

	var totCnt, totVal uint64

	minVal := uint32(math.MaxUint32)

	var maxVal uint32

	for i := range rb.ent {
		h := &rb.ent[i].Hist
		if v := h.Min(); v < minVal {
			minVal = v
		}

		if v := h.Max(); v > maxVal {
			maxVal = v
		}

		totCnt += h.TotalCount()
		totVal += h.TotalValue()
	}

	ps.Val[IdxMin] = minVal
	ps.Val[IdxMax] = maxVal
	ps.Val[IdxAvg] = 0

	if totCnt > 0 {
		ps.Val[IdxAvg] = uint32(totVal / totCnt)
	}

	return p
}

// PercentileValue is one rank/value pair of a snapshot.
type PercentileValue struct {
	Rank  uint32 `json:"rank"  msgpack:"rank"`
	Value uint32 `json:"value" msgpack:"value"`
}

// Snapshot is an export-friendly view of one published result vector, used
// by the management API and the external sinks.
type Snapshot struct {
	Server      string            `json:"server"      msgpack:"server"`
	Min         uint32            `json:"min"         msgpack:"min"`
	Max         uint32            `json:"max"         msgpack:"max"`
	Avg         uint32            `json:"avg"         msgpack:"avg"`
	Percentiles []PercentileValue `json:"percentiles" msgpack:"percentiles"`
	Seq         uint64            `json:"seq"         msgpack:"seq"`
}

// MakeSnapshot converts a filled request vector into a Snapshot. The
// min-sentinel of an empty window is mapped to zero.
func MakeSnapshot(server string, ps *PercentileStats) *Snapshot {
	snap := &Snapshot{
		Server:      server,
		Min:         ps.Val[IdxMin],
		Max:         ps.Val[IdxMax],
		Avg:         ps.Val[IdxAvg],
		Percentiles: make([]PercentileValue, len(ps.Ith)),
		Seq:         ps.Seq,
	}

	if snap.Min == math.MaxUint32 {
		snap.Min = 0
	}

	for i, rank := range ps.Ith {
		snap.Percentiles[i] = PercentileValue{Rank: rank, Value: ps.Val[IdxIth+i]}
	}

	return snap
}
