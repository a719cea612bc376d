package metrics

import (
	"math"
	"time"
)

// DefaultHistogramBounds are Prometheus's classic latency buckets, carried
// over unchanged from the spec's data model.
var DefaultHistogramBounds = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
}

// validateHistogramBounds checks that bounds is non-empty and strictly
// increasing, and returns a copy with +Inf appended if it isn't already the
// last element. A user-supplied +Inf bound is kept as-is rather than
// duplicated, matching the boundary behavior the spec calls out explicitly.
func validateHistogramBounds(bounds []float64) ([]float64, error) {
	if len(bounds) == 0 {
		return nil, newError(ErrIllegalConfiguration, "histogram must declare at least one bucket bound")
	}
	out := make([]float64, len(bounds))
	copy(out, bounds)
	for i := 1; i < len(out); i++ {
		if out[i] <= out[i-1] {
			return nil, newError(ErrIllegalConfiguration, "histogram bucket bounds must be strictly increasing")
		}
	}
	if out[len(out)-1] != math.Inf(1) {
		out = append(out, math.Inf(1))
	}
	return out, nil
}

// Histogram samples observations into cumulative buckets. Bucket-local
// counts and the running sum are lock-free atomics; only the cumulative
// rollup performed at serialization time walks the bounds in order, per the
// collect-time contract in §4.D.
type Histogram struct {
	childBase

	bounds        []float64 // strictly increasing, always ends in +Inf
	bucketCounts  []atomicCount
	bucketExemplars []*exemplarStore
	sum           atomicFloat
	count         atomicCount
}

func newHistogram(values LabelValues, bounds []float64, suppressInitial bool, exemplars bool, exemplarMinInterval time.Duration) *Histogram {
	h := &Histogram{
		childBase:    newChildBase(values, suppressInitial),
		bounds:       bounds,
		bucketCounts: make([]atomicCount, len(bounds)),
	}
	if exemplars {
		h.bucketExemplars = make([]*exemplarStore, len(bounds))
		for i := range h.bucketExemplars {
			h.bucketExemplars[i] = newExemplarStore(exemplarMinInterval)
		}
	}
	return h
}

// Observe records count occurrences (default 1) of value v. NaN values are
// ignored per the spec's invariant (ii). The bucket search is the default
// linear scan the spec mandates as normative; it runs in ascending order and
// stops at the first bound that is >= v, so the final (+Inf) bucket always
// receives every non-NaN observation.
func (h *Histogram) Observe(v float64, count uint64, exemplarLabels ...ExemplarLabel) error {
	return h.observeAt(v, count, exemplarLabels, time.Now())
}

func (h *Histogram) observeAt(v float64, count uint64, exemplarLabels []ExemplarLabel, now time.Time) error {
	if math.IsNaN(v) {
		return nil
	}
	if count == 0 {
		count = 1
	}

	idx := h.bucketIndex(v)

	if len(exemplarLabels) > 0 && h.bucketExemplars != nil {
		if err := h.bucketExemplars[idx].Record(exemplarLabels, v, now); err != nil {
			return err
		}
	}

	h.bucketCounts[idx].Add(count)
	h.sum.Add(v * float64(count))
	h.count.Add(count)
	h.latchPublished()
	return nil
}

// bucketIndex performs the default linear scan for the smallest-index
// bucket whose upper bound is >= v. A vectorized parallel-comparison scan
// processing multiple bounds per step is an allowed optimization (§4.D) but
// is not implemented here since this registry favors the normative
// algorithm's simplicity over the marginal win on typical bucket counts.
func (h *Histogram) bucketIndex(v float64) int {
	for i, bound := range h.bounds {
		if v <= bound {
			return i
		}
	}
	return len(h.bounds) - 1
}

// Bounds returns the (possibly +Inf-appended) bucket upper bounds.
func (h *Histogram) Bounds() []float64 { return h.bounds }

// bucketLocalCount returns the bucket-local count of bucket i, not a
// cumulative one: callers serialize buckets in ascending order and must
// accumulate themselves, since the per-bucket atomics only hold the
// bucket-local count as described in the data model.
func (h *Histogram) bucketLocalCount(i int) uint64 { return h.bucketCounts[i].Load() }

func (h *Histogram) Sum() float64    { return h.sum.Load() }
func (h *Histogram) Count() uint64   { return h.count.Load() }

func (h *Histogram) borrowBucketExemplar(i int) *Exemplar {
	if h.bucketExemplars == nil {
		return nil
	}
	return h.bucketExemplars[i].Borrow()
}

func (h *Histogram) returnBucketExemplar(i int, e *Exemplar) {
	if h.bucketExemplars == nil {
		return
	}
	h.bucketExemplars[i].Return(e)
}
