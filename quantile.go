package metrics

import (
	"math"
	"sort"
)

// quantileTarget pairs a quantile with its acceptable rank error, the (q,ε)
// pairs the biased-quantile invariant is parameterized by.
type quantileTarget struct {
	quantile float64
	epsilon  float64
}

// quantileSample is one retained observation in a biased-quantile stream:
// value, width (g, the number of ranks this tuple represents) and delta (the
// maximum rank uncertainty introduced when the tuple was inserted).
type quantileSample struct {
	value float64
	width float64
	delta float64
}

// quantileStream implements the Cormode-Korn-Muthukrishnan biased quantile
// sketch described in §4.F: samples are kept sorted by value, each insertion
// picks a delta bounded by the invariant function evaluated at the
// insertion rank, and compress merges adjacent tuples whose combined
// uncertainty still satisfies the invariant.
type quantileStream struct {
	targets []quantileTarget
	samples []quantileSample
	n       float64
}

func newQuantileStream(targets []quantileTarget) *quantileStream {
	return &quantileStream{targets: targets}
}

// invariant computes f(r) = min over targets of the biased-quantile rank
// error bound, exactly as specified in §4.F.
func (s *quantileStream) invariant(r float64) float64 {
	if len(s.targets) == 0 {
		return math.MaxFloat64
	}
	best := math.MaxFloat64
	for _, t := range s.targets {
		var f float64
		if t.quantile*s.n <= r {
			f = (2 * t.epsilon * r) / t.quantile
		} else {
			f = (2 * t.epsilon * (s.n - r)) / (1 - t.quantile)
		}
		if f < best {
			best = f
		}
	}
	return best
}

// rankAt returns the cumulative width (rank) of all samples strictly before
// index i.
func (s *quantileStream) rankAt(i int) float64 {
	var r float64
	for j := 0; j < i; j++ {
		r += s.samples[j].width
	}
	return r
}

// Insert adds a single observation, computing its delta from the invariant
// evaluated at its insertion rank; the first and last sample in the stream
// always get delta 0 so the stream's extremes stay exact.
func (s *quantileStream) Insert(v float64) {
	i := sort.Search(len(s.samples), func(i int) bool { return s.samples[i].value >= v })

	var delta float64
	if i != 0 && i != len(s.samples) {
		delta = math.Floor(s.invariant(s.rankAt(i))) - 1
		if delta < 0 {
			delta = 0
		}
	}

	s.samples = append(s.samples, quantileSample{})
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = quantileSample{value: v, width: 1, delta: delta}
	s.n++
}

// InsertBatch sorts and inserts every value in vs, then compresses once, the
// batch shape described in §4.F ("merging a batch of new samples sorts
// them, then walks ... compressing tuples as it goes").
func (s *quantileStream) InsertBatch(vs []float64) {
	if len(vs) == 0 {
		return
	}
	sorted := append([]float64(nil), vs...)
	sort.Float64s(sorted)
	for _, v := range sorted {
		s.Insert(v)
	}
	s.Compress()
}

// Compress scans from the tail and merges adjacent tuples whenever their
// combined width plus the successor's delta still fits under the invariant
// evaluated at the predecessor's rank, shrinking the stream without
// widening anyone's worst-case rank error.
func (s *quantileStream) Compress() {
	if len(s.samples) < 2 {
		return
	}

	merged := make([]quantileSample, 0, len(s.samples))
	merged = append(merged, s.samples[len(s.samples)-1])
	rank := s.n - s.samples[len(s.samples)-1].width

	for i := len(s.samples) - 2; i >= 0; i-- {
		cur := s.samples[i]
		rank -= cur.width
		top := &merged[len(merged)-1]
		if cur.width+top.width+top.delta <= s.invariant(rank) {
			top.width += cur.width
		} else {
			merged = append(merged, cur)
		}
	}

	for i, j := 0, len(merged)-1; i < j; i, j = i+1, j-1 {
		merged[i], merged[j] = merged[j], merged[i]
	}
	s.samples = merged
}

// Query returns the estimate for quantile q using the CKMS query rule: with
// t = ⌈q·N⌉ + ⌈f(t)/2⌉, it walks the samples and returns the value of the
// last sample before the first one whose maximum possible rank (cumulative
// width plus its own width and delta) exceeds t. Because a merged tuple
// keeps the largest value of its group, stopping one sample early keeps the
// answer within the invariant's error bound. It returns NaN for an empty
// stream.
func (s *quantileStream) Query(q float64) float64 {
	if len(s.samples) == 0 {
		return math.NaN()
	}
	target := math.Ceil(q * s.n)
	target += math.Ceil(s.invariant(target) / 2)
	prev := s.samples[0]
	var r float64
	for _, c := range s.samples[1:] {
		r += prev.width
		if r+c.width+c.delta > target {
			return prev.value
		}
		prev = c
	}
	return prev.value
}

// Count returns the number of observations merged into the stream.
func (s *quantileStream) Count() float64 { return s.n }

// Reset clears the stream back to empty, used when an age bucket rotates
// out of the summary's sliding window.
func (s *quantileStream) Reset() {
	s.samples = s.samples[:0]
	s.n = 0
}
