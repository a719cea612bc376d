package metrics

import (
	"math"
	"sync"
	"time"
)

const (
	defaultSummaryMaxAge      = 10 * time.Minute
	defaultSummaryAgeBuckets  = 5
	defaultSummaryBufferCap   = 500
)

// SummaryQuantile is one configured quantile target (q, ε), emitted on the
// wire in the order given at construction.
type SummaryQuantile struct {
	Quantile float64
	Epsilon  float64
}

// summaryPoint is one (quantile, value) pair ready for serialization.
type summaryPoint struct {
	Quantile float64
	Value    float64
}

// SummarySnapshot is the view of a Summary produced right before
// serialization: sum, count and one value per configured quantile, read
// under the main lock with the head stream flushed up to date.
type SummarySnapshot struct {
	Sum     float64
	Count   uint64
	Points  []summaryPoint
}

// Summary maintains a sliding window of biased-quantile streams fed by a
// two-buffer (hot/cold) staging area, as described in §4.D and §4.F. The
// buffer lock always nests outside the main lock, never the reverse.
type Summary struct {
	childBase

	targets []quantileTarget
	order   []float64 // configured quantile order, for stable wire output

	maxAge     time.Duration
	ageBuckets int
	bucketSpan time.Duration
	bufferCap  int
	now        func() time.Time

	bufMu         sync.Mutex
	hotBuf        []float64
	coldBuf       []float64
	hotExpiration time.Time

	mainMu         sync.Mutex
	streams        []*quantileStream
	headIdx        int
	headExpiration time.Time
	sum            float64
	count          uint64
}

// SummaryOptions configures a Summary at construction. A nil or zero-value
// Targets list means only sum/count are reported, per the spec's boundary
// behavior for objective-less summaries.
type SummaryOptions struct {
	Targets    []SummaryQuantile
	MaxAge     time.Duration
	AgeBuckets int
	BufferCap  int
	now        func() time.Time // test injection point only
}

func newSummary(values LabelValues, suppressInitial bool, opts SummaryOptions) (*Summary, error) {
	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = defaultSummaryMaxAge
	}
	if maxAge < 0 {
		return nil, newError(ErrIllegalConfiguration, "summary max age must not be negative")
	}
	ageBuckets := opts.AgeBuckets
	if ageBuckets == 0 {
		ageBuckets = defaultSummaryAgeBuckets
	}
	if ageBuckets < 1 {
		return nil, newError(ErrIllegalConfiguration, "summary age bucket count must be >= 1")
	}
	bufferCap := opts.BufferCap
	if bufferCap == 0 {
		bufferCap = defaultSummaryBufferCap
	}
	clock := opts.now
	if clock == nil {
		clock = time.Now
	}

	targets := make([]quantileTarget, len(opts.Targets))
	order := make([]float64, len(opts.Targets))
	for i, t := range opts.Targets {
		targets[i] = quantileTarget{quantile: t.Quantile, epsilon: t.Epsilon}
		order[i] = t.Quantile
	}

	bucketSpan := maxAge / time.Duration(ageBuckets)
	now := clock()

	streams := make([]*quantileStream, ageBuckets)
	for i := range streams {
		streams[i] = newQuantileStream(targets)
	}

	return &Summary{
		childBase:      newChildBase(values, suppressInitial),
		targets:        targets,
		order:          order,
		maxAge:         maxAge,
		ageBuckets:     ageBuckets,
		bucketSpan:     bucketSpan,
		bufferCap:      bufferCap,
		now:            clock,
		hotBuf:         make([]float64, 0, bufferCap),
		coldBuf:        make([]float64, 0, bufferCap),
		hotExpiration:  now.Add(bucketSpan),
		streams:        streams,
		headExpiration: now.Add(bucketSpan),
	}, nil
}

// Observe appends v to the hot buffer (ignoring NaN) and flushes it into the
// quantile streams if the buffer has expired or filled, per §4.D.
func (s *Summary) Observe(v float64) {
	if math.IsNaN(v) {
		return
	}

	s.bufMu.Lock()
	s.hotBuf = append(s.hotBuf, v)
	needFlush := s.now().After(s.hotExpiration) || len(s.hotBuf) >= s.bufferCap
	s.bufMu.Unlock()

	if needFlush {
		s.flush()
	}
	s.latchPublished()
}

// flush swaps the hot and cold buffers, then merges the cold batch into
// every quantile stream and rotates the head pointer forward under the main
// lock. Buffer lock is always released before main lock is taken.
func (s *Summary) flush() []float64 {
	s.bufMu.Lock()
	s.hotBuf, s.coldBuf = s.coldBuf[:0], s.hotBuf
	batch := s.coldBuf
	s.hotExpiration = s.now().Add(s.bucketSpan)
	s.bufMu.Unlock()

	if len(batch) == 0 {
		return batch
	}

	s.mainMu.Lock()
	for _, st := range s.streams {
		st.InsertBatch(batch)
	}
	s.sum += sumFloats(batch)
	s.count += uint64(len(batch))
	s.rotateLocked()
	s.mainMu.Unlock()

	return batch
}

// rotateLocked advances the head stream forward while its window has
// expired, resetting each stream as it leaves the head position. A reset
// stream then collects observations for ageBuckets spans before it is head
// again, so the head always covers roughly the last maxAge. Caller must
// hold mainMu.
func (s *Summary) rotateLocked() {
	for !s.now().Before(s.headExpiration) {
		s.streams[s.headIdx].Reset()
		s.headIdx = (s.headIdx + 1) % s.ageBuckets
		s.headExpiration = s.headExpiration.Add(s.bucketSpan)
	}
}

// Snapshot forces a swap-and-flush, then reads sum, count and every
// configured quantile off the head stream under the main lock. The buffer
// lock is not held while reading, so observations that reach the hot
// buffer after the flush are not included in this snapshot.
func (s *Summary) Snapshot() SummarySnapshot {
	s.flush()

	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	head := s.streams[s.headIdx]
	points := make([]summaryPoint, len(s.order))
	for i, q := range s.order {
		if head.Count() == 0 {
			points[i] = summaryPoint{Quantile: q, Value: math.NaN()}
		} else {
			points[i] = summaryPoint{Quantile: q, Value: head.Query(q)}
		}
	}

	return SummarySnapshot{Sum: s.sum, Count: s.count, Points: points}
}

func sumFloats(vs []float64) float64 {
	var total float64
	for _, v := range vs {
		total += v
	}
	return total
}
