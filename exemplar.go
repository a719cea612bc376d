package metrics

import (
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// maxExemplarRunes is the combined key+value rune budget the OpenMetrics
// exposition format imposes on a single exemplar.
const maxExemplarRunes = 128

// ExemplarLabel is one key/value pair attached to an exemplar. Values are
// expected to be ASCII; the serializer does not escape non-ASCII bytes in
// exemplar label values, per the format's own mandate.
type ExemplarLabel struct {
	Name, Value string
}

// Exemplar is a small trace-correlation annotation recorded alongside a
// counter increment or a histogram observation.
type Exemplar struct {
	Labels    []ExemplarLabel
	Value     float64
	Timestamp int64 // Unix epoch seconds
}

func (e *Exemplar) runeCount() int {
	n := 0
	for _, l := range e.Labels {
		n += utf8.RuneCountInString(l.Name) + utf8.RuneCountInString(l.Value)
	}
	return n
}

func (e *Exemplar) hasDuplicateKeys() bool {
	for i := 1; i < len(e.Labels); i++ {
		for j := 0; j < i; j++ {
			if e.Labels[i].Name == e.Labels[j].Name {
				return true
			}
		}
	}
	return false
}

var exemplarPool = sync.Pool{
	New: func() any { return new(Exemplar) },
}

// exemplarStore is the single-slot, pool-backed exemplar holder described in
// the exemplar store contract: Record/Borrow/Return with an atomic exchange
// discipline so a concurrent serializer never observes a half-written
// exemplar and never blocks a writer.
type exemplarStore struct {
	slot         atomic.Pointer[Exemplar]
	minInterval  time.Duration
	lastRecorded atomic.Int64 // UnixNano of the last accepted Record, 0 = never
}

func newExemplarStore(minInterval time.Duration) *exemplarStore {
	return &exemplarStore{minInterval: minInterval}
}

// Record validates, rate-limits and then publishes a new exemplar, pooling
// the displaced one (if any). A rejected rate-limited call is not an error:
// the exemplar is silently discarded, as recording paths must never fail
// loudly. Invalid exemplars (bad rune budget or duplicate keys) return
// ErrExemplarInvalid and touch no pooled resource.
func (s *exemplarStore) Record(labels []ExemplarLabel, value float64, now time.Time) error {
	total := 0
	for i, l := range labels {
		total += utf8.RuneCountInString(l.Name) + utf8.RuneCountInString(l.Value)
		for j := 0; j < i; j++ {
			if labels[j].Name == l.Name {
				return newError(ErrExemplarInvalid, "duplicate exemplar label "+quote(l.Name))
			}
		}
	}
	if total > maxExemplarRunes {
		return newError(ErrExemplarInvalid, "exemplar exceeds 128 rune budget")
	}

	if s.minInterval > 0 {
		nowNano := now.UnixNano()
		last := s.lastRecorded.Load()
		if last != 0 && nowNano-last < int64(s.minInterval) {
			return nil // rate-limited: discard silently, nothing pooled
		}
		if !s.lastRecorded.CompareAndSwap(last, nowNano) {
			return nil // another writer's exemplar just won the race
		}
	}

	e := exemplarPool.Get().(*Exemplar)
	e.Labels = append(e.Labels[:0], labels...)
	e.Value = value
	e.Timestamp = now.Unix()

	if old := s.slot.Swap(e); old != nil {
		exemplarPool.Put(old)
	}
	return nil
}

// Borrow atomically removes and returns whatever is in the slot (nil if
// nothing has been recorded yet). The caller must eventually call Return
// with the same value, even if it was nil.
func (s *exemplarStore) Borrow() *Exemplar {
	return s.slot.Swap(nil)
}

// Return restores a borrowed exemplar unless a fresher one arrived while it
// was on loan, in which case the stale one goes back to the pool instead of
// clobbering the newer value.
func (s *exemplarStore) Return(borrowed *Exemplar) {
	if borrowed == nil {
		return
	}
	if !s.slot.CompareAndSwap(nil, borrowed) {
		exemplarPool.Put(borrowed)
	}
}
