package metrics

import (
	"sync/atomic"
	"time"
)

// childBase carries the per-child state shared by all four metric children:
// the flattened (instance ∪ static) label values, and the latched
// "published" flag described in the data model (§3): it starts as
// configured (suppressInitialValue inverted) and latches to true on the
// first successful write.
type childBase struct {
	values    LabelValues
	published atomic.Bool
}

func newChildBase(values LabelValues, suppressInitial bool) childBase {
	c := childBase{values: values}
	c.published.Store(!suppressInitial)
	return c
}

func (c *childBase) latchPublished() { c.published.Store(true) }

// IsPublished reports whether this child is due to be written on the next
// collection pass.
func (c *childBase) IsPublished() bool { return c.published.Load() }

// Unpublish hides the child from subsequent collections until the next
// successful write latches it visible again.
func (c *childBase) Unpublish() { c.published.Store(false) }

// Values returns the flattened instance label values for this child.
func (c *childBase) Values() LabelValues { return c.values }

// Counter is a cumulative metric: its value only ever increases (or resets
// to zero when the process restarts), matching the teacher's own Counter in
// metrics.go but adding the optional per-child exemplar slot OpenMetrics
// exposition requires.
type Counter struct {
	childBase
	value    atomicFloat
	exemplar *exemplarStore
}

func newCounter(values LabelValues, suppressInitial bool, exemplarMinInterval time.Duration, exemplars bool) *Counter {
	c := &Counter{childBase: newChildBase(values, suppressInitial)}
	if exemplars {
		c.exemplar = newExemplarStore(exemplarMinInterval)
	}
	return c
}

// Inc adds delta (which must be non-negative) to the counter, optionally
// recording an exemplar for the observation itself (delta), not the
// resulting total. A negative delta fails
// with ErrMonotonicityViolation and mutates nothing. An invalid exemplar
// (duplicate keys or an over-budget rune count) also fails and mutates
// nothing; a rate-limited exemplar is discarded silently and the increment
// still proceeds.
func (c *Counter) Inc(delta float64, exemplarLabels ...ExemplarLabel) error {
	return c.incAt(delta, exemplarLabels, time.Now())
}

func (c *Counter) incAt(delta float64, exemplarLabels []ExemplarLabel, now time.Time) error {
	if delta < 0 {
		return newError(ErrMonotonicityViolation, "counter increment must be >= 0")
	}
	if len(exemplarLabels) > 0 && c.exemplar != nil {
		if err := c.exemplar.Record(exemplarLabels, delta, now); err != nil {
			return err
		}
	}
	c.value.Add(delta)
	c.latchPublished()
	return nil
}

// IncTo advances the counter to target if target is greater than the
// current value; a lower or NaN target is ignored. Either way the call
// latches the child published, matching the re-latch contract resolved in
// DESIGN.md for the Inc/IncTo interaction with Unpublish.
func (c *Counter) IncTo(target float64) {
	c.value.IncreaseTo(target)
	c.latchPublished()
}

// Get returns the current value. Safe for concurrent use.
func (c *Counter) Get() float64 { return c.value.Load() }

// borrowExemplar hands the serializer a temporarily-owned exemplar, or nil
// when this counter carries no exemplar slot or none has been recorded.
func (c *Counter) borrowExemplar() *Exemplar {
	if c.exemplar == nil {
		return nil
	}
	return c.exemplar.Borrow()
}

func (c *Counter) returnExemplar(e *Exemplar) {
	if c.exemplar == nil {
		return
	}
	c.exemplar.Return(e)
}
