package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// lifetimeEntry is the per-label-combination lease state described in
// §4.H's LifetimeInfo: a lease count, the last keepalive time, and an
// ended latch the reaper sets right before removing the child.
type lifetimeEntry struct {
	values LabelValues

	mu         sync.Mutex
	leaseCount int64
	keepalive  time.Time
	ended      bool
}

// Lease is the token returned by AcquireLease; Release must be called
// exactly once, typically via defer.
type Lease struct {
	handle *LifetimeHandle
	entry  *lifetimeEntry
}

// Release decrements the lease count and refreshes the keepalive
// timestamp. If the reaper had already marked this entry ended (it lost
// the race with a concurrent renewal), Release re-registers a fresh
// lifetime by taking and immediately releasing one more lease, per §4.H.
func (l *Lease) Release() {
	l.handle.release(l.entry)
}

// LifetimeHandle is the kind-agnostic lease/reaper engine behind the
// ManagedCounter/ManagedGauge/ManagedHistogram/ManagedSummary façades. It
// holds no knowledge of the metric kind; getOrAddChild and removeChild are
// supplied by the typed wrapper that owns the underlying collector.
type LifetimeHandle struct {
	getOrAddChild func(values LabelValues) (seriesChild, error)
	removeChild   func(values LabelValues)

	expiresAfter time.Duration
	now          func() time.Time
	sleep        func(time.Duration)

	mu      sync.RWMutex
	entries []*lifetimeEntry

	reaperActive atomic.Bool
}

func newLifetimeHandle(expiresAfter time.Duration, getOrAdd func(LabelValues) (seriesChild, error), remove func(LabelValues)) *LifetimeHandle {
	return &LifetimeHandle{
		expiresAfter: expiresAfter,
		getOrAddChild: getOrAdd,
		removeChild:   remove,
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

func (h *LifetimeHandle) findOrCreateEntry(values LabelValues) *lifetimeEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.values.Equal(values) {
			return e
		}
	}
	e := &lifetimeEntry{values: values, keepalive: h.now()}
	h.entries = append(h.entries, e)
	return e
}

// acquireLease gets-or-creates the underlying child, gets-or-creates its
// lifetime entry, increments the lease count, and ensures a reaper
// goroutine is running for this handle.
func (h *LifetimeHandle) acquireLease(values LabelValues) (seriesChild, *Lease, error) {
	child, err := h.getOrAddChild(values)
	if err != nil {
		return nil, nil, err
	}

	e := h.findOrCreateEntry(values)
	e.mu.Lock()
	e.leaseCount++
	e.mu.Unlock()

	h.ensureReaper()

	return child, &Lease{handle: h, entry: e}, nil
}

func (h *LifetimeHandle) withLease(values LabelValues, fn func(seriesChild) error) error {
	child, lease, err := h.acquireLease(values)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(child)
}

func (h *LifetimeHandle) release(e *lifetimeEntry) {
	e.mu.Lock()
	e.leaseCount--
	e.keepalive = h.now()
	raced := e.ended
	e.mu.Unlock()

	if !raced {
		return
	}

	// The reaper already ended this entry between our last observation
	// and this release; re-register a fresh lifetime so the entry is not
	// silently lost out from under a caller who still believes it holds
	// the metric alive. The ended entry is no longer in h.entries, so a
	// fresh lease creates a new entry (and child) for the same values.
	if _, lease, err := h.acquireLease(e.values); err == nil {
		lease.Release()
	}
}

func (h *LifetimeHandle) ensureReaper() {
	if h.reaperActive.CompareAndSwap(false, true) {
		go h.reaperLoop()
	}
}

// reaperLoop is the single background task per handle described in §4.H:
// sleep, scan under a read lock for expired candidates, re-check each one
// under a write lock (state may have changed), and remove the ones still
// expired. It exits once, under a sweep, no lifetimes remain at all,
// leaving reaperActive false so a later lease restarts it.
func (h *LifetimeHandle) reaperLoop() {
	for {
		h.sleep(h.expiresAfter)

		h.mu.RLock()
		candidates := make([]*lifetimeEntry, 0, len(h.entries))
		for _, e := range h.entries {
			e.mu.Lock()
			expired := e.leaseCount == 0 && h.now().Sub(e.keepalive) >= h.expiresAfter
			e.mu.Unlock()
			if expired {
				candidates = append(candidates, e)
			}
		}
		h.mu.RUnlock()

		for _, e := range candidates {
			h.mu.Lock()
			e.mu.Lock()
			stillExpired := e.leaseCount == 0 && h.now().Sub(e.keepalive) >= h.expiresAfter
			if stillExpired {
				e.ended = true
			}
			e.mu.Unlock()

			if stillExpired {
				for i, cand := range h.entries {
					if cand == e {
						h.entries = append(h.entries[:i], h.entries[i+1:]...)
						break
					}
				}
			}
			h.mu.Unlock()

			if stillExpired {
				h.removeChild(e.values)
			}
		}

		h.mu.RLock()
		remaining := len(h.entries)
		h.mu.RUnlock()
		if remaining == 0 {
			h.reaperActive.Store(false)
			return
		}
	}
}

// ManagedCounter is a counter collector under lease-managed lifetime.
type ManagedCounter struct{ handle *LifetimeHandle }

func (f *MetricFactory) NewManagedCounter(name, help string, expiresAfter time.Duration, instanceLabelNames []string, opts ...CollectorOption) (*ManagedCounter, error) {
	c, err := f.newCollector(name, help, kindCounter, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	handle := newLifetimeHandle(expiresAfter,
		func(v LabelValues) (seriesChild, error) { return c.getOrAddCounter(v) },
		c.remove)
	return &ManagedCounter{handle: handle}, nil
}

// AcquireLease returns the counter for values and a lease that must be
// released exactly once.
func (m *ManagedCounter) AcquireLease(values ...string) (*Counter, *Lease, error) {
	child, lease, err := m.handle.acquireLease(NewLabelValues(values...))
	if err != nil {
		return nil, nil, err
	}
	return child.(*Counter), lease, nil
}

// WithLease acquires a lease, runs fn, and releases the lease before
// returning, regardless of whether fn returns an error.
func (m *ManagedCounter) WithLease(values []string, fn func(*Counter) error) error {
	return m.handle.withLease(NewLabelValues(values...), func(ch seriesChild) error {
		return fn(ch.(*Counter))
	})
}

// ManagedGauge is a gauge collector under lease-managed lifetime.
type ManagedGauge struct{ handle *LifetimeHandle }

func (f *MetricFactory) NewManagedGauge(name, help string, expiresAfter time.Duration, instanceLabelNames []string, opts ...CollectorOption) (*ManagedGauge, error) {
	c, err := f.newCollector(name, help, kindGauge, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	handle := newLifetimeHandle(expiresAfter,
		func(v LabelValues) (seriesChild, error) { return c.getOrAddGauge(v) },
		c.remove)
	return &ManagedGauge{handle: handle}, nil
}

func (m *ManagedGauge) AcquireLease(values ...string) (*Gauge, *Lease, error) {
	child, lease, err := m.handle.acquireLease(NewLabelValues(values...))
	if err != nil {
		return nil, nil, err
	}
	return child.(*Gauge), lease, nil
}

func (m *ManagedGauge) WithLease(values []string, fn func(*Gauge) error) error {
	return m.handle.withLease(NewLabelValues(values...), func(ch seriesChild) error {
		return fn(ch.(*Gauge))
	})
}

// ManagedHistogram is a histogram collector under lease-managed lifetime.
type ManagedHistogram struct{ handle *LifetimeHandle }

func (f *MetricFactory) NewManagedHistogram(name, help string, expiresAfter time.Duration, instanceLabelNames []string, opts ...CollectorOption) (*ManagedHistogram, error) {
	c, err := f.newCollector(name, help, kindHistogram, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	handle := newLifetimeHandle(expiresAfter,
		func(v LabelValues) (seriesChild, error) { return c.getOrAddHistogram(v) },
		c.remove)
	return &ManagedHistogram{handle: handle}, nil
}

func (m *ManagedHistogram) AcquireLease(values ...string) (*Histogram, *Lease, error) {
	child, lease, err := m.handle.acquireLease(NewLabelValues(values...))
	if err != nil {
		return nil, nil, err
	}
	return child.(*Histogram), lease, nil
}

func (m *ManagedHistogram) WithLease(values []string, fn func(*Histogram) error) error {
	return m.handle.withLease(NewLabelValues(values...), func(ch seriesChild) error {
		return fn(ch.(*Histogram))
	})
}

// ManagedSummary is a summary collector under lease-managed lifetime.
type ManagedSummary struct{ handle *LifetimeHandle }

func (f *MetricFactory) NewManagedSummary(name, help string, expiresAfter time.Duration, instanceLabelNames []string, opts ...CollectorOption) (*ManagedSummary, error) {
	c, err := f.newCollector(name, help, kindSummary, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	handle := newLifetimeHandle(expiresAfter,
		func(v LabelValues) (seriesChild, error) { return c.getOrAddSummary(v) },
		c.remove)
	return &ManagedSummary{handle: handle}, nil
}

func (m *ManagedSummary) AcquireLease(values ...string) (*Summary, *Lease, error) {
	child, lease, err := m.handle.acquireLease(NewLabelValues(values...))
	if err != nil {
		return nil, nil, err
	}
	return child.(*Summary), lease, nil
}

func (m *ManagedSummary) WithLease(values []string, fn func(*Summary) error) error {
	return m.handle.withLease(NewLabelValues(values...), func(ch seriesChild) error {
		return fn(ch.(*Summary))
	})
}

// AutoLeasingCounter implements the writing half of the counter API by
// taking and immediately releasing a lease around every call, per §4.H's
// with_extend_lifetime_on_use. Reads are not meaningful on a view that
// never holds a stable lease, so they fail with ErrUnsupported.
type AutoLeasingCounter struct{ managed *ManagedCounter }

func NewAutoLeasingCounter(m *ManagedCounter) *AutoLeasingCounter {
	return &AutoLeasingCounter{managed: m}
}

func (a *AutoLeasingCounter) Inc(delta float64, values ...string) error {
	return a.managed.WithLease(values, func(c *Counter) error { return c.Inc(delta) })
}

func (a *AutoLeasingCounter) Get(values ...string) (float64, error) {
	return 0, newError(ErrUnsupported, "reads are not supported on an auto-leasing view")
}

// LabelEnrichingCounter prepends a fixed prefix of static label values to
// every label-values argument before delegating to the inner managed
// counter, per §4.H's label-enriching view.
type LabelEnrichingCounter struct {
	managed *ManagedCounter
	prefix  LabelValues
}

func NewLabelEnrichingCounter(m *ManagedCounter, prefixValues ...string) *LabelEnrichingCounter {
	return &LabelEnrichingCounter{managed: m, prefix: NewLabelValues(prefixValues...)}
}

func (e *LabelEnrichingCounter) AcquireLease(values ...string) (*Counter, *Lease, error) {
	full := e.prefix.Concat(NewLabelValues(values...))
	return e.managed.AcquireLease(full.Strings()...)
}

func (e *LabelEnrichingCounter) WithLease(values []string, fn func(*Counter) error) error {
	full := e.prefix.Concat(NewLabelValues(values...))
	return e.managed.WithLease(full.Strings(), fn)
}
