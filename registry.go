package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BeforeCollectFunc is a synchronous hook run on every collection pass,
// typically to refresh derived metrics just before they are read.
type BeforeCollectFunc func() error

// AsyncBeforeCollectFunc is the asynchronous counterpart; all registered
// async hooks are awaited concurrently on every collection pass.
type AsyncBeforeCollectFunc func(ctx context.Context) error

// Registry is the concurrent, append-only set of metric families described
// in §4.E. It mirrors the teacher's Register in register.go (name-indexed
// slice under a mutex) but replaces the per-arity Map1/Map2/Map3 dispatch
// with the identity-keyed family/collector/child model the spec calls for.
type Registry struct {
	logger *zap.Logger

	mu          sync.RWMutex
	familyIndex map[string]int
	families    []*family

	staticMu     sync.Mutex
	staticNames  LabelNames
	staticValues LabelValues
	staticSet    atomic.Bool

	metricsStarted atomic.Bool

	firstCollectOnce sync.Once
	firstCollectHook func()

	hookMu     sync.Mutex
	syncHooks  []BeforeCollectFunc
	asyncHooks []AsyncBeforeCollectFunc
}

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithLogger installs a zap logger used for callback-error reporting
// during collection. The default is a no-op logger so the library stays
// silent unless a caller opts in, matching the ambient logging posture
// laid out for this registry.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithFirstCollectHook installs a callback run exactly once, before any
// other before-collect hook, on the first call to CollectAndExport. This
// is the seam an external collaborator uses to install default runtime
// metrics lazily instead of at construction time.
func WithFirstCollectHook(fn func()) RegistryOption {
	return func(r *Registry) { r.firstCollectHook = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:      zap.NewNop(),
		familyIndex: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetStaticLabels installs registry-wide static labels. It fails if a
// collector already exists anywhere in the registry, if a collect has
// already run, or if static labels were already set once, per §4.E and
// invariant (iv).
func (r *Registry) SetStaticLabels(labels map[string]string) error {
	r.staticMu.Lock()
	defer r.staticMu.Unlock()

	if r.staticSet.Load() {
		return newError(ErrIllegalConfiguration, "static labels already set")
	}
	if r.metricsStarted.Load() {
		return newError(ErrIllegalConfiguration, "static labels must be set before any collector is created or any collect has run")
	}

	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]string, len(names))
	for i, name := range names {
		if err := validLabelName(name, false); err != nil {
			return err
		}
		values[i] = labels[name]
	}

	r.staticNames = NewLabelNames(names...)
	r.staticValues = NewLabelValues(values...)
	r.staticSet.Store(true)
	return nil
}

func (r *Registry) staticLabels() (LabelNames, LabelValues) {
	r.staticMu.Lock()
	defer r.staticMu.Unlock()
	return r.staticNames, r.staticValues
}

// AddBeforeCollectCallback registers a synchronous hook, run in
// registration order ahead of all async hooks on every collection pass.
func (r *Registry) AddBeforeCollectCallback(fn BeforeCollectFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.syncHooks = append(r.syncHooks, fn)
}

// AddAsyncBeforeCollectCallback registers an asynchronous hook. All
// registered async hooks are awaited concurrently on every collection
// pass, after the synchronous hooks have run.
func (r *Registry) AddAsyncBeforeCollectCallback(fn AsyncBeforeCollectFunc) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.asyncHooks = append(r.asyncHooks, fn)
}

func (r *Registry) getOrAddFamily(name, help string, kind metricKind) (*family, error) {
	r.mu.RLock()
	if idx, ok := r.familyIndex[name]; ok {
		f := r.families[idx]
		r.mu.RUnlock()
		if f.kind != kind {
			return nil, newError(ErrTypeMismatch, "family "+quote(name)+" already registered as "+f.kind.String())
		}
		return f, nil
	}
	r.mu.RUnlock()

	if err := validMetricName(name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.familyIndex[name]; ok {
		f := r.families[idx]
		if f.kind != kind {
			return nil, newError(ErrTypeMismatch, "family "+quote(name)+" already registered as "+f.kind.String())
		}
		return f, nil
	}

	f := newFamily(name, help, kind)
	r.familyIndex[name] = len(r.families)
	r.families = append(r.families, f)
	return f, nil
}

func (r *Registry) snapshotFamilies() []*family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*family, len(r.families))
	copy(out, r.families)
	return out
}

// runBeforeCollect executes the first-collect hook exactly once, then runs
// every synchronous hook followed by every asynchronous hook awaited
// concurrently, per §4.I. A ScrapeFailed error from any hook aborts and
// propagates; any other error is logged and combined for the caller's
// visibility but does not abort collection.
func (r *Registry) runBeforeCollect(ctx context.Context) error {
	r.metricsStarted.Store(true)
	r.firstCollectOnce.Do(func() {
		if r.firstCollectHook != nil {
			r.firstCollectHook()
		}
	})

	r.hookMu.Lock()
	syncHooks := append([]BeforeCollectFunc(nil), r.syncHooks...)
	asyncHooks := append([]AsyncBeforeCollectFunc(nil), r.asyncHooks...)
	r.hookMu.Unlock()

	var combined error
	for _, hook := range syncHooks {
		if err := hook(); err != nil {
			if IsScrapeFailed(err) {
				return err
			}
			r.logger.Warn("before-collect callback failed", zap.Error(err))
			combined = multierr.Append(combined, err)
		}
	}

	if len(asyncHooks) == 0 {
		return combined
	}

	results := make([]error, len(asyncHooks))
	var wg sync.WaitGroup
	wg.Add(len(asyncHooks))
	for i, hook := range asyncHooks {
		go func(i int, hook AsyncBeforeCollectFunc) {
			defer wg.Done()
			results[i] = hook(ctx)
		}(i, hook)
	}
	wg.Wait()

	for _, err := range results {
		if err == nil {
			continue
		}
		if IsScrapeFailed(err) {
			return err
		}
		r.logger.Warn("async before-collect callback failed", zap.Error(err))
		combined = multierr.Append(combined, err)
	}
	return combined
}

// MetricFactory composes factory-level static labels with the registry's
// static labels and creates families/collectors on the registry it was
// built from, per §4.E.
type MetricFactory struct {
	registry     *Registry
	staticNames  LabelNames
	staticValues LabelValues
}

// NewMetricFactory returns a factory with no factory-level static labels.
func NewMetricFactory(r *Registry) *MetricFactory {
	return &MetricFactory{registry: r}
}

// WithLabels returns a derived factory whose new static labels prepend to
// this factory's existing ones.
func (f *MetricFactory) WithLabels(labels map[string]string) *MetricFactory {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = labels[name]
	}

	newNames := NewLabelNames(names...)
	newValues := NewLabelValues(values...)
	return &MetricFactory{
		registry:     f.registry,
		staticNames:  newNames.Concat(f.staticNames),
		staticValues: newValues.Concat(f.staticValues),
	}
}

// combinedStatics returns the factory's static labels concatenated ahead
// of the registry's, per §4.E's "factory labels go first" rule.
func (f *MetricFactory) combinedStatics() (LabelNames, LabelValues, error) {
	if f.staticNames.HasDuplicates() {
		return LabelNames{}, LabelValues{}, newError(ErrLabelCollision, "duplicate static label name on factory")
	}
	regNames, regValues := f.registry.staticLabels()
	if err := checkLabelCollision(f.staticNames, regNames); err != nil {
		return LabelNames{}, LabelValues{}, err
	}
	return f.staticNames.Concat(regNames), f.staticValues.Concat(regValues), nil
}

func checkLabelCollision(a, b LabelNames) error {
	for i := 0; i < a.Len(); i++ {
		if b.Contains(a.Get(i)) {
			return newError(ErrLabelCollision, "label "+quote(a.Get(i))+" declared at more than one level")
		}
	}
	return nil
}

// CollectorOption configures a collector at the moment it is first
// created; it has no effect on an already-existing collector returned by
// a subsequent call for the same identity.
type CollectorOption func(*collector)

// SuppressInitialValue keeps newly created children unpublished until
// their first successful write, instead of publishing immediately.
func SuppressInitialValue() CollectorOption {
	return func(c *collector) { c.suppressInitial = true }
}

// WithExemplars enables exemplar slots on counters and histogram buckets,
// rate-limited to at most one recorded exemplar per minInterval.
func WithExemplars(minInterval time.Duration) CollectorOption {
	return func(c *collector) {
		c.exemplars = true
		c.exemplarMinInterval = minInterval
	}
}

// WithHistogramBounds overrides DefaultHistogramBounds for a histogram
// collector.
func WithHistogramBounds(bounds []float64) CollectorOption {
	return func(c *collector) { c.histogramBounds = bounds }
}

// WithSummaryOptions overrides the default summary window configuration.
func WithSummaryOptions(opts SummaryOptions) CollectorOption {
	return func(c *collector) { c.summaryOpts = opts }
}

func (f *MetricFactory) newCollector(name, help string, kind metricKind, instanceLabelNames []string, opts []CollectorOption) (*collector, error) {
	instanceNames := NewLabelNames(instanceLabelNames...)
	for i := 0; i < instanceNames.Len(); i++ {
		if err := validLabelName(instanceNames.Get(i), false); err != nil {
			return nil, err
		}
	}
	if instanceNames.HasDuplicates() {
		return nil, newError(ErrLabelCollision, "duplicate instance label name for "+quote(name))
	}

	probe := &collector{histogramBounds: DefaultHistogramBounds}
	for _, opt := range opts {
		opt(probe)
	}
	if probe.exemplarMinInterval < 0 {
		return nil, newError(ErrIllegalConfiguration, "exemplar interval must not be negative")
	}
	if kind == kindHistogram {
		if _, err := validateHistogramBounds(probe.histogramBounds); err != nil {
			return nil, err
		}
	}

	staticNames, staticValues, err := f.combinedStatics()
	if err != nil {
		return nil, err
	}
	if err := checkLabelCollision(instanceNames, staticNames); err != nil {
		return nil, err
	}

	fam, err := f.registry.getOrAddFamily(name, help, kind)
	if err != nil {
		return nil, err
	}

	identity := collectorIdentity{
		instanceNames: instanceNames,
		staticNames:   staticNames,
		staticValues:  staticValues,
	}

	configure := func(c *collector) {
		if kind == kindHistogram && c.histogramBounds == nil {
			c.histogramBounds = DefaultHistogramBounds
		}
		for _, opt := range opts {
			opt(c)
		}
		if kind == kindHistogram {
			bounds, err := validateHistogramBounds(c.histogramBounds)
			if err == nil {
				c.histogramBounds = bounds
			}
		}
	}

	c := fam.getOrAddCollector(identity, configure)
	f.registry.metricsStarted.Store(true)
	return c, nil
}

// CounterVec is a counter family member sharing one set of instance label
// names; call WithLabelValues to reach the child for a specific value
// combination.
type CounterVec struct{ c *collector }

// NewCounter registers (or reuses) a counter collector.
func (f *MetricFactory) NewCounter(name, help string, instanceLabelNames []string, opts ...CollectorOption) (*CounterVec, error) {
	c, err := f.newCollector(name, help, kindCounter, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	return &CounterVec{c: c}, nil
}

// WithLabelValues returns the child for this exact instance label value
// combination, creating it with zero initial state if needed.
func (v *CounterVec) WithLabelValues(values ...string) (*Counter, error) {
	return v.c.getOrAddCounter(NewLabelValues(values...))
}

// RemoveLabelValues drops the child for this exact instance label value
// combination, the explicit counterpart to the managed-lifetime reaper's
// removal path. A later WithLabelValues for the same values re-creates it
// with zero initial state.
func (v *CounterVec) RemoveLabelValues(values ...string) error {
	return v.c.removeLabelled(NewLabelValues(values...))
}

// GaugeVec is the gauge analogue of CounterVec.
type GaugeVec struct{ c *collector }

func (f *MetricFactory) NewGauge(name, help string, instanceLabelNames []string, opts ...CollectorOption) (*GaugeVec, error) {
	c, err := f.newCollector(name, help, kindGauge, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	return &GaugeVec{c: c}, nil
}

func (v *GaugeVec) WithLabelValues(values ...string) (*Gauge, error) {
	return v.c.getOrAddGauge(NewLabelValues(values...))
}

// RemoveLabelValues drops the child for this exact instance label value
// combination.
func (v *GaugeVec) RemoveLabelValues(values ...string) error {
	return v.c.removeLabelled(NewLabelValues(values...))
}

// HistogramVec is the histogram analogue of CounterVec.
type HistogramVec struct{ c *collector }

func (f *MetricFactory) NewHistogram(name, help string, instanceLabelNames []string, opts ...CollectorOption) (*HistogramVec, error) {
	c, err := f.newCollector(name, help, kindHistogram, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	return &HistogramVec{c: c}, nil
}

func (v *HistogramVec) WithLabelValues(values ...string) (*Histogram, error) {
	return v.c.getOrAddHistogram(NewLabelValues(values...))
}

// RemoveLabelValues drops the child for this exact instance label value
// combination.
func (v *HistogramVec) RemoveLabelValues(values ...string) error {
	return v.c.removeLabelled(NewLabelValues(values...))
}

// SummaryVec is the summary analogue of CounterVec.
type SummaryVec struct{ c *collector }

func (f *MetricFactory) NewSummary(name, help string, instanceLabelNames []string, opts ...CollectorOption) (*SummaryVec, error) {
	c, err := f.newCollector(name, help, kindSummary, instanceLabelNames, opts)
	if err != nil {
		return nil, err
	}
	return &SummaryVec{c: c}, nil
}

func (v *SummaryVec) WithLabelValues(values ...string) (*Summary, error) {
	return v.c.getOrAddSummary(NewLabelValues(values...))
}

// RemoveLabelValues drops the child for this exact instance label value
// combination.
func (v *SummaryVec) RemoveLabelValues(values ...string) error {
	return v.c.removeLabelled(NewLabelValues(values...))
}
