// Package gostat exposes Go runtime statistics as gauges on a registry,
// refreshed once per collection pass through a single before-collect
// callback. Field selection mirrors prometheus.NewGoCollector.
package gostat

import (
	"runtime"

	metrics "github.com/dekloe-metrics/corereg"
)

// Collector holds the gauges mirroring runtime.MemStats and a handful of
// scheduler-level counts. Every field is a zero-label gauge; monotonic
// memstats fields (allocs, frees, lookups, mallocs) are exposed as gauges
// too rather than counters, since Capture only ever calls Set with the
// runtime's own cumulative value.
type Collector struct {
	numGoroutine *metrics.Gauge
	threadCreate *metrics.Gauge

	alloc         *metrics.Gauge
	totalAlloc    *metrics.Gauge
	sys           *metrics.Gauge
	lookups       *metrics.Gauge
	mallocs       *metrics.Gauge
	frees         *metrics.Gauge
	heapAlloc     *metrics.Gauge
	heapSys       *metrics.Gauge
	heapIdle      *metrics.Gauge
	heapInuse     *metrics.Gauge
	heapReleased  *metrics.Gauge
	heapObjects   *metrics.Gauge
	stackInuse    *metrics.Gauge
	stackSys      *metrics.Gauge
	mSpanInuse    *metrics.Gauge
	mSpanSys      *metrics.Gauge
	mCacheInuse   *metrics.Gauge
	mCacheSys     *metrics.Gauge
	buckHashSys   *metrics.Gauge
	gcSys         *metrics.Gauge
	otherSys      *metrics.Gauge
	nextGC        *metrics.Gauge
	lastGC        *metrics.Gauge
	gcCPUFraction *metrics.Gauge
}

func zeroLabelGauge(f *metrics.MetricFactory, name, help string, errp *error) *metrics.Gauge {
	if *errp != nil {
		return nil
	}
	vec, err := f.NewGauge(name, help, nil)
	if err != nil {
		*errp = err
		return nil
	}
	g, err := vec.WithLabelValues()
	if err != nil {
		*errp = err
		return nil
	}
	return g
}

// NewCollector creates every runtime gauge on f and returns a Collector
// ready for Capture. Construction fails only if one of the fixed metric
// names collides with an incompatible existing family.
func NewCollector(f *metrics.MetricFactory) (*Collector, error) {
	var err error
	c := &Collector{
		numGoroutine:  zeroLabelGauge(f, "go_goroutines", "Number of goroutines that currently exist.", &err),
		threadCreate:  zeroLabelGauge(f, "go_threads", "Number of OS threads created.", &err),
		alloc:         zeroLabelGauge(f, "go_memstats_alloc_bytes", "Number of bytes allocated and still in use.", &err),
		totalAlloc:    zeroLabelGauge(f, "go_memstats_alloc_bytes_total", "Total number of bytes allocated, even if freed.", &err),
		sys:           zeroLabelGauge(f, "go_memstats_sys_bytes", "Number of bytes obtained from system.", &err),
		lookups:       zeroLabelGauge(f, "go_memstats_lookups_total", "Total number of pointer lookups.", &err),
		mallocs:       zeroLabelGauge(f, "go_memstats_mallocs_total", "Total number of mallocs.", &err),
		frees:         zeroLabelGauge(f, "go_memstats_frees_total", "Total number of frees.", &err),
		heapAlloc:     zeroLabelGauge(f, "go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use.", &err),
		heapSys:       zeroLabelGauge(f, "go_memstats_heap_sys_bytes", "Number of heap bytes obtained from system.", &err),
		heapIdle:      zeroLabelGauge(f, "go_memstats_heap_idle_bytes", "Number of heap bytes waiting to be used.", &err),
		heapInuse:     zeroLabelGauge(f, "go_memstats_heap_inuse_bytes", "Number of heap bytes that are in use.", &err),
		heapReleased:  zeroLabelGauge(f, "go_memstats_heap_released_bytes", "Number of heap bytes released to OS.", &err),
		heapObjects:   zeroLabelGauge(f, "go_memstats_heap_objects", "Number of allocated objects.", &err),
		stackInuse:    zeroLabelGauge(f, "go_memstats_stack_inuse_bytes", "Number of bytes in use by the stack allocator.", &err),
		stackSys:      zeroLabelGauge(f, "go_memstats_stack_sys_bytes", "Number of bytes obtained from system for stack allocator.", &err),
		mSpanInuse:    zeroLabelGauge(f, "go_memstats_mspan_inuse_bytes", "Number of bytes in use by mspan structures.", &err),
		mSpanSys:      zeroLabelGauge(f, "go_memstats_mspan_sys_bytes", "Number of bytes used for mspan structures obtained from system.", &err),
		mCacheInuse:   zeroLabelGauge(f, "go_memstats_mcache_inuse_bytes", "Number of bytes in use by mcache structures.", &err),
		mCacheSys:     zeroLabelGauge(f, "go_memstats_mcache_sys_bytes", "Number of bytes used for mcache structures obtained from system.", &err),
		buckHashSys:   zeroLabelGauge(f, "go_memstats_buck_hash_sys_bytes", "Number of bytes used by the profiling bucket hash table.", &err),
		gcSys:         zeroLabelGauge(f, "go_memstats_gc_sys_bytes", "Number of bytes used for garbage collection system metadata.", &err),
		otherSys:      zeroLabelGauge(f, "go_memstats_other_sys_bytes", "Number of bytes used for other system allocations.", &err),
		nextGC:        zeroLabelGauge(f, "go_memstats_next_gc_bytes", "Number of heap bytes when next garbage collection will take place.", &err),
		lastGC:        zeroLabelGauge(f, "go_memstats_last_gc_time_seconds", "Number of seconds since 1970 of last garbage collection.", &err),
		gcCPUFraction: zeroLabelGauge(f, "go_memstats_gc_cpu_fraction", "The fraction of this program's available CPU time used by the GC since the program started.", &err),
	}
	if err != nil {
		return nil, err
	}

	infoVec, err := f.WithLabels(map[string]string{"version": runtime.Version()}).NewGauge("go_info", "Information about the Go environment.", nil)
	if err != nil {
		return nil, err
	}
	info, err := infoVec.WithLabelValues()
	if err != nil {
		return nil, err
	}
	info.Set(1)

	return c, nil
}

// Capture reads the current runtime statistics and writes them into the
// gauges. Call it directly, or install it as a before-collect callback
// with Install.
func (c *Collector) Capture() error {
	c.numGoroutine.Set(float64(runtime.NumGoroutine()))
	recordCount, _ := runtime.ThreadCreateProfile(nil)
	c.threadCreate.Set(float64(recordCount))

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	c.alloc.Set(float64(stats.Alloc))
	c.totalAlloc.Set(float64(stats.TotalAlloc))
	c.sys.Set(float64(stats.Sys))
	c.lookups.Set(float64(stats.Lookups))
	c.mallocs.Set(float64(stats.Mallocs))
	c.frees.Set(float64(stats.Frees))
	c.heapAlloc.Set(float64(stats.HeapAlloc))
	c.heapSys.Set(float64(stats.HeapSys))
	c.heapIdle.Set(float64(stats.HeapIdle))
	c.heapInuse.Set(float64(stats.HeapInuse))
	c.heapReleased.Set(float64(stats.HeapReleased))
	c.heapObjects.Set(float64(stats.HeapObjects))
	c.stackInuse.Set(float64(stats.StackInuse))
	c.stackSys.Set(float64(stats.StackSys))
	c.mSpanInuse.Set(float64(stats.MSpanInuse))
	c.mSpanSys.Set(float64(stats.MSpanSys))
	c.mCacheInuse.Set(float64(stats.MCacheInuse))
	c.mCacheSys.Set(float64(stats.MCacheSys))
	c.buckHashSys.Set(float64(stats.BuckHashSys))
	c.gcSys.Set(float64(stats.GCSys))
	c.otherSys.Set(float64(stats.OtherSys))
	c.nextGC.Set(float64(stats.NextGC))
	c.lastGC.Set(float64(stats.LastGC) / 1e9)
	c.gcCPUFraction.Set(stats.GCCPUFraction)
	return nil
}

// Install creates the runtime gauges on f and registers Capture as a
// synchronous before-collect callback on registry, so every collection
// pass picks up fresh runtime statistics without a separate polling loop.
func Install(registry *metrics.Registry, f *metrics.MetricFactory) (*Collector, error) {
	c, err := NewCollector(f)
	if err != nil {
		return nil, err
	}
	registry.AddBeforeCollectCallback(c.Capture)
	return c, nil
}
