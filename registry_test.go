package metrics

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMetricFactoryNewCounterAndWithLabelValues(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r)

	vec, err := f.NewCounter("http_requests_total", "count of requests", []string{"method"})
	if err != nil {
		t.Fatalf("NewCounter() = %v, want nil", err)
	}
	c, err := vec.WithLabelValues("GET")
	if err != nil {
		t.Fatalf("WithLabelValues() = %v, want nil", err)
	}
	c.Inc(1)

	same, err := vec.WithLabelValues("GET")
	if err != nil {
		t.Fatalf("WithLabelValues() = %v, want nil", err)
	}
	if same != c {
		t.Error("repeated WithLabelValues() with the same value must return the same child")
	}
}

func TestMetricFactoryTypeMismatchFails(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r)

	if _, err := f.NewCounter("widgets", "help", nil); err != nil {
		t.Fatalf("NewCounter() = %v, want nil", err)
	}
	if _, err := f.NewGauge("widgets", "help", nil); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("NewGauge() on an existing counter family = %v, want ErrTypeMismatch", err)
	}
}

func TestMetricFactoryInstanceStaticLabelCollisionFails(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r).WithLabels(map[string]string{"env": "prod"})
	if _, err := f.NewCounter("requests_total", "help", []string{"env"}); !errors.Is(err, ErrLabelCollision) {
		t.Errorf("NewCounter() with a colliding instance/static label = %v, want ErrLabelCollision", err)
	}
}

func TestMetricFactoryDuplicateInstanceLabelNameFails(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r)
	if _, err := f.NewCounter("x", "help", []string{"a", "a"}); !errors.Is(err, ErrLabelCollision) {
		t.Errorf("NewCounter() with a duplicated instance label name = %v, want ErrLabelCollision", err)
	}
}

func TestMetricFactoryChainedWithLabelsDuplicateStaticNameFails(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r).
		WithLabels(map[string]string{"env": "a"}).
		WithLabels(map[string]string{"env": "b"})
	if _, err := f.NewCounter("y", "help", nil); !errors.Is(err, ErrLabelCollision) {
		t.Errorf("NewCounter() with a duplicated static label name across chained WithLabels() = %v, want ErrLabelCollision", err)
	}
}

func TestRegistrySetStaticLabelsOnlyOnceBeforeMetrics(t *testing.T) {
	r := NewRegistry()
	if err := r.SetStaticLabels(map[string]string{"region": "eu"}); err != nil {
		t.Fatalf("SetStaticLabels() = %v, want nil", err)
	}
	if err := r.SetStaticLabels(map[string]string{"region": "us"}); !errors.Is(err, ErrIllegalConfiguration) {
		t.Errorf("second SetStaticLabels() = %v, want ErrIllegalConfiguration", err)
	}

	r2 := NewRegistry()
	f := NewMetricFactory(r2)
	if _, err := f.NewCounter("c", "help", nil); err != nil {
		t.Fatalf("NewCounter() = %v, want nil", err)
	}
	if err := r2.SetStaticLabels(map[string]string{"region": "eu"}); !errors.Is(err, ErrIllegalConfiguration) {
		t.Errorf("SetStaticLabels() after metrics started = %v, want ErrIllegalConfiguration", err)
	}
}

func TestCounterVecRemoveLabelValuesDropsAndRecreatesChild(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r)
	vec, _ := f.NewCounter("removable_total", "help", []string{"id"})
	c, _ := vec.WithLabelValues("A")
	c.Inc(5)

	if err := vec.RemoveLabelValues("A"); err != nil {
		t.Fatalf("RemoveLabelValues() = %v, want nil", err)
	}

	var buf bytes.Buffer
	r.CollectAndExport(context.Background(), &buf, FormatPrometheusText)
	if strings.Contains(buf.String(), `id="A"`) {
		t.Errorf("removed child must not appear in collection, got:\n%s", buf.String())
	}

	recreated, _ := vec.WithLabelValues("A")
	if recreated == c {
		t.Error("a recreated child after RemoveLabelValues() must not be the same instance")
	}
	if got := recreated.Get(); got != 0 {
		t.Errorf("a recreated child must start at zero, got %v", got)
	}

	if err := vec.RemoveLabelValues("A", "B"); err == nil {
		t.Error("RemoveLabelValues() with the wrong arity should fail")
	}
}

func TestRegistryCollectAndExportBasicCounter(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r)
	vec, _ := f.NewCounter("hits_total", "number of hits", []string{"path"})
	c, _ := vec.WithLabelValues("/home")
	c.Inc(3)

	var buf bytes.Buffer
	if err := r.CollectAndExport(context.Background(), &buf, FormatPrometheusText); err != nil {
		t.Fatalf("CollectAndExport() = %v, want nil", err)
	}
	got := buf.String()
	if !strings.Contains(got, "# HELP hits_total number of hits\n") {
		t.Errorf("missing HELP line, got:\n%s", got)
	}
	if !strings.Contains(got, `hits_total{path="/home"} 3`) {
		t.Errorf("missing expected sample line, got:\n%s", got)
	}
}

func TestRegistryBeforeCollectSyncHookRunsEveryPass(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r)
	vec, _ := f.NewGauge("last_value", "help", nil)
	g, _ := vec.WithLabelValues()

	calls := 0
	r.AddBeforeCollectCallback(func() error {
		calls++
		g.Set(float64(calls))
		return nil
	})

	var buf bytes.Buffer
	r.CollectAndExport(context.Background(), &buf, FormatPrometheusText)
	r.CollectAndExport(context.Background(), &buf, FormatPrometheusText)

	if calls != 2 {
		t.Errorf("before-collect hook ran %d times, want 2", calls)
	}
	if got := g.Get(); got != 2 {
		t.Errorf("gauge value = %v, want 2", got)
	}
}

func TestRegistryScrapeFailedAborts(t *testing.T) {
	r := NewRegistry()
	r.AddBeforeCollectCallback(func() error { return ScrapeFailed("upstream unavailable") })

	var buf bytes.Buffer
	err := r.CollectAndExport(context.Background(), &buf, FormatPrometheusText)
	if !IsScrapeFailed(err) {
		t.Errorf("CollectAndExport() = %v, want a ScrapeFailed error", err)
	}
}

func TestRegistryOtherHookErrorDoesNotAbort(t *testing.T) {
	r := NewRegistry()
	f := NewMetricFactory(r)
	vec, _ := f.NewCounter("ok_total", "help", nil)
	c, _ := vec.WithLabelValues()
	c.Inc(1)

	r.AddBeforeCollectCallback(func() error { return errors.New("unrelated failure") })

	var buf bytes.Buffer
	if err := r.CollectAndExport(context.Background(), &buf, FormatPrometheusText); err == nil {
		t.Error("a swallowed hook error should still be returned, combined, to the caller")
	}
	if !strings.Contains(buf.String(), "ok_total") {
		t.Error("collection must still proceed and emit metrics despite the swallowed hook error")
	}
}

func TestRegistryFirstCollectHookRunsOnce(t *testing.T) {
	calls := 0
	r := NewRegistry(WithFirstCollectHook(func() { calls++ }))

	var buf bytes.Buffer
	r.CollectAndExport(context.Background(), &buf, FormatPrometheusText)
	r.CollectAndExport(context.Background(), &buf, FormatPrometheusText)

	if calls != 1 {
		t.Errorf("first-collect hook ran %d times, want 1", calls)
	}
}
