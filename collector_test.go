package metrics

import "testing"

func identityFor(instanceNames ...string) collectorIdentity {
	return collectorIdentity{instanceNames: NewLabelNames(instanceNames...)}
}

func TestCollectorGetOrAddCounterReusesSameValues(t *testing.T) {
	c := newCollector(identityFor("method"), kindCounter)
	a, err := c.getOrAddCounter(NewLabelValues("GET"))
	if err != nil {
		t.Fatalf("getOrAddCounter() = %v, want nil", err)
	}
	b, err := c.getOrAddCounter(NewLabelValues("GET"))
	if err != nil {
		t.Fatalf("getOrAddCounter() = %v, want nil", err)
	}
	if a != b {
		t.Error("getOrAddCounter() with the same label values must return the same child")
	}

	other, err := c.getOrAddCounter(NewLabelValues("POST"))
	if err != nil {
		t.Fatalf("getOrAddCounter() = %v, want nil", err)
	}
	if other == a {
		t.Error("getOrAddCounter() with different label values must return a distinct child")
	}
}

func TestCollectorCheckArityMismatch(t *testing.T) {
	c := newCollector(identityFor("method", "path"), kindCounter)
	if _, err := c.getOrAddCounter(NewLabelValues("GET")); err == nil {
		t.Error("expected an arity mismatch error for too few label values")
	}
}

func TestCollectorRemoveThenRecreate(t *testing.T) {
	c := newCollector(identityFor("method"), kindGauge)
	first, _ := c.getOrAddGauge(NewLabelValues("GET"))
	first.Set(42)

	c.remove(NewLabelValues("GET"))

	second, _ := c.getOrAddGauge(NewLabelValues("GET"))
	if second == first {
		t.Error("a removed child must not be the same instance once recreated")
	}
	if got := second.Get(); got != 0 {
		t.Errorf("a recreated child must start at zero, got %v", got)
	}
}

func TestCollectorSnapshotIsDefensiveCopy(t *testing.T) {
	c := newCollector(identityFor("method"), kindCounter)
	c.getOrAddCounter(NewLabelValues("GET"))

	snap := c.snapshot()
	c.getOrAddCounter(NewLabelValues("POST"))

	if len(snap) != 1 {
		t.Errorf("snapshot taken before the second insert must have length 1, got %d", len(snap))
	}
}

func TestFamilyGetOrAddCollectorRunsConfigureOnlyOnce(t *testing.T) {
	f := newFamily("requests_total", "help text", kindCounter)
	id := identityFor("method")

	calls := 0
	configure := func(c *collector) { calls++; c.suppressInitial = true }

	a := f.getOrAddCollector(id, configure)
	b := f.getOrAddCollector(id, configure)

	if a != b {
		t.Fatal("getOrAddCollector() with the same identity must return the same collector")
	}
	if calls != 1 {
		t.Errorf("configure ran %d times, want exactly 1", calls)
	}
	if !a.suppressInitial {
		t.Error("configure's effect must be visible on the created collector")
	}
}

func TestFamilyGetOrAddCollectorDistinguishesStaticLabels(t *testing.T) {
	f := newFamily("requests_total", "help text", kindCounter)
	idA := collectorIdentity{
		instanceNames: NewLabelNames("method"),
		staticNames:   NewLabelNames("env"),
		staticValues:  NewLabelValues("prod"),
	}
	idB := collectorIdentity{
		instanceNames: NewLabelNames("method"),
		staticNames:   NewLabelNames("env"),
		staticValues:  NewLabelValues("staging"),
	}

	a := f.getOrAddCollector(idA, nil)
	b := f.getOrAddCollector(idB, nil)
	if a == b {
		t.Error("collectors with different static label values must be distinct")
	}
	if len(f.snapshot()) != 2 {
		t.Errorf("family should hold 2 collectors, got %d", len(f.snapshot()))
	}
}
