package metrics

import "testing"

func TestGaugeSetIncDec(t *testing.T) {
	g := newGauge(NewLabelValues(), false)
	g.Set(5)
	if got := g.Get(); got != 5 {
		t.Fatalf("Get() = %v, want 5", got)
	}
	g.Inc(2)
	if got := g.Get(); got != 7 {
		t.Errorf("Get() after Inc(2) = %v, want 7", got)
	}
	g.Dec(3)
	if got := g.Get(); got != 4 {
		t.Errorf("Get() after Dec(3) = %v, want 4", got)
	}
	g.Inc(-10)
	if got := g.Get(); got != -6 {
		t.Errorf("Get() after Inc(-10) = %v, want -6", got)
	}
}

func TestGaugeIncToDecTo(t *testing.T) {
	g := newGauge(NewLabelValues(), false)
	g.Set(10)
	g.IncTo(5)
	if got := g.Get(); got != 10 {
		t.Errorf("IncTo(lower) changed the value to %v", got)
	}
	g.IncTo(20)
	if got := g.Get(); got != 20 {
		t.Errorf("IncTo(higher) = %v, want 20", got)
	}
	g.DecTo(30)
	if got := g.Get(); got != 20 {
		t.Errorf("DecTo(higher) changed the value to %v", got)
	}
	g.DecTo(1)
	if got := g.Get(); got != 1 {
		t.Errorf("DecTo(lower) = %v, want 1", got)
	}
}

func TestGaugeSetToCurrentTime(t *testing.T) {
	g := newGauge(NewLabelValues(), false)
	g.SetToCurrentTime()
	if got := g.Get(); got <= 0 {
		t.Errorf("SetToCurrentTime() produced non-positive value %v", got)
	}
}

func TestGaugeSuppressInitialValue(t *testing.T) {
	g := newGauge(NewLabelValues(), true)
	if g.IsPublished() {
		t.Fatal("a suppressed gauge must start unpublished")
	}
	g.Set(0)
	if !g.IsPublished() {
		t.Error("a successful Set must latch the gauge published, even to zero")
	}
}
