package metrics

import "testing"

func TestLabelSeqEqual(t *testing.T) {
	a := NewLabelNames("a", "b")
	b := NewLabelNames("a", "b")
	c := NewLabelNames("a", "c")
	d := NewLabelNames("a")

	if !a.Equal(b) {
		t.Error("equal sequences reported unequal")
	}
	if a.Equal(c) {
		t.Error("differing sequences reported equal")
	}
	if a.Equal(d) {
		t.Error("differing lengths reported equal")
	}
}

func TestLabelSeqEqualImpliesSameHash(t *testing.T) {
	a := NewLabelValues("x", "y", "z")
	b := NewLabelValues("x", "y", "z")
	if !a.Equal(b) {
		t.Fatal("expected equal")
	}
	if a.sum != b.sum {
		t.Error("equal sequences produced different hashes")
	}
}

func TestLabelSeqConcat(t *testing.T) {
	instance := NewLabelNames("method", "path")
	static := NewLabelNames("env")
	got := instance.Concat(static)

	want := NewLabelNames("method", "path", "env")
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLabelSeqConcatEmpty(t *testing.T) {
	names := NewLabelNames("a")
	if !names.Concat(emptyLabelNames).Equal(names) {
		t.Error("concat with empty sequence changed the sequence")
	}
	if !emptyLabelNames.Concat(names).Equal(names) {
		t.Error("concat onto empty sequence changed the sequence")
	}
}

func TestLabelNamesHasDuplicates(t *testing.T) {
	if NewLabelNames("a", "b", "c").HasDuplicates() {
		t.Error("distinct names reported as duplicates")
	}
	if !NewLabelNames("a", "b", "a").HasDuplicates() {
		t.Error("repeated name not detected")
	}
	if NewLabelNames().HasDuplicates() {
		t.Error("empty sequence reported as having duplicates")
	}
}

func TestIsReservedLabelName(t *testing.T) {
	cases := map[string]bool{
		"__name__": true,
		"__help":   true,
		"name":     false,
		"_name":    false,
	}
	for name, want := range cases {
		if got := isReservedLabelName(name); got != want {
			t.Errorf("isReservedLabelName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestValidLabelNameRejectsReserved(t *testing.T) {
	if err := validLabelName("le", false); err == nil {
		t.Error("expected le to be rejected when reservedAllowed is false")
	}
	if err := validLabelName("le", true); err != nil {
		t.Error("expected le to be accepted when reservedAllowed is true")
	}
	if err := validLabelName("__system", true); err == nil {
		t.Error("expected __-prefixed name to always be rejected")
	}
}

func TestValidMetricName(t *testing.T) {
	good := []string{"a", "_a", "a_1", "HTTP_requests_total"}
	for _, name := range good {
		if err := validMetricName(name); err != nil {
			t.Errorf("validMetricName(%q) = %v, want nil", name, err)
		}
	}

	bad := []string{"", "1abc", "a-b", "a.b", "a b"}
	for _, name := range bad {
		if err := validMetricName(name); err == nil {
			t.Errorf("validMetricName(%q) = nil, want error", name)
		}
	}
}
