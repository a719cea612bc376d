package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestExemplarStoreRecordAndBorrow(t *testing.T) {
	s := newExemplarStore(0)
	now := time.Unix(1000, 0)

	if err := s.Record([]ExemplarLabel{{Name: "traceID", Value: "abc123"}}, 1.5, now); err != nil {
		t.Fatalf("Record() = %v, want nil", err)
	}

	borrowed := s.Borrow()
	if borrowed == nil {
		t.Fatal("Borrow() = nil after a successful Record")
	}
	if borrowed.Value != 1.5 {
		t.Errorf("borrowed.Value = %v, want 1.5", borrowed.Value)
	}

	if again := s.Borrow(); again != nil {
		t.Error("second Borrow() should be nil, the slot was emptied by the first")
	}

	s.Return(borrowed)
	if s.Borrow() == nil {
		t.Error("Return() should restore the exemplar for a later Borrow()")
	}
}

func TestExemplarStoreReturnDiscardsWhenFresherArrived(t *testing.T) {
	s := newExemplarStore(0)
	now := time.Unix(1000, 0)

	s.Record([]ExemplarLabel{{Name: "a", Value: "1"}}, 1, now)
	borrowed := s.Borrow()

	s.Record([]ExemplarLabel{{Name: "a", Value: "2"}}, 2, now)

	s.Return(borrowed)

	fresh := s.Borrow()
	if fresh == nil || fresh.Value != 2 {
		t.Errorf("expected the fresher exemplar (value 2) to survive, got %+v", fresh)
	}
}

func TestExemplarStoreRejectsDuplicateKeys(t *testing.T) {
	s := newExemplarStore(0)
	err := s.Record([]ExemplarLabel{{Name: "a", Value: "1"}, {Name: "a", Value: "2"}}, 1, time.Unix(0, 0))
	if err == nil {
		t.Fatal("expected an error for duplicate exemplar keys")
	}
	if !errors.Is(err, ErrExemplarInvalid) {
		t.Errorf("error kind = %v, want ErrExemplarInvalid", err)
	}
}

func TestExemplarStoreRejectsOverBudget(t *testing.T) {
	s := newExemplarStore(0)
	long := make([]byte, maxExemplarRunes+1)
	for i := range long {
		long[i] = 'x'
	}
	err := s.Record([]ExemplarLabel{{Name: "k", Value: string(long)}}, 1, time.Unix(0, 0))
	if err == nil {
		t.Fatal("expected an error for an over-budget exemplar")
	}
}

func TestExemplarStoreRateLimits(t *testing.T) {
	s := newExemplarStore(time.Minute)
	base := time.Unix(1000, 0)

	if err := s.Record([]ExemplarLabel{{Name: "a", Value: "1"}}, 1, base); err != nil {
		t.Fatalf("first Record() = %v, want nil", err)
	}
	if err := s.Record([]ExemplarLabel{{Name: "a", Value: "2"}}, 2, base.Add(time.Second)); err != nil {
		t.Fatalf("rate-limited Record() should not error, got %v", err)
	}

	borrowed := s.Borrow()
	if borrowed == nil || borrowed.Value != 1 {
		t.Errorf("rate-limited call should have been silently discarded, got %+v", borrowed)
	}

	s.Return(borrowed)
	if err := s.Record([]ExemplarLabel{{Name: "a", Value: "3"}}, 3, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("Record() after the interval elapsed = %v, want nil", err)
	}
	if got := s.Borrow(); got == nil || got.Value != 3 {
		t.Errorf("expected the post-interval exemplar to be recorded, got %+v", got)
	}
}
