package weather

import (
	"testing"
	"time"
)

func TestSlidingWindowEvictsExpiredEntries(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	w := NewSlidingWindow(time.Hour)

	w.Add(base, 2.0)
	w.Add(base.Add(30*time.Minute), 3.0)

	if got := w.Sum(base.Add(30 * time.Minute)); got != 5.0 {
		t.Fatalf("expected sum 5.0, got %v", got)
	}

	// First entry is now exactly one hour old and falls out of the window.
	if got := w.Sum(base.Add(time.Hour)); got != 3.0 {
		t.Fatalf("expected sum 3.0 after eviction, got %v", got)
	}

	if got := w.Sum(base.Add(3 * time.Hour)); got != 0 {
		t.Fatalf("expected empty window, got %v", got)
	}
}

func TestWindowSetTotals(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	set := NewWindowSet()

	set.Add(base.Add(-6*24*time.Hour), 10.0)
	set.Add(base.Add(-12*time.Hour), 4.0)
	set.Add(base.Add(-30*time.Minute), 1.5)
	set.Add(base, 0.5)

	totals := set.Totals(base)
	if totals.Hour1 != 2.0 {
		t.Fatalf("expected 1h total 2.0, got %v", totals.Hour1)
	}
	if totals.Day1 != 6.0 {
		t.Fatalf("expected 24h total 6.0, got %v", totals.Day1)
	}
	if totals.Day7 != 16.0 {
		t.Fatalf("expected 7d total 16.0, got %v", totals.Day7)
	}
}

func TestObservationValidate(t *testing.T) {
	valid := Observation{
		LocationID: "loc-1",
		Timestamp:  time.Now(),
		RainfallMM: 1.0,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid observation, got %v", err)
	}

	missing := valid
	missing.LocationID = ""
	if err := missing.Validate(); err != ErrMissingLocation {
		t.Fatalf("expected ErrMissingLocation, got %v", err)
	}

	negative := valid
	negative.RainfallMM = -0.1
	if err := negative.Validate(); err != ErrNegativeRainfall {
		t.Fatalf("expected ErrNegativeRainfall, got %v", err)
	}
}
