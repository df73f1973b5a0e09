package weather

import "time"

// SlidingWindow maintains a rolling rainfall sum over a fixed span.
// Additions are O(1); expired entries are evicted lazily on the next query.
type SlidingWindow struct {
	span    time.Duration
	entries []windowEntry
	sum     float64
}

type windowEntry struct {
	at    time.Time
	value float64
}

// NewSlidingWindow constructs a window over the given span.
func NewSlidingWindow(span time.Duration) *SlidingWindow {
	return &SlidingWindow{span: span}
}

// Add incorporates a value at the given instant.
func (w *SlidingWindow) Add(at time.Time, value float64) {
	if w == nil {
		return
	}
	w.entries = append(w.entries, windowEntry{at: at.UTC(), value: value})
	w.sum += value
}

// Sum returns the rolling sum as of now, evicting expired entries.
func (w *SlidingWindow) Sum(now time.Time) float64 {
	if w == nil {
		return 0
	}
	cutoff := now.UTC().Add(-w.span)
	evicted := 0
	for _, entry := range w.entries {
		if entry.at.After(cutoff) {
			break
		}
		w.sum -= entry.value
		evicted++
	}
	if evicted > 0 {
		w.entries = w.entries[evicted:]
	}
	if len(w.entries) == 0 {
		w.sum = 0
	}
	return w.sum
}

// WindowTotals carries the rolling rainfall sums used downstream.
type WindowTotals struct {
	Hour1 float64
	Day1  float64
	Day7  float64
}

// WindowSet groups the fixed rolling windows for one monitored location.
type WindowSet struct {
	hour1 *SlidingWindow
	day1  *SlidingWindow
	day7  *SlidingWindow
}

// NewWindowSet constructs the standard 1h/24h/7d window set.
func NewWindowSet() *WindowSet {
	return &WindowSet{
		hour1: NewSlidingWindow(time.Hour),
		day1:  NewSlidingWindow(24 * time.Hour),
		day7:  NewSlidingWindow(7 * 24 * time.Hour),
	}
}

// Add incorporates a rainfall value into every window.
func (s *WindowSet) Add(at time.Time, rainfallMM float64) {
	if s == nil {
		return
	}
	s.hour1.Add(at, rainfallMM)
	s.day1.Add(at, rainfallMM)
	s.day7.Add(at, rainfallMM)
}

// Totals returns the current rolling sums.
func (s *WindowSet) Totals(now time.Time) WindowTotals {
	if s == nil {
		return WindowTotals{}
	}
	return WindowTotals{
		Hour1: s.hour1.Sum(now),
		Day1:  s.day1.Sum(now),
		Day7:  s.day7.Sum(now),
	}
}
