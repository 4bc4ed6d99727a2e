package metrics

import (
	"math"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Rate cursor state
// ─────────────────────────────────────────────────────────────────────────────

// rateEntry holds the previously observed counter value, the time it was
// recorded, and the last rate reported for the key.
type rateEntry struct {
	Value    float64
	SeenAt   time.Time
	LastRate float64
}

// RateState tracks the last observation for every rate-tracked metric key so
// that successive absolute byte counters can be converted into a per-second
// rate. Cursors are keyed independently and never interact. It is safe for
// concurrent use, although the polling model runs at most one observation
// sequence at a time.
//
// Cursors live for the process lifetime only; after a restart the first
// snapshot reports rate 0 for every tracked key.
type RateState struct {
	mu      sync.Mutex
	entries map[string]rateEntry
}

// NewRateState creates a ready-to-use RateState.
func NewRateState() *RateState {
	return &RateState{
		entries: make(map[string]rateEntry),
	}
}

// Observe records the current counter value for key and returns the derived
// rate in units per second, rounded to two decimal places.
//
// Semantics:
//   - First observation of a key: the sample is stored and 0 is returned.
//   - Non-positive elapsed time (clock anomaly, same-instant re-observation):
//     the previously reported rate is returned and stored state is untouched,
//     avoiding a division error and a spurious zero.
//   - current < previous (counter reset or rollover): the sample becomes a
//     fresh baseline and 0 is returned rather than a negative rate.
//   - Otherwise: Δvalue / Δtime, rounded; the rounded rate is retained as the
//     value to report on a later non-positive-elapsed observation.
func (s *RateState) Observe(key string, current float64, now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.entries[key]
	if !exists {
		s.entries[key] = rateEntry{Value: current, SeenAt: now}
		return 0
	}

	elapsed := now.Sub(prev.SeenAt)
	if elapsed <= 0 {
		return prev.LastRate
	}

	delta := current - prev.Value
	if delta < 0 {
		s.entries[key] = rateEntry{Value: current, SeenAt: now}
		return 0
	}

	rate := round2(delta / elapsed.Seconds())
	s.entries[key] = rateEntry{Value: current, SeenAt: now, LastRate: rate}
	return rate
}

// Len returns the number of live cursors. Used by tests and debug logging.
func (s *RateState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// round2 rounds to two decimal places for presentation stability.
func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
