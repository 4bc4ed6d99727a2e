package metrics_test

import (
	"testing"
	"time"

	"github.com/opengpon/gpon_collector/producer/metrics"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRateState_FirstObservationIsZero(t *testing.T) {
	rs := metrics.NewRateState()

	if got := rs.Observe("gw/lan_eth1_rx_total_bytes", 100, t0); got != 0 {
		t.Errorf("first observation rate = %v, want 0", got)
	}
	if rs.Len() != 1 {
		t.Errorf("Len() = %d, want 1", rs.Len())
	}
}

func TestRateState_DeltaOverElapsedSeconds(t *testing.T) {
	rs := metrics.NewRateState()
	rs.Observe("k", 100, t0)

	if got := rs.Observe("k", 150, t0.Add(5*time.Second)); got != 10.0 {
		t.Errorf("rate = %v, want 10.0", got)
	}
}

func TestRateState_RoundsToTwoDecimals(t *testing.T) {
	rs := metrics.NewRateState()
	rs.Observe("k", 0, t0)

	// 100 bytes over 3 s = 33.333... → 33.33
	if got := rs.Observe("k", 100, t0.Add(3*time.Second)); got != 33.33 {
		t.Errorf("rate = %v, want 33.33", got)
	}
}

func TestRateState_CounterResetReturnsZero(t *testing.T) {
	rs := metrics.NewRateState()
	rs.Observe("k", 100, t0)
	rs.Observe("k", 150, t0.Add(5*time.Second))

	// Device rebooted: counter went backwards. Rate is 0 and the new value
	// becomes the baseline.
	if got := rs.Observe("k", 20, t0.Add(10*time.Second)); got != 0 {
		t.Errorf("rate after reset = %v, want 0", got)
	}
	if got := rs.Observe("k", 70, t0.Add(15*time.Second)); got != 10.0 {
		t.Errorf("rate after reseed = %v, want 10.0", got)
	}
}

func TestRateState_NonPositiveElapsedRepeatsLastRate(t *testing.T) {
	rs := metrics.NewRateState()
	rs.Observe("k", 100, t0)
	rs.Observe("k", 150, t0.Add(5*time.Second)) // rate 10.0

	// Same timestamp: report the previous rate, leave the cursor untouched.
	if got := rs.Observe("k", 999, t0.Add(5*time.Second)); got != 10.0 {
		t.Errorf("rate at repeated timestamp = %v, want 10.0", got)
	}

	// Cursor still anchored at (150, t0+5s).
	if got := rs.Observe("k", 250, t0.Add(15*time.Second)); got != 10.0 {
		t.Errorf("rate after repeated timestamp = %v, want 10.0", got)
	}
}

func TestRateState_KeysAreIndependent(t *testing.T) {
	rs := metrics.NewRateState()
	rs.Observe("a", 100, t0)
	rs.Observe("b", 500, t0)

	if got := rs.Observe("a", 200, t0.Add(10*time.Second)); got != 10.0 {
		t.Errorf("rate a = %v, want 10.0", got)
	}
	if got := rs.Observe("b", 500, t0.Add(10*time.Second)); got != 0 {
		t.Errorf("rate b = %v, want 0", got)
	}
	if rs.Len() != 2 {
		t.Errorf("Len() = %d, want 2", rs.Len())
	}
}
