package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCandidatesScored_IncrementsByDirection(t *testing.T) {
	CandidatesScored.Reset()
	CandidatesScored.WithLabelValues("LONG").Inc()
	CandidatesScored.WithLabelValues("LONG").Inc()
	CandidatesScored.WithLabelValues("SHORT").Inc()

	if got := testutil.ToFloat64(CandidatesScored.WithLabelValues("LONG")); got != 2 {
		t.Errorf("expected 2 LONG candidates, got %.0f", got)
	}
	if got := testutil.ToFloat64(CandidatesScored.WithLabelValues("SHORT")); got != 1 {
		t.Errorf("expected 1 SHORT candidate, got %.0f", got)
	}
}

func TestDailyPnL_SetsGaugeValue(t *testing.T) {
	DailyPnL.Set(-125.50)
	if got := testutil.ToFloat64(DailyPnL); got != -125.50 {
		t.Errorf("expected daily pnl gauge -125.50, got %.2f", got)
	}
}

func TestCircuitBreakerTripped_TogglesBetweenZeroAndOne(t *testing.T) {
	CircuitBreakerTripped.Set(1)
	if got := testutil.ToFloat64(CircuitBreakerTripped); got != 1 {
		t.Errorf("expected 1 while tripped, got %.0f", got)
	}
	CircuitBreakerTripped.Set(0)
	if got := testutil.ToFloat64(CircuitBreakerTripped); got != 0 {
		t.Errorf("expected 0 once cleared, got %.0f", got)
	}
}
