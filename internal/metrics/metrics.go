// Package metrics exposes the control plane's Prometheus instrumentation:
// candidates scored, reservation outcomes, leverage granted, and
// positions closed by exit reason. Grounded on the metric shapes the
// pack's coinbase bot registers (order/exit-reason counters, a P&L
// gauge) and adapted to the five-component pipeline here.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CandidatesScored counts candidates the scanner emitted, by direction.
	CandidatesScored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpctl_candidates_scored_total",
		Help: "Candidates emitted by the momentum scanner, by direction.",
	}, []string{"direction"})

	// ReservationOutcomes counts reserve_slot results, by outcome.
	ReservationOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpctl_reservation_outcomes_total",
		Help: "Risk ledger reserve_slot outcomes.",
	}, []string{"outcome"})

	// LeverageGranted counts reservations by the leverage tier granted.
	LeverageGranted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpctl_leverage_granted_total",
		Help: "Reservations granted, bucketed by leverage multiple.",
	}, []string{"leverage"})

	// PositionsClosed counts closed positions by exit reason.
	PositionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpctl_positions_closed_total",
		Help: "Closed positions, by exit reason.",
	}, []string{"exit_reason"})

	// DailyPnL is the current UTC day's realized P&L.
	DailyPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perpctl_daily_pnl",
		Help: "Realized P&L for the current UTC trading day.",
	})

	// CircuitBreakerTripped is 1 while the daily-loss circuit breaker is tripped.
	CircuitBreakerTripped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "perpctl_circuit_breaker_tripped",
		Help: "1 if the daily loss circuit breaker is currently tripped, else 0.",
	})

	// GatewayUnavailable counts market data gateway UNAVAILABLE responses.
	GatewayUnavailable = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "perpctl_gateway_unavailable_total",
		Help: "Market data gateway requests exhausted retries, by cache kind.",
	}, []string{"cache"})
)

func init() {
	prometheus.MustRegister(
		CandidatesScored,
		ReservationOutcomes,
		LeverageGranted,
		PositionsClosed,
		DailyPnL,
		CircuitBreakerTripped,
		GatewayUnavailable,
	)
}
