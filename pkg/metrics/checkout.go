package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics tracks charge creation and reconciliation outcomes.
type CheckoutMetrics struct {
	charges         *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	unresolved      prometheus.Counter
	shares          *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout collectors on reg. A nil
// registerer yields a no-op recorder.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_charges_total",
		Help: "Gateway charges attempted, by payment method and outcome.",
	}, []string{"method", "outcome"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_gateway_duration_seconds",
		Help:    "Latency of payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_transitions_total",
		Help: "Purchases moved out of pending, by target status.",
	}, []string{"status"})
	unresolved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_unresolved_total",
		Help: "Gateway payments that resolved to no purchase rows.",
	})
	shares := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revenue_shares_recorded_total",
		Help: "Revenue share write attempts, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(charges, gatewayDuration, transitions, unresolved, shares)
	return &CheckoutMetrics{
		charges:         charges,
		gatewayDuration: gatewayDuration,
		transitions:     transitions,
		unresolved:      unresolved,
		shares:          shares,
	}
}

// IncCharge counts a charge attempt.
func (m *CheckoutMetrics) IncCharge(method, outcome string) {
	if m == nil || m.charges == nil {
		return
	}
	m.charges.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// ObserveGateway records the latency of a gateway operation.
func (m *CheckoutMetrics) ObserveGateway(operation string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// AddTransitions counts purchases that left pending.
func (m *CheckoutMetrics) AddTransitions(status string, n int) {
	if m == nil || m.transitions == nil || n <= 0 {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Add(float64(n))
}

func (m *CheckoutMetrics) IncUnresolved() {
	if m == nil || m.unresolved == nil {
		return
	}
	m.unresolved.Inc()
}

// IncShare counts a revenue share outcome: created, duplicate, or failed.
func (m *CheckoutMetrics) IncShare(outcome string) {
	if m == nil || m.shares == nil {
		return
	}
	m.shares.WithLabelValues(normalizeLabel(outcome)).Inc()
}
