package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Email send outcomes.
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

// RecoveryMetrics tracks cart lifecycle transitions and recovery email sends.
type RecoveryMetrics struct {
	transitions *prometheus.CounterVec
	emails      *prometheus.CounterVec
	tracked     prometheus.Counter
}

// NewRecoveryMetrics registers the recovery metrics on the provided registerer.
func NewRecoveryMetrics(reg prometheus.Registerer) *RecoveryMetrics {
	if reg == nil {
		return &RecoveryMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_transitions_total",
		Help:      "Cart records moved into a lifecycle status.",
	}, []string{"status"})
	emails := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_emails_total",
		Help:      "Recovery email attempts by step and result.",
	}, []string{"step", "result"})
	tracked := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cart_changes_tracked_total",
		Help:      "Storefront cart changes persisted.",
	})
	reg.MustRegister(transitions, emails, tracked)
	return &RecoveryMetrics{transitions: transitions, emails: emails, tracked: tracked}
}

// AddTransitions counts n records moved into status.
func (r *RecoveryMetrics) AddTransitions(status string, n int64) {
	if r == nil || r.transitions == nil || n <= 0 {
		return
	}
	r.transitions.WithLabelValues(normalizeLabel(status)).Add(float64(n))
}

// ObserveEmail records a single send attempt.
func (r *RecoveryMetrics) ObserveEmail(step int, result string) {
	if r == nil || r.emails == nil {
		return
	}
	r.emails.WithLabelValues(strconv.Itoa(step), normalizeLabel(result)).Inc()
}

// IncTracked counts a persisted storefront cart change.
func (r *RecoveryMetrics) IncTracked() {
	if r == nil || r.tracked == nil {
		return
	}
	r.tracked.Inc()
}
