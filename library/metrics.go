package library

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CirculationMetrics counts loan, waitlist and subscription activity. A nil
// *CirculationMetrics is valid and records nothing.
type CirculationMetrics struct {
	registry *prometheus.Registry

	loansCreated     prometheus.Counter
	loanConflicts    prometheus.Counter
	renewals         *prometheus.CounterVec
	waitlistRequests prometheus.Counter
	promotions       prometheus.Counter
	subscriptions    *prometheus.CounterVec
}

// NewCirculationMetrics registers the counters on registry. A nil registry
// gets a fresh one.
func NewCirculationMetrics(registry *prometheus.Registry) *CirculationMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &CirculationMetrics{
		registry: registry,
		loansCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "library_loans_created_total",
			Help: "The total number of loans created",
		}),
		loanConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "library_loan_conflicts_total",
			Help: "The total number of loan requests rejected as duplicates",
		}),
		renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "library_loan_renewals_total",
			Help: "Loan renewal attempts by outcome",
		}, []string{"outcome"}),
		waitlistRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "library_waitlist_requests_total",
			Help: "The total number of waitlist requests",
		}),
		promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "library_waitlist_promotions_total",
			Help: "The total number of waitlist priority promotions",
		}),
		subscriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "library_subscriptions_total",
			Help: "Subscriptions started by plan",
		}, []string{"plan"}),
	}
}

// Registry returns the registry the counters live on.
func (m *CirculationMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *CirculationMetrics) loanCreated() {
	if m != nil {
		m.loansCreated.Inc()
	}
}

func (m *CirculationMetrics) loanConflict() {
	if m != nil {
		m.loanConflicts.Inc()
	}
}

func (m *CirculationMetrics) renewal(outcome RenewalOutcome) {
	if m != nil {
		m.renewals.WithLabelValues(outcome.String()).Inc()
	}
}

func (m *CirculationMetrics) waitlistRequest() {
	if m != nil {
		m.waitlistRequests.Inc()
	}
}

func (m *CirculationMetrics) promotion() {
	if m != nil {
		m.promotions.Inc()
	}
}

func (m *CirculationMetrics) subscriptionStarted(plan string) {
	if m != nil {
		m.subscriptions.WithLabelValues(plan).Inc()
	}
}
