package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the distribution ledger. All helpers are
// nil-safe so services can run without metrics wired.
type Metrics struct {
	// Distribution outcomes by result
	DistributionOutcome *prometheus.CounterVec

	// Full distribution latency including retries
	DistributeLatency prometheus.Histogram

	// Allocations created across all distributions
	AllocationsCreated prometheus.Counter

	// Beneficiaries whose funding goal was reached
	GoalsReached prometheus.Counter

	// Withdrawals performed (single and batch flips both count)
	Withdrawals prometheus.Counter
}

// New creates a Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		DistributionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lanfiasave_ledger_distributions_total",
			Help: "Total distribution attempts by outcome",
		}, []string{"outcome"}), // outcome: "distributed", "already_distributed", "no_eligible_beneficiaries", "error"

		DistributeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "lanfiasave_ledger_distribute_duration_seconds",
			Help:    "Duration of validate-and-distribute including retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		AllocationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanfiasave_ledger_allocations_created_total",
			Help: "Total allocation records created",
		}),

		GoalsReached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanfiasave_ledger_goals_reached_total",
			Help: "Total beneficiaries that crossed the funding goal threshold",
		}),

		Withdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanfiasave_ledger_withdrawals_total",
			Help: "Total allocations marked withdrawn",
		}),
	}
}

// ObserveDistribution records one distribution attempt.
func (m *Metrics) ObserveDistribution(outcome string, d time.Duration) {
	if m != nil {
		m.DistributionOutcome.WithLabelValues(outcome).Inc()
		m.DistributeLatency.Observe(d.Seconds())
	}
}

// AddAllocations records allocation rows created by a distribution.
func (m *Metrics) AddAllocations(n int) {
	if m != nil {
		m.AllocationsCreated.Add(float64(n))
	}
}

// IncGoalReached records a goal-threshold crossing.
func (m *Metrics) IncGoalReached() {
	if m != nil {
		m.GoalsReached.Inc()
	}
}

// AddWithdrawals records allocations flipped to withdrawn.
func (m *Metrics) AddWithdrawals(n int) {
	if m != nil {
		m.Withdrawals.Add(float64(n))
	}
}
