package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline counters, labelled by outcome.
var (
	withdrawDispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_withdraw_dispatches_total",
		Help: "Withdrawal dispatch attempts by outcome (dispatched, skipped, errored).",
	}, []string{"result"})

	depositCollections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_deposit_collections_total",
		Help: "Deposit collection passes by outcome (collected, partial, below_min, errored).",
	}, []string{"result"})

	amlChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_aml_checks_total",
		Help: "AML screening answers by outcome (clear, pending, risk).",
	}, []string{"result"})
)

func init() { //nolint:gochecknoinits // metric registration
	prometheus.MustRegister(withdrawDispatches, depositCollections, amlChecks)
}
