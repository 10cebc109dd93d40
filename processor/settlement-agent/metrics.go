package settlementagent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/reliefgrid/treasury/fund"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_outcomes_total",
		Help: "Processing outcomes by status tag.",
	}, []string{"outcome"})

	terminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_disbursements_terminal_total",
		Help: "Disbursements reaching a terminal status, by status.",
	}, []string{"status"})

	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_sweeps_total",
		Help: "Reconciliation sweeps performed.",
	})

	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_pending_disbursements",
		Help: "Disbursements currently in the pending partition.",
	})
)

func recordOutcome(status fund.OutcomeStatus) {
	outcomesTotal.WithLabelValues(string(status)).Inc()
}

func recordTerminal(status fund.Status) {
	terminalTotal.WithLabelValues(string(status)).Inc()
}

func recordSweep() {
	sweepsTotal.Inc()
}

func observePending(n int) {
	pendingGauge.Set(float64(n))
}
