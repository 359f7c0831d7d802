// Package knstats carries the ambient observability surface for the
// distributed state-space manager: a handful of prometheus counters/gauges
// tracking mapper and scheduler activity. Metrics are not named among
// spec.md's Non-goals (only the symbolic executor, CLI/test-case parsing,
// and logging are), so — per the ambient-stack rule — this is carried the
// way the teacher instruments long-running subsystems (reb, xaction) with
// its own stats package.
package knstats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransmissionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knsymex",
		Name:      "transmissions_committed_total",
		Help:      "Packet-cache commits, by mapper kind.",
	}, []string{"mapper"})

	EngineForks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knsymex",
		Name:      "engine_forks_total",
		Help:      "Engine-level state forks issued by the state mapper, by mapper kind and reason.",
	}, []string{"mapper", "reason"})

	InfeasibleReceivers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knsymex",
		Name:      "infeasible_receivers_total",
		Help:      "Receivers terminated after constraint installation made them unsatisfiable.",
	})

	ActiveClusters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "knsymex",
		Name:      "active_clusters",
		Help:      "Number of live DScenario clusters known to the state mapper.",
	})

	VirtualTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "knsymex",
		Name:      "virtual_time",
		Help:      "Current global (lock-step) or minimum (discrete-event) virtual time.",
	})
)
