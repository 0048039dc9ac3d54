package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirror the Group Accounting Counters and Graph completion
// counts so a host application can scrape scheduler health the way it
// scrapes anything else in the pack (Prometheus gauges/counters,
// registered once). The group gauges are set by a Collector from the
// groups' atomic counters; the graph counters are incremented as nodes
// finish. The core never blocks on a metrics call.
var (
	ActiveCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workcore_group_active_slots",
		Help: "Slots not in the Free state, per group.",
	}, []string{"group"})

	ScheduledCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workcore_group_scheduled_slots",
		Help: "Slots in the Scheduled state, per group and kind.",
	}, []string{"group", "kind"})

	ExecutingCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workcore_group_executing_slots",
		Help: "Slots in the Executing state, per group and kind.",
	}, []string{"group", "kind"})

	ContractsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workcore_group_contracts_completed_total",
		Help: "Contracts that returned to Free after executing, per group.",
	}, []string{"group"})

	GraphNodesDone = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workcore_graph_nodes_done_total",
		Help: "Graph nodes that reached Done, per graph.",
	}, []string{"graph"})

	GraphNodesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workcore_graph_nodes_failed_total",
		Help: "Graph nodes that reached Failed, per graph.",
	}, []string{"graph"})
)

// Registerer is satisfied by *prometheus.Registry and the global
// prometheus.DefaultRegisterer.
type Registerer interface {
	MustRegister(...prometheus.Collector)
}

// RegisterDefaults registers every workcore collector with reg. The
// core never calls this itself; it is the demo CLI's job so that a
// library consumer embedding workcore in a larger process keeps
// control of its own registry.
func RegisterDefaults(reg Registerer) {
	reg.MustRegister(
		ActiveCount,
		ScheduledCount,
		ExecutingCount,
		ContractsCompleted,
		GraphNodesDone,
		GraphNodesFailed,
	)
}
