package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pathfinder"

// Skip reasons for rules that could not be installed
const (
	SkipUnregistered = "unregistered"
	SkipNoBinding    = "no_binding"
	SkipNoHost       = "no_host"
	SkipInstallError = "install_error"
)

var (
	Registry = prometheus.NewRegistry()

	TopologyPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "topology_polls_total",
		Help:      "Number of topology poll rounds.",
	})
	PathTableRebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "path_table_rebuilds_total",
		Help:      "Number of times the path table was rebuilt after a topology change.",
	})
	PathPairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "path_table_pairs",
		Help:      "Number of switch pairs in the current path table.",
	})
	RulesInstalled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_installed_total",
		Help:      "Forwarding rules sent to switches.",
	})
	RulesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rules_skipped_total",
		Help:      "Path hops whose rule could not be installed.",
	}, []string{"reason"})
	Unreachable = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unreachable_total",
		Help:      "Provisioning attempts for switch pairs without a path.",
	})
	PacketIns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packet_in_total",
		Help:      "Frames received from switches.",
	}, []string{"kind"})
	SwitchesRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "switches_registered",
		Help:      "Switches with a live connection.",
	})
)

func init() {
	Registry.MustRegister(
		TopologyPolls,
		PathTableRebuilds,
		PathPairs,
		RulesInstalled,
		RulesSkipped,
		Unreachable,
		PacketIns,
		SwitchesRegistered,
		HostCPUPercent,
		HostMemoryUsedPercent,
		HostLoad1,
	)
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
