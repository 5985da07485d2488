// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tgmonitor"

// Registry is the registry every collector below is attached to.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	BridgesRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "bridges_running",
		Help:      "Execution loops currently owning a remote session.",
	})

	SubmitDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bridge_submit_seconds",
		Help:      "Latency of operations submitted to an execution loop.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
	}, []string{"op", "outcome"})

	MessagesIngested = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_ingested_total",
		Help:      "Inbound messages seen by the keyword matcher.",
	})

	AlertsEnqueued = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_enqueued_total",
		Help:      "Alerts accepted by the dispatch queue.",
	})

	AlertsDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_dropped_total",
		Help:      "Alerts dropped because the dispatch queue stayed full.",
	})

	AlertDeliveries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_deliveries_total",
		Help:      "Alert deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})

	BroadcastDestinations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_destinations_total",
		Help:      "Broadcast deliveries by outcome.",
	}, []string{"outcome"})

	MonitoringActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitoring_active",
		Help:      "Identities with a running monitoring supervisor.",
	})

	SupervisorErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "supervisor_tick_errors_total",
		Help:      "Failed supervisor ticks.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves Registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
