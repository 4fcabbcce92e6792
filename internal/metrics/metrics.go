package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/sirupsen/logrus"
)

var Enabled bool
var registry = prometheus.NewRegistry()
var ScrapingHandler http.Handler = nil
var durationBuckets = []float64{0.002, 0.005, 0.010, 0.02, 0.03, 0.05, 0.1, 0.15, 0.3, 0.6, 1.0, 5.0, 30.0}

const (
	COMPLETIONS    = "completed_total"
	EXECUTION_TIME = "execution_time"
	CLAIMS         = "claims_total"
	LEASES_LOST    = "leases_lost_total"
	TRACKED        = "tracked_invocations"
)

var (
	metricCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: COMPLETIONS,
		Help: "Number of completed function invocations",
	}, []string{"node", "function", "outcome"})
	metricExecutionTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    EXECUTION_TIME,
		Help:    "Function duration",
		Buckets: durationBuckets,
	}, []string{"node", "function"})
	metricClaims = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: CLAIMS,
		Help: "Scheduled events claimed by this node",
	}, []string{"node"})
	metricLeasesLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: LEASES_LOST,
		Help: "Completions or heartbeats rejected because the event was reclaimed",
	}, []string{"node"})
	metricTracked = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: TRACKED,
		Help: "Scheduled invocations currently tracked by the claim loop",
	}, []string{"node"})
)

func Init() {
	if config.GetBool(config.METRICS_ENABLED, false) {
		logrus.Info("Metrics enabled.")
		Enabled = true
	} else {
		Enabled = false
		return
	}

	registry.MustRegister(metricCompletions)
	registry.MustRegister(metricExecutionTime)
	registry.MustRegister(metricClaims)
	registry.MustRegister(metricLeasesLost)
	registry.MustRegister(metricTracked)

	ScrapingHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true})

	if config.GetString(config.METRICS_PROMETHEUS_HOST, "") != "" {
		go MetricsRetriever()
	}
}

func nodeLabel() string {
	return node.LocalNode.String()
}

// AddCompletedInvocation counts an invocation; outcome is "success" or an error kind.
func AddCompletedInvocation(funcName string, outcome string) {
	if !Enabled {
		return
	}
	metricCompletions.With(prometheus.Labels{"function": funcName, "node": nodeLabel(), "outcome": outcome}).Inc()
}

func AddFunctionDurationValue(funcName string, duration float64) {
	if !Enabled {
		return
	}
	metricExecutionTime.With(prometheus.Labels{"function": funcName, "node": nodeLabel()}).Observe(duration)
}

func AddClaim() {
	if !Enabled {
		return
	}
	metricClaims.With(prometheus.Labels{"node": nodeLabel()}).Inc()
}

func AddLeaseLost() {
	if !Enabled {
		return
	}
	metricLeasesLost.With(prometheus.Labels{"node": nodeLabel()}).Inc()
}

func SetTracked(n int) {
	if !Enabled {
		return
	}
	metricTracked.With(prometheus.Labels{"node": nodeLabel()}).Set(float64(n))
}
