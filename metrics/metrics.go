package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sandboxfirst/uom/config"
)

// ClientMetrics is the shared shape every external collaborator client
// reports through, whether it speaks the scan protocol, the analyze
// protocol, or is a plain storage sink.
type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// UOMMetrics is the full set of Prometheus collectors the orchestrator,
// decision engine, breaker, pattern cache, and gate register on startup.
type UOMMetrics struct {
	Version              *prometheus.CounterVec
	JobsInFlight         prometheus.Gauge
	HTTPRequestsInFlight prometheus.Gauge

	JobsTotal      *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	JobDurationSec *prometheus.HistogramVec

	CyberAgentClient    ClientMetrics
	VideoAgentClient    ClientMetrics
	GeoAgentClient      ClientMetrics
	GitHubManagerClient ClientMetrics
	MageAgentClient     ClientMetrics
	ObjectStoreClient   ClientMetrics
	StorageSinkClient   ClientMetrics

	BreakerState *prometheus.GaugeVec

	PatternCacheHits   prometheus.Counter
	PatternCacheMisses prometheus.Counter
	PatternExecutions  *prometheus.CounterVec

	DecisionSource *prometheus.CounterVec

	EscalationsSent *prometheus.CounterVec
}

var stageLabels = []string{"stage"}

func newClientMetrics(name string) ClientMetrics {
	return ClientMetrics{
		RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: name + "_retry_count",
			Help: "The number of retried requests to " + name,
		}, []string{"host"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: name + "_failure_count",
			Help: "The total number of failed requests to " + name,
		}, []string{"host", "status_code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name + "_request_duration_seconds",
			Help:    "Time taken to complete requests to " + name,
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"host"}),
	}
}

func NewMetrics() *UOMMetrics {
	m := &UOMMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "version",
			Help: "Current Git SHA / Tag that's running. Incremented once on app startup.",
		}, []string{"app", "version"}),

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "A count of the jobs currently being processed by the orchestrator",
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "A count of the http requests in flight",
		}),

		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Total number of jobs accepted, broken down by their terminal status",
		}, []string{"status"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stage_duration_seconds",
			Help:    "Time taken for a job to complete a single pipeline stage",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, stageLabels),
		JobDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Total wall-clock time from submission to terminal status",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),

		CyberAgentClient:    newClientMetrics("cyberagent_client"),
		VideoAgentClient:    newClientMetrics("videoagent_client"),
		GeoAgentClient:      newClientMetrics("geoagent_client"),
		GitHubManagerClient: newClientMetrics("githubmanager_client"),
		MageAgentClient:     newClientMetrics("mageagent_client"),
		ObjectStoreClient:   newClientMetrics("object_store_client"),
		StorageSinkClient:   newClientMetrics("storage_sink_client"),

		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Current circuit breaker state per service: 0=closed, 1=half_open, 2=open",
		}, []string{"service"}),

		PatternCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pattern_cache_hits_total",
			Help: "Number of FindPattern calls served by an eligible cached pattern",
		}),
		PatternCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pattern_cache_misses_total",
			Help: "Number of FindPattern calls with no eligible cached pattern",
		}),
		PatternExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pattern_executions_total",
			Help: "Number of pattern Executor.Execute runs, broken down by outcome",
		}, []string{"outcome"}),

		DecisionSource: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_source_total",
			Help: "Number of Decision Engine resolutions, broken down by which tier resolved them",
		}, []string{"source"}),

		EscalationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "escalations_sent_total",
			Help: "Number of reviewer escalation notifications sent, broken down by channel",
		}, []string{"channel"}),
	}

	m.Version.WithLabelValues("uom", config.Version).Inc()

	return m
}

var Metrics = NewMetrics()
