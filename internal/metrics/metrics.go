// Package metrics exposes Prometheus instruments for graph commands,
// queries and the score cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ziadkadry99/tracegraph/internal/graph"
)

const namespace = "tracegraph"

// Recorder records metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	commands       *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	queryLatency   *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	frameworkScore *prometheus.GaugeVec
}

// New registers the instruments with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Graph commands by name and result code.",
		}, []string{"command", "code"}),
		commandLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent executing graph commands.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		queryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time spent answering read queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_cache_lookups_total",
			Help:      "Score cache lookups by backend and outcome.",
		}, []string{"backend", "outcome"}),
		frameworkScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "framework_compliance_score",
			Help:      "Last computed compliance score per framework.",
		}, []string{"framework"}),
	}
}

// Command records a command's latency and result, labelled "ok" or with the
// graph error code.
func (r *Recorder) Command(name string, started time.Time, err error) {
	if r == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = graph.Code(err)
	}
	r.commands.WithLabelValues(name, code).Inc()
	r.commandLatency.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

// Query records the latency of a read query.
func (r *Recorder) Query(name string, started time.Time) {
	if r == nil {
		return
	}
	r.queryLatency.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

// CacheLookup records a score cache hit, miss or error.
func (r *Recorder) CacheLookup(backend, outcome string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(backend, outcome).Inc()
}

// FrameworkScore publishes a framework's latest rollup score.
func (r *Recorder) FrameworkScore(framework string, score float64) {
	if r == nil {
		return
	}
	r.frameworkScore.WithLabelValues(framework).Set(score)
}
