package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "chainloader"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	bootOutcomes      *prom.CounterVec
	resolveDuration   prom.Histogram
	downloadResults   *prom.CounterVec
	downloadedBytes   prom.Counter
	downloadRetries   prom.Counter
	restartRequests   prom.Counter
	conflicts         *prom.CounterVec
	pendingUpdate     prom.Gauge
	lastBootTimestamp prom.Gauge
}

// NewPrometheusRecorder constructs and registers the loader metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		bootOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "boot_outcomes_total",
			Help:      "Boot resolutions by outcome",
		}, []string{"outcome"}),
		resolveDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Duration of one version resolution",
			Buckets:   prom.DefBuckets,
		}),
		downloadResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "download_results_total",
			Help:      "Artifact download attempts by result",
		}, []string{"result"}),
		downloadedBytes: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes received for artifact downloads",
		}),
		downloadRetries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "download_retries_total",
			Help:      "Download attempts beyond the first",
		}),
		restartRequests: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "restart_requests_total",
			Help:      "Boots that ended requesting a restart",
		}),
		conflicts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_conflicts_total",
			Help:      "Dependencies already active at an older version",
		}, []string{"dependency"}),
		pendingUpdate: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_update",
			Help:      "1 while a remote update waits for a user decision",
		}),
		lastBootTimestamp: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "last_boot_timestamp_seconds",
			Help:      "Unix time of the last completed resolution",
		}),
	}
	reg.MustRegister(pr.bootOutcomes, pr.resolveDuration, pr.downloadResults, pr.downloadedBytes,
		pr.downloadRetries, pr.restartRequests, pr.conflicts, pr.pendingUpdate, pr.lastBootTimestamp)
	return pr
}

func (p *PrometheusRecorder) IncBootOutcome(outcome string) {
	if p == nil {
		return
	}
	p.bootOutcomes.WithLabelValues(outcome).Inc()
	p.lastBootTimestamp.SetToCurrentTime()
}

func (p *PrometheusRecorder) ObserveResolveDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.resolveDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncDownloadResult(result ResultLabel) {
	if p == nil {
		return
	}
	p.downloadResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) AddDownloadedBytes(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.downloadedBytes.Add(float64(n))
}

func (p *PrometheusRecorder) IncDownloadRetry() {
	if p == nil {
		return
	}
	p.downloadRetries.Inc()
}

func (p *PrometheusRecorder) IncRestartRequested() {
	if p == nil {
		return
	}
	p.restartRequests.Inc()
}

func (p *PrometheusRecorder) IncDependencyConflict(id string) {
	if p == nil {
		return
	}
	p.conflicts.WithLabelValues(id).Inc()
}

func (p *PrometheusRecorder) SetPendingUpdate(pending bool) {
	if p == nil {
		return
	}
	if pending {
		p.pendingUpdate.Set(1)
	} else {
		p.pendingUpdate.Set(0)
	}
}
