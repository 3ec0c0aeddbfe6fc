// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gridgate"

// Registry is the registry every gateway collector is registered into.
var Registry = prometheus.NewRegistry()

var (
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Result cache lookups by outcome.",
		},
		[]string{"result"},
	)
	cacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Result cache entries evicted for capacity.",
		},
	)
	jobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Jobs created by type.",
		},
		[]string{"type"},
	)
	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal state by type and status.",
		},
		[]string{"type", "status"},
	)
	renderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "duration_seconds",
			Help:      "Time spent rendering one request by request type.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type"},
	)
	admissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "rejections_total",
			Help:      "Job submissions rejected by the admission controller by reason.",
		},
		[]string{"reason"},
	)
	syncThrottled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "sync_throttled_total",
			Help:      "Synchronous render requests rejected by the per-client throttle.",
		},
	)
)

var registerMetrics sync.Once

// Register registers all collectors with Registry. Safe to call repeatedly.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(cacheLookups)
		Registry.MustRegister(cacheEvictions)
		Registry.MustRegister(jobsCreated)
		Registry.MustRegister(jobsFinished)
		Registry.MustRegister(renderDuration)
		Registry.MustRegister(admissionRejections)
		Registry.MustRegister(syncThrottled)
	})
}

// RegisterActiveJobs exposes fn as the active jobs gauge. Only the first
// registration takes effect.
func RegisterActiveJobs(fn func() int) error {
	gauge := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently pending or running.",
		},
		func() float64 { return float64(fn()) },
	)
	if err := Registry.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the gateway registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func RecordCacheHit()  { cacheLookups.WithLabelValues("hit").Inc() }
func RecordCacheMiss() { cacheLookups.WithLabelValues("miss").Inc() }

func RecordCacheEviction() { cacheEvictions.Inc() }

// RecordJobCreated counts a newly registered job.
func RecordJobCreated(jobType string) {
	jobsCreated.WithLabelValues(jobType).Inc()
}

// RecordJobFinished counts a job reaching complete or failed.
func RecordJobFinished(jobType, status string) {
	jobsFinished.WithLabelValues(jobType, status).Inc()
}

// RecordRenderDuration observes how long a worker spent on one job.
func RecordRenderDuration(jobType string, d time.Duration) {
	renderDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// RecordAdmissionRejection counts a rejected submission.
func RecordAdmissionRejection(reason string) {
	admissionRejections.WithLabelValues(reason).Inc()
}

func RecordSyncThrottled() { syncThrottled.Inc() }
