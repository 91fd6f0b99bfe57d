package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "samay"

var (
	ActivitiesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "activity",
		Name:      "ingested_total",
		Help:      "Number of tracker events stored.",
	})

	ActivitiesExcluded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "activity",
		Name:      "excluded_total",
		Help:      "Number of tracker events dropped by the excluded-apps or zero-duration filter.",
	})

	TagCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tags",
		Name:      "cache_lookups_total",
		Help:      "Tag cache lookups, labeled by hit or miss.",
	}, []string{"result"})

	TagsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tags",
		Name:      "created_total",
		Help:      "Tag rules created by the auto-tagging job.",
	})

	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job runs, labeled by job and outcome.",
	}, []string{"job", "outcome"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall time of background job runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})

	LLMRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Chat completion calls, labeled by model and outcome.",
	}, []string{"model", "outcome"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, labeled by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		ActivitiesIngested,
		ActivitiesExcluded,
		TagCacheLookups,
		TagsCreated,
		JobRuns,
		JobDuration,
		LLMRequests,
		HTTPRequests,
		HTTPDuration,
	)
}

// ObserveJob records one finished job run
func ObserveJob(job string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	JobRuns.WithLabelValues(job, outcome).Inc()
	JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

func ObserveLLM(model string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	LLMRequests.WithLabelValues(model, outcome).Inc()
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
