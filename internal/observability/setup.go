package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance, a no-op until Init swaps in the production one.
	Logger = zap.NewNop()

	// Metrics
	submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confession_submissions_total",
			Help: "Total number of submissions by throttle outcome",
		},
		[]string{"outcome"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Total number of moderator decisions by action",
		},
		[]string{"action"},
	)

	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_deliveries_total",
			Help: "Per-chat fan-out delivery outcomes",
		},
		[]string{"result"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by cache name and hit/miss result",
		},
		[]string{"cache", "result"},
	)

	resolverOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_outcomes_total",
			Help: "Post-identity resolutions by path (header, cache, store, search, miss)",
		},
		[]string{"path"},
	)

	limiterWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbound_limiter_wait_seconds",
			Help:    "Time spent waiting for outbound admission",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	// Initialize logger
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	// Register metrics
	prometheus.MustRegister(
		submissionsTotal,
		decisionsTotal,
		fanoutDeliveriesTotal,
		cacheLookupsTotal,
		resolverOutcomesTotal,
		limiterWaitDuration,
	)

	// Setup OpenTelemetry (simplified setup)
	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	// Start Prometheus metrics endpoint
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = tp.Shutdown(context.Background())
		_ = Logger.Sync()
	}()

	return nil
}

// RecordSubmission records a throttle outcome for an inbound submission.
func RecordSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDecision records a terminal moderator action.
func RecordDecision(action string) {
	decisionsTotal.WithLabelValues(action).Inc()
}

// RecordFanoutDelivery records a per-chat delivery result.
func RecordFanoutDelivery(result string) {
	fanoutDeliveriesTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a hit or miss for a named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordResolution records which resolver path produced an answer.
func RecordResolution(path string) {
	resolverOutcomesTotal.WithLabelValues(path).Inc()
}

// TimeLimiterWait returns a function recording the admission wait.
func TimeLimiterWait(class string) func() {
	timer := prometheus.NewTimer(limiterWaitDuration.WithLabelValues(class))
	return func() {
		timer.ObserveDuration()
	}
}
