// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ReconcileRuns     prometheus.Counter
	ReconcileAborted  prometheus.Counter
	ClipsIngested     prometheus.Counter
	PublishOutcomes   *prometheus.CounterVec // label: outcome
	Classifications   *prometheus.CounterVec // label: reason
	Notifications     *prometheus.CounterVec // label: result
	DiscoveryTasks    *prometheus.CounterVec // label: result
	ReconcileItemErrs prometheus.Counter

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer
	PublishDuration   prometheus.Observer
	DiscoveryDuration prometheus.Observer

	// Gauges
	PendingStreams   prometheus.Gauge
	DBOpenConns      prometheus.Gauge
	DBInUseConns     prometheus.Gauge
	LastReconcileRun prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "tsnip_reconcile_runs_total", Help: "Number of reconciliation scans"})
		ReconcileAborted = promauto.NewCounter(prometheus.CounterOpts{Name: "tsnip_reconcile_aborted_total", Help: "Scans stopped early by quota exhaustion"})
		ClipsIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "tsnip_clips_ingested_total", Help: "Clip events accepted"})
		ReconcileItemErrs = promauto.NewCounter(prometheus.CounterOpts{Name: "tsnip_reconcile_item_errors_total", Help: "Stream records whose processing failed unexpectedly"})
		PublishOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tsnip_publish_outcomes_total", Help: "Comment publisher outcomes"}, []string{"outcome"})
		Classifications = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tsnip_classifications_total", Help: "Video status classifier results"}, []string{"reason"})
		Notifications = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tsnip_notifications_total", Help: "Side-channel notification results"}, []string{"result"})
		DiscoveryTasks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tsnip_discovery_tasks_total", Help: "Stream discovery task results"}, []string{"result"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tsnip_reconcile_duration_seconds", Help: "Reconciliation scan duration seconds", Buckets: []float64{1, 5, 15, 60, 180, 600, 1800}})
		PublishDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tsnip_publish_duration_seconds", Help: "Comment publish call duration seconds, backoff included", Buckets: []float64{0.5, 1, 5, 30, 60, 120, 300}})
		DiscoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tsnip_discovery_duration_seconds", Help: "Stream discovery task duration seconds", Buckets: []float64{0.25, 1, 2.5, 5, 10, 30}})
		PendingStreams = promauto.NewGauge(prometheus.GaugeOpts{Name: "tsnip_pending_streams", Help: "Unprocessed stream records seen by the last scan"})
		DBOpenConns = promauto.NewGauge(prometheus.GaugeOpts{Name: "tsnip_db_open_connections", Help: "Open database connections"})
		DBInUseConns = promauto.NewGauge(prometheus.GaugeOpts{Name: "tsnip_db_in_use_connections", Help: "Database connections in use"})
		LastReconcileRun = promauto.NewGauge(prometheus.GaugeOpts{Name: "tsnip_last_reconcile_timestamp_seconds", Help: "Unix time of the last completed scan"})
	})
}

func incVec(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func IncPublishOutcome(outcome string) { incVec(PublishOutcomes, outcome) }
func IncClassification(reason string) { incVec(Classifications, reason) }
func IncNotification(result string) { incVec(Notifications, result) }
func IncDiscovery(result string) { incVec(DiscoveryTasks, result) }
func IncClipsIngested() { inc(ClipsIngested) }
func IncReconcileItemError() { inc(ReconcileItemErrs) }

// RecordReconcileRun updates the per-scan counters and gauges.
func RecordReconcileRun(pending int, aborted bool, d time.Duration) {
	inc(ReconcileRuns)
	if aborted {
		inc(ReconcileAborted)
	}
	if PendingStreams != nil {
		PendingStreams.Set(float64(pending))
	}
	if ReconcileDuration != nil {
		ReconcileDuration.Observe(d.Seconds())
	}
	if LastReconcileRun != nil {
		LastReconcileRun.SetToCurrentTime()
	}
}

// UpdateDatabasePoolMetrics records sql.DBStats connection counts.
func UpdateDatabasePoolMetrics(open, inUse int) {
	if DBOpenConns != nil {
		DBOpenConns.Set(float64(open))
	}
	if DBInUseConns != nil {
		DBInUseConns.Set(float64(inUse))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
