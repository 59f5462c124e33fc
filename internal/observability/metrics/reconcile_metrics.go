package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReconcileReasonDeadlineExceeded     = "deadline_exceeded"
	ReconcileReasonDBLockTimeout        = "db_lock_timeout"
	ReconcileReasonSerializationFailure = "serialization_failure"
	ReconcileReasonDeadlock             = "deadlock"
	ReconcileReasonUniqueViolation      = "unique_violation"
	ReconcileReasonCheckViolation       = "check_violation"
	ReconcileReasonUnknown              = "unknown"
)

const (
	ReconcileResultApplied      = "applied"
	ReconcileResultDuplicate    = "duplicate"
	ReconcileResultIgnored      = "ignored"
	ReconcileResultUnrecognized = "unrecognized"
	ReconcileResultFailed       = "failed"
)

// ReconcileMetrics is the Prometheus view of the reconciliation transaction: how long it
// holds its row locks and why it fails.
type ReconcileMetrics struct {
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	lockWait *prometheus.HistogramVec
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the process-wide reconciliation metrics registered on the default registry.
func Reconcile(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = newReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

func newReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "tokenledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &ReconcileMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "tokenledger_reconcile_duration_seconds",
			Help:        "Time spent inside the reconciliation transaction by event kind.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"event_kind"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tokenledger_reconcile_results_total",
			Help:        "Reconciled events by event kind and result.",
			ConstLabels: constLabels,
		}, []string{"event_kind", "result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tokenledger_reconcile_errors_total",
			Help:        "Failed reconciliation transactions by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"event_kind", "reason"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "tokenledger_reconcile_lock_wait_seconds",
			Help:        "Time spent acquiring the per-account row locks.",
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
			ConstLabels: constLabels,
		}, []string{"resource"}),
	}
	registerer.MustRegister(m.duration, m.results, m.errors, m.lockWait)
	return m
}

// ObserveReconcile records one processed event. err is classified when result is failed.
func (m *ReconcileMetrics) ObserveReconcile(eventKind, result string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	eventKind = strings.TrimSpace(eventKind)
	m.duration.WithLabelValues(eventKind).Observe(elapsed.Seconds())
	m.results.WithLabelValues(eventKind, result).Inc()
	if err != nil {
		m.errors.WithLabelValues(eventKind, ClassifyReconcileError(err)).Inc()
	}
}

// ObserveLockWait records how long a FOR UPDATE read on resource started at start took.
func (m *ReconcileMetrics) ObserveLockWait(resource string, start time.Time) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(time.Since(start).Seconds())
}

// ClassifyReconcileError maps a transaction failure to a metric reason.
func ClassifyReconcileError(err error) string {
	switch {
	case err == nil:
		return ReconcileReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReconcileReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return ReconcileReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return ReconcileReasonSerializationFailure
	case hasPGCode(err, "40P01"):
		return ReconcileReasonDeadlock
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return ReconcileReasonUniqueViolation
	case errors.Is(err, gorm.ErrCheckConstraintViolated), hasPGCode(err, "23514"):
		return ReconcileReasonCheckViolation
	default:
		return ReconcileReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
