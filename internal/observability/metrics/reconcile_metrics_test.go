package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyReconcileError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: ReconcileReasonDeadlineExceeded},
		{name: "lock_timeout", err: fmt.Errorf("lock balance: %w", &pgconn.PgError{Code: "55P03"}), want: ReconcileReasonDBLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: ReconcileReasonSerializationFailure},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: ReconcileReasonDeadlock},
		{name: "unique", err: gorm.ErrDuplicatedKey, want: ReconcileReasonUniqueViolation},
		{name: "check", err: &pgconn.PgError{Code: "23514"}, want: ReconcileReasonCheckViolation},
		{name: "unknown", err: errors.New("boom"), want: ReconcileReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyReconcileError(tc.err))
		})
	}
}

func TestObserveReconcile(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newReconcileMetrics(registry, Config{ServiceName: "tokenledger", Environment: "test"})

	m.ObserveReconcile("invoice_paid", ReconcileResultApplied, 3*time.Millisecond, nil)
	m.ObserveReconcile("invoice_paid", ReconcileResultDuplicate, time.Millisecond, nil)
	m.ObserveReconcile("invoice_paid", ReconcileResultFailed, time.Millisecond, &pgconn.PgError{Code: "40001"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("invoice_paid", ReconcileResultApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.results.WithLabelValues("invoice_paid", ReconcileResultDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("invoice_paid", ReconcileReasonSerializationFailure)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestNilReconcileMetricsIsSafe(t *testing.T) {
	var m *ReconcileMetrics
	m.ObserveReconcile("invoice_paid", ReconcileResultApplied, time.Millisecond, nil)
	m.ObserveLockWait("token_balances", time.Now())
}
