package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestOrderMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordOrderCreated()
	m.RecordOrderCreated()
	m.RecordStatusChange(domain.OrderStatusDelivered)
	m.RecordPayment(PaymentResultApplied)
	m.RecordPayment(PaymentResultDuplicate)
	m.RecordPayment(PaymentResultDuplicate)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ordersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusChanges.WithLabelValues("DELIVERED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.payments.WithLabelValues(PaymentResultApplied)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.payments.WithLabelValues(PaymentResultDuplicate)))
}

func TestOrderMetrics_OperationErrorsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.RecordOperationError("create", domain.ErrItemsRequired)
	m.RecordOperationError("create", fmt.Errorf("wrap: %w", domain.ErrProductNotFound))
	m.RecordOperationError("find_one", domain.ErrOrderNotFound)
	m.RecordOperationError("find_one", errors.New("boom"))
	m.RecordOperationError("find_one", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("create", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("create", "upstream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("find_one", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationErrors.WithLabelValues("find_one", "unknown")))
}

func TestOrderMetrics_ObserveUpstream(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetricsWithRegisterer(reg)

	m.ObserveUpstream("validate_product", "ok", 30*time.Millisecond)
	m.ObserveUpstream("validate_product", "ok", 70*time.Millisecond)

	metric := &dto.Metric{}
	observer, err := m.upstreamDuration.GetMetricWithLabelValues("validate_product", "ok")
	require.NoError(t, err)
	require.NoError(t, observer.(prometheus.Histogram).Write(metric))
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.1, metric.GetHistogram().GetSampleSum(), 0.0001)
}

func TestOrderMetrics_ReRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordOrderCreated()
	second.RecordOrderCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(first.ordersCreated))
	count, err := testutil.GatherAndCount(reg, "orders_created_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOrderMetrics_NilSafe(t *testing.T) {
	var m *OrderMetrics
	assert.NotPanics(t, func() {
		m.RecordOrderCreated()
		m.RecordStatusChange(domain.OrderStatusPaid)
		m.RecordPayment(PaymentResultApplied)
		m.RecordOperationError("create", errors.New("x"))
		m.ObserveUpstream("p", "ok", time.Second)
	})
}
