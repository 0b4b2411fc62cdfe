package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Исходы обработки payment.succeeded.
const (
	PaymentResultApplied   = "applied"
	PaymentResultDuplicate = "duplicate"
)

// OrderMetrics содержит метрики операций над заказами и исходящих вызовов.
type OrderMetrics struct {
	ordersCreated    prometheus.Counter
	statusChanges    *prometheus.CounterVec
	payments         *prometheus.CounterVec
	operationErrors  *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, "orders_created_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		})),
		statusChanges: register(registerer, "orders_status_changes_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_status_changes_total",
			Help: "Total number of applied order status changes by target status",
		}, []string{"status"})),
		payments: register(registerer, "orders_payments_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_payments_total",
			Help: "Total number of payment succeeded events by result",
		}, []string{"result"})),
		operationErrors: register(registerer, "orders_operation_errors_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_operation_errors_total",
			Help: "Total number of failed order operations by operation and error kind",
		}, []string{"operation", "kind"})),
		upstreamDuration: register(registerer, "orders_upstream_request_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orders_upstream_request_duration_seconds",
			Help:    "Duration of request/reply calls to other services",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"pattern", "result"})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordStatusChange учитывает фактическую смену статуса (no-op не считается).
func (m *OrderMetrics) RecordStatusChange(status domain.OrderStatus) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status.String()).Inc()
}

// RecordPayment учитывает обработанное событие оплаты.
func (m *OrderMetrics) RecordPayment(result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(result).Inc()
}

// RecordOperationError учитывает ошибку операции по её виду.
func (m *OrderMetrics) RecordOperationError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, string(domain.KindOf(err))).Inc()
}

// ObserveUpstream записывает длительность исходящего вызова.
func (m *OrderMetrics) ObserveUpstream(pattern, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(pattern, result).Observe(duration.Seconds())
}
