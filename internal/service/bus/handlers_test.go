package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/payment"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

type reply struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type capturePublisher struct {
	mu      sync.Mutex
	replies []reply
	err     error
}

func (p *capturePublisher) Publish(topic, key string, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.replies = append(p.replies, reply{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func (p *capturePublisher) last(t *testing.T) reply {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.replies)
	return p.replies[len(p.replies)-1]
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *kafka.RPCError `json:"error"`
}

type fixture struct {
	router    *kafka.Router
	publisher *capturePublisher
	service   *orders.Service
	catalog   *catalog.MockCatalog
	payments  *payment.MockGateway
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	publisher := &capturePublisher{}
	cat := catalog.NewDevCatalog()
	gateway := payment.NewMockGateway()
	svc := orders.NewService(orders.Dependencies{
		Orders:   memory.NewOrderRepository(),
		Storage:  memory.Storage{},
		Catalog:  cat,
		Payments: gateway,
		Logger:   quietLogger(),
	})
	router := kafka.NewRouter(publisher, kafka.TopicOrderRequests, quietLogger())
	NewHandlers(svc, quietLogger()).Register(router, "")
	return &fixture{router: router, publisher: publisher, service: svc, catalog: cat, payments: gateway}
}

// call отправляет запрос через router и возвращает разобранный ответ.
func (f *fixture) call(t *testing.T, pattern string, payload string) envelope {
	t.Helper()
	correlationID := uuid.NewString()
	msg := &sarama.ConsumerMessage{
		Topic: kafka.TopicOrderRequests,
		Value: []byte(payload),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderPattern), Value: []byte(pattern)},
			{Key: []byte(kafka.HeaderCorrelationID), Value: []byte(correlationID)},
			{Key: []byte(kafka.HeaderReplyTo), Value: []byte("orders.replies.test")},
		},
	}
	require.NoError(t, f.router.Dispatch(context.Background(), msg))

	r := f.publisher.last(t)
	assert.Equal(t, "orders.replies.test", r.topic)
	assert.Equal(t, correlationID, r.key)
	assert.Equal(t, correlationID, r.headers[kafka.HeaderCorrelationID])

	var env envelope
	require.NoError(t, json.Unmarshal(r.value, &env))
	return env
}

func (f *fixture) createOrder(t *testing.T) domain.Order {
	t.Helper()
	env := f.call(t, kafka.PatternCreateOrder, `{"items":[{"productId":1,"quantity":2},{"productId":"4","quantity":1}]}`)
	require.Nil(t, env.Error)
	var result orders.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	return result.Order
}

func TestRegisterPatternsAndTopics(t *testing.T) {
	f := newFixture(t)

	assert.ElementsMatch(t, []string{
		kafka.PatternCreateOrder,
		kafka.PatternFindAllOrders,
		kafka.PatternFindOneOrder,
		kafka.PatternChangeOrderStatus,
	}, f.router.Patterns())
	assert.ElementsMatch(t, []string{kafka.TopicOrderRequests, kafka.TopicPaymentSucceeded}, f.router.Topics())
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)

	env := f.call(t, kafka.PatternCreateOrder, `{"items":[{"productId":1,"quantity":2},{"productId":"4","quantity":1}]}`)
	require.Nil(t, env.Error)

	var result orders.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "25", result.Order.TotalAmount.String())
	assert.Equal(t, 3, result.Order.TotalItems)
	assert.Equal(t, domain.OrderStatusPending, result.Order.Status)
	require.Len(t, result.Order.Items, 2)
	assert.Equal(t, "Mouse", result.Order.Items[0].Name)
	assert.Contains(t, string(result.PaymentSession), "checkout.local")
}

func TestCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		status  int
		prepare func(f *fixture)
	}{
		{name: "no items", payload: `{"items":[]}`, status: kafka.StatusBadRequest},
		{name: "empty payload", payload: ``, status: kafka.StatusBadRequest},
		{name: "zero quantity", payload: `{"items":[{"productId":"1","quantity":0}]}`, status: kafka.StatusBadRequest},
		{name: "wrong field type", payload: `{"items":"nope"}`, status: kafka.StatusBadRequest},
		{name: "unknown product", payload: `{"items":[{"productId":"99","quantity":1}]}`, status: kafka.StatusBadGateway},
		{
			name:    "payment session failure",
			payload: `{"items":[{"productId":"1","quantity":1}]}`,
			status:  kafka.StatusBadGateway,
			prepare: func(f *fixture) { f.payments.Err = errors.New("payments down") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				tt.prepare(f)
			}
			env := f.call(t, kafka.PatternCreateOrder, tt.payload)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.status, env.Error.Status)
			assert.NotEmpty(t, env.Error.Message)
		})
	}
}

func TestFindAllOrders(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.createOrder(t)
	}

	env := f.call(t, kafka.PatternFindAllOrders, `{"page":1,"limit":2}`)
	require.Nil(t, env.Error)
	var page orders.OrderPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Data, 2)
	assert.Equal(t, orders.PageMeta{Total: 3, Page: 1, LastPage: 2}, page.Meta)

	env = f.call(t, kafka.PatternFindAllOrders, ``)
	require.Nil(t, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Data, 3)

	env = f.call(t, kafka.PatternFindAllOrders, `{"status":"SHIPPED"}`)
	require.NotNil(t, env.Error)
	assert.Equal(t, kafka.StatusBadRequest, env.Error.Status)
}

func TestFindOneOrder(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t)

	env := f.call(t, kafka.PatternFindOneOrder, fmt.Sprintf(`{"id":%q}`, created.ID))
	require.Nil(t, env.Error)
	var order domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, created.ID, order.ID)
	assert.Len(t, order.Items, 2)

	env = f.call(t, kafka.PatternFindOneOrder, fmt.Sprintf(`{"id":%q}`, uuid.NewString()))
	require.NotNil(t, env.Error)
	assert.Equal(t, kafka.StatusNotFound, env.Error.Status)

	env = f.call(t, kafka.PatternFindOneOrder, `{"id":"abc"}`)
	require.NotNil(t, env.Error)
	assert.Equal(t, kafka.StatusBadRequest, env.Error.Status)
}

func TestChangeOrderStatus(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t)

	env := f.call(t, kafka.PatternChangeOrderStatus, fmt.Sprintf(`{"id":%q,"status":"CANCELLED"}`, created.ID))
	require.Nil(t, env.Error)
	var order domain.Order
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)

	env = f.call(t, kafka.PatternChangeOrderStatus, fmt.Sprintf(`{"id":%q,"status":"cancelled"}`, created.ID))
	require.NotNil(t, env.Error)
	assert.Equal(t, kafka.StatusBadRequest, env.Error.Status)
}

func paymentMessage(t *testing.T, event kafka.PaymentSucceededEvent) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicPaymentSucceeded, Key: []byte(event.OrderID), Value: value}
}

func TestPaymentSucceeded(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t)
	replies := len(f.publisher.replies)

	msg := paymentMessage(t, kafka.PaymentSucceededEvent{
		OrderID:         created.ID,
		ReceiptURL:      "https://receipts.local/1",
		StripePaymentID: "ch_1",
	})
	require.NoError(t, f.router.Dispatch(context.Background(), msg))
	// повторная доставка не ломает обработку
	require.NoError(t, f.router.Dispatch(context.Background(), msg))

	assert.Len(t, f.publisher.replies, replies, "events must not produce replies")

	order, err := f.service.FindOne(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, order.Paid)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	require.NotNil(t, order.Receipt)
	assert.Equal(t, "https://receipts.local/1", order.Receipt.ReceiptURL)
	require.NotNil(t, order.StripeChargeID)
	assert.Equal(t, "ch_1", *order.StripeChargeID)
}

func TestPaymentSucceededPermanentFailures(t *testing.T) {
	f := newFixture(t)
	created := f.createOrder(t)

	tests := []struct {
		name string
		msg  *sarama.ConsumerMessage
	}{
		{
			name: "malformed json",
			msg:  &sarama.ConsumerMessage{Topic: kafka.TopicPaymentSucceeded, Value: []byte("{")},
		},
		{
			name: "invalid order id",
			msg:  paymentMessage(t, kafka.PaymentSucceededEvent{OrderID: "x", ReceiptURL: "u", StripePaymentID: "ch"}),
		},
		{
			name: "missing charge id",
			msg:  paymentMessage(t, kafka.PaymentSucceededEvent{OrderID: created.ID, ReceiptURL: "u"}),
		},
		{
			name: "unknown order",
			msg:  paymentMessage(t, kafka.PaymentSucceededEvent{OrderID: uuid.NewString(), ReceiptURL: "u", StripePaymentID: "ch"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.router.Dispatch(context.Background(), tt.msg)
			require.Error(t, err)
			assert.True(t, kafka.IsNonRetryable(err))
		})
	}
}

type failingService struct {
	err error
}

func (s failingService) Create(context.Context, orders.CreateOrderRequest) (orders.CreateOrderResult, error) {
	return orders.CreateOrderResult{}, s.err
}

func (s failingService) FindAll(context.Context, orders.FindAllRequest) (orders.OrderPage, error) {
	return orders.OrderPage{}, s.err
}

func (s failingService) FindOne(context.Context, string) (domain.Order, error) {
	return domain.Order{}, s.err
}

func (s failingService) ChangeStatus(context.Context, orders.ChangeStatusRequest) (domain.Order, error) {
	return domain.Order{}, s.err
}

func (s failingService) MarkPaid(context.Context, orders.PaidOrderRequest) (domain.Order, error) {
	return domain.Order{}, s.err
}

func TestPaymentSucceededPersistenceFailureIsRetryable(t *testing.T) {
	h := NewHandlers(failingService{err: fmt.Errorf("%w: connection reset", domain.ErrPersistence)}, quietLogger())

	err := h.PaymentSucceeded(context.Background(), paymentMessage(t, kafka.PaymentSucceededEvent{
		OrderID:         uuid.NewString(),
		ReceiptURL:      "u",
		StripePaymentID: "ch",
	}))
	require.Error(t, err)
	assert.False(t, kafka.IsNonRetryable(err))
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestPersistenceErrorDoesNotLeak(t *testing.T) {
	h := NewHandlers(failingService{err: fmt.Errorf("%w: dial tcp 10.0.0.5:5432", domain.ErrPersistence)}, quietLogger())

	_, err := h.FindAllOrders(context.Background(), nil)
	var rpcErr *kafka.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, kafka.StatusInternal, rpcErr.Status)
	assert.Equal(t, "internal server error", rpcErr.Message)
}

func TestToRPCError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: domain.ErrInvalidStatus, status: kafka.StatusBadRequest},
		{err: fmt.Errorf("%w: id 1", domain.ErrOrderNotFound), status: kafka.StatusNotFound},
		{err: domain.ErrProductNotFound, status: kafka.StatusBadGateway},
		{err: domain.ErrOrderAlreadyExists, status: kafka.StatusInternal},
		{err: context.DeadlineExceeded, status: kafka.StatusInternal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rpcErr := ToRPCError(tt.err)
			require.NotNil(t, rpcErr)
			assert.Equal(t, tt.status, rpcErr.Status)
		})
	}

	assert.Nil(t, ToRPCError(nil))
}

func TestReplyPublishFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker unavailable")

	msg := &sarama.ConsumerMessage{
		Topic: kafka.TopicOrderRequests,
		Value: []byte(`{}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderPattern), Value: []byte(kafka.PatternFindAllOrders)},
			{Key: []byte(kafka.HeaderReplyTo), Value: []byte("orders.replies.test")},
		},
		Timestamp: time.Now(),
	}
	err := f.router.Dispatch(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}
