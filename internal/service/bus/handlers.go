package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const internalErrorMessage = "internal server error"

// OrderService описывает операции, которые адаптер отдаёт в шину.
type OrderService interface {
	Create(ctx context.Context, req orders.CreateOrderRequest) (orders.CreateOrderResult, error)
	FindAll(ctx context.Context, req orders.FindAllRequest) (orders.OrderPage, error)
	FindOne(ctx context.Context, id string) (domain.Order, error)
	ChangeStatus(ctx context.Context, req orders.ChangeStatusRequest) (domain.Order, error)
	MarkPaid(ctx context.Context, req orders.PaidOrderRequest) (domain.Order, error)
}

// Handlers связывает паттерны шины с операциями над заказами.
type Handlers struct {
	orders OrderService
	logger *log.Entry
}

// NewHandlers создаёт адаптер.
func NewHandlers(svc OrderService, logger *log.Entry) *Handlers {
	if logger == nil {
		logger = log.WithField("component", "orders-bus")
	}
	return &Handlers{orders: svc, logger: logger}
}

// Register регистрирует request-паттерны и обработчик события оплаты.
func (h *Handlers) Register(router *kafka.Router, paymentSucceededTopic string) {
	if paymentSucceededTopic == "" {
		paymentSucceededTopic = kafka.TopicPaymentSucceeded
	}
	router.HandleRequest(kafka.PatternCreateOrder, h.CreateOrder)
	router.HandleRequest(kafka.PatternFindAllOrders, h.FindAllOrders)
	router.HandleRequest(kafka.PatternFindOneOrder, h.FindOneOrder)
	router.HandleRequest(kafka.PatternChangeOrderStatus, h.ChangeOrderStatus)
	router.HandleEvent(paymentSucceededTopic, h.PaymentSucceeded)
}

// CreateOrder обрабатывает createOrder.
func (h *Handlers) CreateOrder(ctx context.Context, payload json.RawMessage) (any, error) {
	var req orders.CreateOrderRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	result, err := h.orders.Create(ctx, req)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return result, nil
}

// FindAllOrders обрабатывает findAllOrders.
func (h *Handlers) FindAllOrders(ctx context.Context, payload json.RawMessage) (any, error) {
	var req orders.FindAllRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	page, err := h.orders.FindAll(ctx, req)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return page, nil
}

// FindOneOrder обрабатывает findOneOrder.
func (h *Handlers) FindOneOrder(ctx context.Context, payload json.RawMessage) (any, error) {
	var req orders.FindOneRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	order, err := h.orders.FindOne(ctx, req.ID)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return order, nil
}

// ChangeOrderStatus обрабатывает changeOrderStatus.
func (h *Handlers) ChangeOrderStatus(ctx context.Context, payload json.RawMessage) (any, error) {
	var req orders.ChangeStatusRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	order, err := h.orders.ChangeStatus(ctx, req)
	if err != nil {
		return nil, ToRPCError(err)
	}
	return order, nil
}

// PaymentSucceeded обрабатывает событие payment.succeeded.
// Ошибки валидации и отсутствие заказа не лечатся повтором и уходят в DLQ сразу.
func (h *Handlers) PaymentSucceeded(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParsePaymentSucceeded(message.Value)
	if err != nil {
		return kafka.NonRetryable(err)
	}

	_, err = h.orders.MarkPaid(ctx, orders.PaidOrderRequest{
		OrderID:         event.OrderID,
		ReceiptURL:      event.ReceiptURL,
		StripePaymentID: event.StripePaymentID,
	})
	if err == nil {
		return nil
	}
	if domain.IsValidation(err) || domain.IsNotFound(err) {
		return kafka.NonRetryable(err)
	}
	return fmt.Errorf("apply payment for order %s: %w", event.OrderID, err)
}

// ToRPCError превращает доменную ошибку в ответ шины.
// Ошибки хранилища и неизвестные ошибки не раскрывают подробностей.
func ToRPCError(err error) *kafka.RPCError {
	switch domain.KindOf(err) {
	case "":
		return nil
	case domain.KindValidation:
		return kafka.NewRPCError(kafka.StatusBadRequest, err.Error())
	case domain.KindNotFound:
		return kafka.NewRPCError(kafka.StatusNotFound, err.Error())
	case domain.KindUpstream:
		return kafka.NewRPCError(kafka.StatusBadGateway, err.Error())
	default:
		return kafka.NewRPCError(kafka.StatusInternal, internalErrorMessage)
	}
}

// decode разбирает payload. Пустое тело равносильно {}, недостающие поля проверяет сервис.
func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return kafka.NewRPCError(kafka.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}
