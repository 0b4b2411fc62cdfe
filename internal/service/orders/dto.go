package orders

import (
	"encoding/json"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// CreateOrderItem описывает позицию во входящем запросе createOrder.
type CreateOrderItem struct {
	ProductID domain.ProductID `json:"productId"`
	Quantity  int              `json:"quantity"`
}

// CreateOrderRequest описывает тело запроса createOrder.
type CreateOrderRequest struct {
	Items []CreateOrderItem `json:"items"`
}

// CreateOrderResult описывает ответ createOrder: заказ с именами товаров и платёжная сессия как есть.
type CreateOrderResult struct {
	Order          domain.Order    `json:"order"`
	PaymentSession json.RawMessage `json:"paymentSession"`
}

// FindAllRequest задаёт параметры постраничного списка. nil означает значение по умолчанию.
type FindAllRequest struct {
	Page   *int                `json:"page,omitempty"`
	Limit  *int                `json:"limit,omitempty"`
	Status *domain.OrderStatus `json:"status,omitempty"`
}

// PageMeta описывает страницу списка.
type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	LastPage int `json:"lastPage"`
}

// OrderPage описывает ответ findAllOrders.
type OrderPage struct {
	Data []domain.Order `json:"data"`
	Meta PageMeta       `json:"meta"`
}

// FindOneRequest описывает тело запроса findOneOrder.
type FindOneRequest struct {
	ID string `json:"id"`
}

// ChangeStatusRequest описывает тело запроса changeOrderStatus.
type ChangeStatusRequest struct {
	ID     string             `json:"id"`
	Status domain.OrderStatus `json:"status"`
}

// PaidOrderRequest содержит данные события payment.succeeded.
type PaidOrderRequest struct {
	OrderID         string `json:"orderId"`
	ReceiptURL      string `json:"receiptUrl"`
	StripePaymentID string `json:"stripePaymentId"`
}
