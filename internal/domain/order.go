package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusDelivered — заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusPaid — оплата подтверждена платёжным сервисом.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses перечисляет допустимые значения статуса в порядке объявления.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusDelivered,
	OrderStatusPaid,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к поддерживаемым значениям (с учётом регистра).
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusDelivered, OrderStatusPaid, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	return string(s)
}

// OrderItem представляет одну позицию заказа. Price фиксируется в момент создания и больше не пересчитывается.
type OrderItem struct {
	ID        string          `json:"-"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	// Name не хранится в БД, подставляется из ответа каталога.
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// OrderReceipt подтверждает оплату и создаётся только обработчиком payment.succeeded.
type OrderReceipt struct {
	ID         string    `json:"id"`
	ReceiptURL string    `json:"receiptUrl"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Order агрегирует состояние заказа, его позиции и чек.
type Order struct {
	ID             string          `json:"id"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalItems     int             `json:"totalItems"`
	Status         OrderStatus     `json:"status"`
	Paid           bool            `json:"paid"`
	PaidAt         *time.Time      `json:"paidAt"`
	StripeChargeID *string         `json:"stripeChargeId"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Items          []OrderItem     `json:"items,omitempty"`
	Receipt        *OrderReceipt   `json:"receipt,omitempty"`
}

// Границы заказа совпадают с колонками quantity/total_items INTEGER и total_amount NUMERIC(12, 2).
const MaxItemQuantity = math.MaxInt32

var MaxTotalAmount = decimal.RequireFromString("9999999999.99")

// Totals считает сумму и количество единиц по позициям: Σ quantity×price и Σ quantity.
func Totals(items []OrderItem) (decimal.Decimal, int) {
	amount := decimal.Zero
	count := 0
	for _, item := range items {
		amount = amount.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		if item.Quantity > 0 && count > math.MaxInt-item.Quantity {
			// насыщение вместо переполнения, дальше сработает проверка границ
			count = math.MaxInt
			continue
		}
		count += item.Quantity
	}
	return amount, count
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidStatus)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 || item.Quantity > MaxItemQuantity {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	amount, count := Totals(o.Items)
	if !amount.Equal(o.TotalAmount) || count != o.TotalItems {
		errs = append(errs, ErrAmountMismatch)
	}
	if count > MaxItemQuantity || amount.GreaterThan(MaxTotalAmount) {
		errs = append(errs, ErrOrderTooLarge)
	}
	return errs
}

// PaidUpdate описывает изменения, которые применяются к заказу при успешной оплате.
type PaidUpdate struct {
	ChargeID   string
	ReceiptID  string
	ReceiptURL string
	PaidAt     time.Time
}

// OrderFilter задаёт выборку для постраничного списка.
type OrderFilter struct {
	Status *OrderStatus
	Offset int
	Limit  int
}
