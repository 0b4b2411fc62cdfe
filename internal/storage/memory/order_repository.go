package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// orderRepositoryInMemory хранит заказы в памяти: реализация OrderRepository с порядком вставки.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	order []string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.Order),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	r.order = append(r.order, order.ID)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *orderRepositoryInMemory) Count(_ context.Context, filter domain.OrderFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, id := range r.order {
		if matches(r.items[id], filter) {
			count++
		}
	}
	return count, nil
}

// List возвращает страницу заказов без позиций; Limit <= 0 означает «без ограничения».
func (r *orderRepositoryInMemory) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	skipped := 0
	for _, id := range r.order {
		order := r.items[id]
		if !matches(order, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
		order = cloneOrder(order)
		order.Items = nil
		order.Receipt = nil
		result = append(result, order)
	}
	return result, nil
}

func (r *orderRepositoryInMemory) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, updatedAt time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = updatedAt
	r.items[id] = order
	return cloneOrder(order), nil
}

// MarkPaid применяет оплату и создаёт чек под одной блокировкой: либо всё, либо ничего.
func (r *orderRepositoryInMemory) MarkPaid(_ context.Context, id string, update domain.PaidUpdate) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Receipt != nil {
		return domain.Order{}, domain.ErrReceiptAlreadyExists
	}

	paidAt := update.PaidAt
	chargeID := update.ChargeID
	order.Paid = true
	order.Status = domain.OrderStatusPaid
	order.PaidAt = &paidAt
	order.StripeChargeID = &chargeID
	order.UpdatedAt = paidAt
	order.Receipt = &domain.OrderReceipt{
		ID:         update.ReceiptID,
		ReceiptURL: update.ReceiptURL,
		CreatedAt:  paidAt,
	}
	r.items[id] = order
	return cloneOrder(order), nil
}

func matches(order domain.Order, filter domain.OrderFilter) bool {
	return filter.Status == nil || order.Status == *filter.Status
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Items != nil {
		order.Items = append([]domain.OrderItem(nil), order.Items...)
	}
	if order.PaidAt != nil {
		paidAt := *order.PaidAt
		order.PaidAt = &paidAt
	}
	if order.StripeChargeID != nil {
		chargeID := *order.StripeChargeID
		order.StripeChargeID = &chargeID
	}
	if order.Receipt != nil {
		receipt := *order.Receipt
		order.Receipt = &receipt
	}
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
