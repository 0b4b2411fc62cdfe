package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно сохраняет заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями и чеком или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// Count возвращает число заказов, подходящих под фильтр статуса.
	Count(ctx context.Context, filter OrderFilter) (int, error)
	// List возвращает страницу заказов без позиций в порядке вставки.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// UpdateStatus меняет только статус и updated_at.
	UpdateStatus(ctx context.Context, id string, status OrderStatus, updatedAt time.Time) (Order, error)
	// MarkPaid в одной транзакции помечает заказ оплаченным и создаёт чек.
	MarkPaid(ctx context.Context, id string, update PaidUpdate) (Order, error)
}
