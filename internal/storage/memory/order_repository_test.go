package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func newOrder(status domain.OrderStatus) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          uuid.NewString(),
		TotalAmount: decimal.NewFromInt(500),
		TotalItems:  5,
		Status:      status,
		Items: []domain.OrderItem{
			{ID: uuid.NewString(), ProductID: "p1", Quantity: 5, Price: decimal.NewFromInt(100), CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder(domain.OrderStatusPending)

	require.NoError(t, repo.Create(ctx, order))

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "p1", stored.Items[0].ProductID)

	// Изменение возвращённой копии не влияет на хранилище.
	stored.Items[0].Quantity = 99
	again, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, again.Items[0].Quantity)
}

func TestOrderRepository_KeepsItemOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder(domain.OrderStatusPending)
	now := order.CreatedAt
	order.Items = []domain.OrderItem{
		{ID: uuid.NewString(), ProductID: "p3", Quantity: 1, Price: decimal.NewFromInt(100), CreatedAt: now},
		{ID: uuid.NewString(), ProductID: "p1", Quantity: 2, Price: decimal.NewFromInt(100), CreatedAt: now},
		{ID: uuid.NewString(), ProductID: "p2", Quantity: 2, Price: decimal.NewFromInt(100), CreatedAt: now},
	}

	require.NoError(t, repo.Create(ctx, order))

	stored, err := repo.Get(ctx, order.ID)
	require.NoError(t, err)
	var ids []string
	for _, item := range stored.Items {
		ids = append(ids, item.ProductID)
	}
	assert.Equal(t, []string{"p3", "p1", "p2"}, ids)
}

func TestOrderRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder(domain.OrderStatusPending)

	require.NoError(t, repo.Create(ctx, order))
	require.ErrorIs(t, repo.Create(ctx, order), domain.ErrOrderAlreadyExists)
}

func TestOrderRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.UpdateStatus(ctx, "missing", domain.OrderStatusPaid, time.Now())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.MarkPaid(ctx, "missing", domain.PaidUpdate{ChargeID: "ch_1"})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_ListPaginationAndFilter(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	var ids []string
	for i := 0; i < 15; i++ {
		order := newOrder(domain.OrderStatusPending)
		ids = append(ids, order.ID)
		require.NoError(t, repo.Create(ctx, order))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newOrder(domain.OrderStatusDelivered)))
	}

	pending := domain.OrderStatusPending
	total, err := repo.Count(ctx, domain.OrderFilter{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, 15, total)

	all, err := repo.Count(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 18, all)

	page, err := repo.List(ctx, domain.OrderFilter{Status: &pending, Offset: 10, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 5)
	for i, order := range page {
		assert.Equal(t, ids[10+i], order.ID, "insertion order must be preserved")
		assert.Nil(t, order.Items, "list must not load items")
	}

	empty, err := repo.List(ctx, domain.OrderFilter{Status: &pending, Offset: 20, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder(domain.OrderStatusPending)
	require.NoError(t, repo.Create(ctx, order))

	later := order.UpdatedAt.Add(time.Minute)
	updated, err := repo.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, later)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, updated.Status)
	assert.True(t, updated.UpdatedAt.Equal(later))
	assert.True(t, updated.TotalAmount.Equal(order.TotalAmount))
	assert.False(t, updated.Paid)
}

func TestOrderRepository_MarkPaid(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder(domain.OrderStatusPending)
	require.NoError(t, repo.Create(ctx, order))

	paidAt := time.Now().UTC()
	update := domain.PaidUpdate{
		ChargeID:   "ch_123",
		ReceiptID:  uuid.NewString(),
		ReceiptURL: "https://pay.example/receipt/1",
		PaidAt:     paidAt,
	}
	paid, err := repo.MarkPaid(ctx, order.ID, update)
	require.NoError(t, err)
	assert.True(t, paid.Paid)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(paidAt))
	require.NotNil(t, paid.StripeChargeID)
	assert.Equal(t, "ch_123", *paid.StripeChargeID)
	require.NotNil(t, paid.Receipt)
	assert.Equal(t, update.ReceiptURL, paid.Receipt.ReceiptURL)

	_, err = repo.MarkPaid(ctx, order.ID, update)
	require.ErrorIs(t, err, domain.ErrReceiptAlreadyExists)
}

func TestOrderRepository_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			done <- repo.Create(ctx, newOrder(domain.OrderStatusPending))
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done, fmt.Sprintf("create #%d", i))
	}

	total, err := repo.Count(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 20, total)
}
