package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// MockCatalog представляет конфигурируемую заглушку ProductCatalog для dev-режима и тестов.
// Неизвестные id просто отсутствуют в ответе, как у настоящего сервиса товаров.
type MockCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product

	Err   error
	Calls int
	// LastIDs хранит id из последнего вызова.
	LastIDs []string
}

// NewMockCatalog создаёт каталог с заданным набором товаров.
func NewMockCatalog(products ...domain.Product) *MockCatalog {
	m := &MockCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		m.products[string(p.ID)] = p
	}
	return m
}

// NewDevCatalog возвращает каталог с несколькими товарами для локального запуска без брокера.
func NewDevCatalog() *MockCatalog {
	return NewMockCatalog(
		domain.Product{ID: "1", Name: "Mouse", Price: decimal.RequireFromString("10.00")},
		domain.Product{ID: "2", Name: "Keyboard", Price: decimal.RequireFromString("45.50")},
		domain.Product{ID: "3", Name: "Monitor", Price: decimal.RequireFromString("199.99")},
		domain.Product{ID: "4", Name: "Mouse pad", Price: decimal.RequireFromString("5.00")},
	)
}

// Put добавляет или заменяет товар.
func (m *MockCatalog) Put(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[string(p.ID)] = p
}

// Remove убирает товар из каталога.
func (m *MockCatalog) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
}

// ValidateProducts возвращает известные товары из запроса и считает вызовы.
func (m *MockCatalog) ValidateProducts(_ context.Context, ids []string) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.LastIDs = append([]string(nil), ids...)
	if m.Err != nil {
		return nil, m.Err
	}

	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

var _ domain.ProductCatalog = (*MockCatalog)(nil)
