package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// MockGateway представляет конфигурируемую заглушку PaymentGateway для dev-режима и тестов.
type MockGateway struct {
	mu sync.Mutex

	// Session, если задан, возвращается вместо сгенерированного дескриптора.
	Session json.RawMessage
	Err     error

	Calls    int
	Requests []domain.PaymentSessionRequest
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// CreatePaymentSession запоминает запрос и возвращает настроенный результат.
func (m *MockGateway) CreatePaymentSession(_ context.Context, req domain.PaymentSessionRequest) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Session != nil {
		return m.Session, nil
	}

	session, err := json.Marshal(map[string]string{
		"url":        fmt.Sprintf("https://checkout.local/session/%s", req.OrderID),
		"successUrl": "https://checkout.local/success",
		"cancelUrl":  "https://checkout.local/cancel",
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// LastRequest возвращает последний запрос или false, если вызовов не было.
func (m *MockGateway) LastRequest() (domain.PaymentSessionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return domain.PaymentSessionRequest{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
