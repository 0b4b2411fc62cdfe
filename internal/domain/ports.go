package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Product представляет ответ каталога на запрос валидации товаров.
type Product struct {
	ID    ProductID       `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ProductID принимает идентификатор товара как JSON-строку или число.
// Каталог может отдавать числовые id, внутри сервиса они всегда строки.
type ProductID string

// UnmarshalJSON декодирует строковый или числовой идентификатор.
func (p *ProductID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*p = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	// 100, 1e2 и 100.0 должны дать один и тот же id "100"
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return fmt.Errorf("decode product id %s: %w", n, err)
	}
	if !d.IsInteger() {
		return fmt.Errorf("product id must be an integer, got %s", n)
	}
	*p = ProductID(d.String())
	return nil
}

// ProductCatalog описывает взаимодействие с сервисом товаров.
type ProductCatalog interface {
	// ValidateProducts возвращает актуальные имя и цену для переданных id.
	// Отсутствие id в ответе проверяет вызывающая сторона.
	ValidateProducts(ctx context.Context, ids []string) ([]Product, error)
}

// PaymentSessionItem описывает позицию, передаваемую в платёжный сервис.
type PaymentSessionItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// PaymentSessionRequest описывает запрос на создание платёжной сессии.
type PaymentSessionRequest struct {
	OrderID  string               `json:"orderId"`
	Currency string               `json:"currency"`
	Items    []PaymentSessionItem `json:"items"`
}

// PaymentGateway описывает взаимодействие с платёжным сервисом.
type PaymentGateway interface {
	// CreatePaymentSession возвращает непрозрачный дескриптор сессии как есть.
	CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (json.RawMessage, error)
}

// Storage описывает жизненный цикл подключения к хранилищу.
type Storage interface {
	Ping(ctx context.Context) error
	Close() error
}
