package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// ProductCatalogClient ходит в сервис товаров через request/reply.
type ProductCatalogClient struct {
	requester *Requester
	topic     string
}

// NewProductCatalogClient создаёт клиента каталога.
func NewProductCatalogClient(requester *Requester, topic string) *ProductCatalogClient {
	if topic == "" {
		topic = TopicProductRequests
	}
	return &ProductCatalogClient{requester: requester, topic: topic}
}

// ValidateProducts запрашивает актуальные данные по списку id.
func (c *ProductCatalogClient) ValidateProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	var products []domain.Product
	if err := c.requester.Request(ctx, c.topic, PatternValidateProducts, ids, &products); err != nil {
		return nil, fmt.Errorf("%w: validate products: %w", domain.ErrUpstream, err)
	}
	return products, nil
}

// PaymentGatewayClient создаёт платёжные сессии в сервисе платежей.
type PaymentGatewayClient struct {
	requester *Requester
	topic     string
}

// NewPaymentGatewayClient создаёт клиента платёжного сервиса.
func NewPaymentGatewayClient(requester *Requester, topic string) *PaymentGatewayClient {
	if topic == "" {
		topic = TopicPaymentRequests
	}
	return &PaymentGatewayClient{requester: requester, topic: topic}
}

// CreatePaymentSession возвращает ответ платёжного сервиса без интерпретации.
func (c *PaymentGatewayClient) CreatePaymentSession(ctx context.Context, req domain.PaymentSessionRequest) (json.RawMessage, error) {
	var session json.RawMessage
	if err := c.requester.Request(ctx, c.topic, PatternCreatePaymentSession, req, &session); err != nil {
		return nil, fmt.Errorf("%w: create payment session: %w", domain.ErrUpstream, err)
	}
	return session, nil
}

var (
	_ domain.ProductCatalog = (*ProductCatalogClient)(nil)
	_ domain.PaymentGateway = (*PaymentGatewayClient)(nil)
)
