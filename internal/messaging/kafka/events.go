package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// Topics по умолчанию. Реальные имена приходят из конфигурации.
const (
	TopicOrderRequests    = "orders.requests"
	TopicProductRequests  = "products.requests"
	TopicPaymentRequests  = "payments.requests"
	TopicPaymentSucceeded = "payment.succeeded"
	TopicDeadLetterQueue  = "orders.dlq" // Dead Letter Queue для failed messages
)

// Паттерны request/reply вызовов.
const (
	PatternCreateOrder          = "createOrder"
	PatternFindAllOrders        = "findAllOrders"
	PatternFindOneOrder         = "findOneOrder"
	PatternChangeOrderStatus    = "changeOrderStatus"
	PatternValidateProducts     = "validate_product"
	PatternCreatePaymentSession = "create.payment.session"
)

// Kafka headers
const (
	HeaderPattern       = "x-pattern"
	HeaderCorrelationID = "x-correlation-id"
	HeaderReplyTo       = "x-reply-to"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Коды ошибок в ответах. Совпадают по смыслу с HTTP-статусами.
const (
	StatusBadRequest = 400
	StatusNotFound   = 404
	StatusInternal   = 500
	StatusBadGateway = 502
)

// PaymentSucceededEvent представляет событие платёжного сервиса об успешной оплате.
type PaymentSucceededEvent struct {
	OrderID         string `json:"orderId"`
	ReceiptURL      string `json:"receiptUrl"`
	StripePaymentID string `json:"stripePaymentId"`
}

// RPCError представляет структурированную ошибку, которая уходит в ответ вызывающей стороне.
type RPCError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Status, e.Message)
}

// NewRPCError создаёт ошибку ответа.
func NewRPCError(status int, message string) *RPCError {
	return &RPCError{Message: message, Status: status}
}

// replyEnvelope описывает тело ответа: data или error.
type replyEnvelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *RPCError       `json:"error,omitempty"`
}

// DLQMessage описывает сообщение, которое consumer кладёт в dead-letter topic.
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	// OriginalHeaders без счётчика повторов: повторная отправка начинает попытки заново.
	OriginalHeaders map[string]string `json:"original_headers,omitempty"`
	ErrorMessage    string            `json:"error_message"`
	FailedAt        string            `json:"failed_at"`
	RetryCount      int               `json:"retry_count"`
}

// ParsePaymentSucceeded разбирает событие payment.succeeded.
func ParsePaymentSucceeded(value []byte) (*PaymentSucceededEvent, error) {
	var event PaymentSucceededEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment succeeded event: %w", err)
	}
	return &event, nil
}

func headerValue(headers []*sarama.RecordHeader, key string) string {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
