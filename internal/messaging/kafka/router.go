package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// RequestHandler обрабатывает request/reply вызов. Результат сериализуется в поле data ответа.
// Ошибка типа *RPCError уходит клиенту как есть, остальные превращаются в 500.
type RequestHandler func(ctx context.Context, payload json.RawMessage) (any, error)

// Router разбирает входящие сообщения: события по topic, запросы по заголовку x-pattern.
type Router struct {
	publisher    Publisher
	requestTopic string
	requests     map[string]RequestHandler
	events       map[string]MessageHandler
	logger       *log.Entry
}

// NewRouter создаёт router. publisher нужен для отправки ответов.
func NewRouter(publisher Publisher, requestTopic string, logger *log.Entry) *Router {
	if logger == nil {
		logger = log.WithField("component", "kafka-router")
	}
	if requestTopic == "" {
		requestTopic = TopicOrderRequests
	}
	return &Router{
		publisher:    publisher,
		requestTopic: requestTopic,
		requests:     make(map[string]RequestHandler),
		events:       make(map[string]MessageHandler),
		logger:       logger,
	}
}

// HandleRequest регистрирует обработчик паттерна.
func (r *Router) HandleRequest(pattern string, handler RequestHandler) {
	r.requests[pattern] = handler
}

// HandleEvent регистрирует обработчик событий topic.
func (r *Router) HandleEvent(topic string, handler MessageHandler) {
	r.events[topic] = handler
}

// Topics возвращает все topic, на которые нужно подписать consumer.
func (r *Router) Topics() []string {
	topics := []string{r.requestTopic}
	for topic := range r.events {
		if topic != r.requestTopic {
			topics = append(topics, topic)
		}
	}
	return topics
}

// Patterns возвращает зарегистрированные паттерны.
func (r *Router) Patterns() []string {
	patterns := make([]string, 0, len(r.requests))
	for pattern := range r.requests {
		patterns = append(patterns, pattern)
	}
	return patterns
}

// Dispatch служит MessageHandler для consumer group.
// Ошибка возвращается только для событий и для неудачной публикации ответа:
// доменные ошибки запросов доставляются клиенту в теле ответа.
func (r *Router) Dispatch(ctx context.Context, message *sarama.ConsumerMessage) error {
	if handler, ok := r.events[message.Topic]; ok {
		return handler(ctx, message)
	}

	pattern := headerValue(message.Headers, HeaderPattern)
	correlationID := headerValue(message.Headers, HeaderCorrelationID)
	replyTo := headerValue(message.Headers, HeaderReplyTo)
	logger := r.logger.WithFields(log.Fields{
		"pattern":        pattern,
		"correlation_id": correlationID,
		"topic":          message.Topic,
	})

	data, rpcErr := r.invoke(ctx, pattern, message.Value)
	if rpcErr != nil {
		entry := logger.WithField("status", rpcErr.Status)
		if rpcErr.Status >= StatusInternal {
			entry.Error(rpcErr.Message)
		} else {
			entry.Warn(rpcErr.Message)
		}
	}

	if replyTo == "" {
		logger.Warn("request without reply topic, result dropped")
		return nil
	}

	reply, err := encodeReply(data, rpcErr)
	if err != nil {
		logger.WithError(err).Error("failed to encode reply")
		reply, _ = encodeReply(nil, NewRPCError(StatusInternal, "internal server error"))
	}

	headers := map[string]string{HeaderCorrelationID: correlationID}
	if err := r.publisher.Publish(replyTo, correlationID, reply, headers); err != nil {
		return fmt.Errorf("publish reply for %s: %w", pattern, err)
	}
	return nil
}

func (r *Router) invoke(ctx context.Context, pattern string, payload []byte) (any, *RPCError) {
	handler, ok := r.requests[pattern]
	if !ok {
		return nil, NewRPCError(StatusNotFound, fmt.Sprintf("unknown pattern %q", pattern))
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, NewRPCError(StatusBadRequest, "malformed JSON payload")
	}

	result, err := handler(ctx, json.RawMessage(payload))
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, rpcErr
		}
		r.logger.WithError(err).WithField("pattern", pattern).Error("request handler failed")
		return nil, NewRPCError(StatusInternal, "internal server error")
	}
	return result, nil
}

func encodeReply(data any, rpcErr *RPCError) ([]byte, error) {
	if rpcErr != nil {
		return json.Marshal(replyEnvelope{Error: rpcErr})
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal reply data: %w", err)
	}
	return json.Marshal(replyEnvelope{Data: raw})
}
