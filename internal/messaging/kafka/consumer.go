package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultRetryDelay = 200 * time.Millisecond

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable помечает ошибку как постоянную: consumer не повторяет обработку
// и сразу отправляет сообщение в DLQ.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable проверяет, помечена ли ошибка как постоянная.
func IsNonRetryable(err error) bool {
	var target *nonRetryableError
	return errors.As(err, &target)
}

// ConsumerOptions задаёт поведение retry и DLQ.
type ConsumerOptions struct {
	DLQProducer *Producer
	DLQTopic    string
	MaxRetries  int
	RetryDelay  time.Duration
	// InitialOffset: sarama.OffsetNewest или sarama.OffsetOldest.
	InitialOffset int64
	ClientID      string
}

// Consumer представляет Kafka consumer с поддержкой DLQ
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer
	dlqTopic    string
	maxRetries  int
	retryDelay  time.Duration
}

// NewConsumerWithOptions создает consumer group с явными настройками retry/DLQ.
func NewConsumerWithOptions(brokers []string, groupID string, topics []string, handler MessageHandler, opts ConsumerOptions) (*Consumer, error) {
	config := sarama.NewConfig()
	if opts.ClientID != "" {
		config.ClientID = opts.ClientID
	}
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if opts.InitialOffset == sarama.OffsetOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return newConsumer(group, topics, handler, opts), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ConsumerOptions) *Consumer {
	dlqTopic := opts.DLQTopic
	if dlqTopic == "" {
		dlqTopic = TopicDeadLetterQueue
	}
	retryDelay := opts.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	} else if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}
	return &Consumer{
		consumer:    group,
		topics:      topics,
		handler:     handler,
		logger:      log.WithField("component", "kafka-consumer"),
		dlqProducer: opts.DLQProducer,
		dlqTopic:    dlqTopic,
		maxRetries:  opts.MaxRetries,
		retryDelay:  retryDelay,
	}
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при каждом rebalance, поэтому вызывается в цикле
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				// без DLQ сообщение остаётся непомеченным и будет перечитано после rebalance
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry повторяет обработку в процессе до maxRetries попыток
// (с учётом x-retry-count), затем отправляет сообщение в DLQ.
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)
	attempts := c.maxRetries - retryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if IsNonRetryable(err) {
			break
		}
		retryCount++
		if attempt+1 < attempts {
			c.logger.WithError(err).WithFields(log.Fields{
				"topic":       message.Topic,
				"retry_count": retryCount,
				"max_retries": c.maxRetries,
			}).Warn("message processing failed, will retry")
			if !sleepCtx(ctx, c.retryDelay) {
				return ctx.Err()
			}
		}
	}

	if c.dlqProducer == nil {
		return err
	}
	if dlqErr := c.sendToDLQ(message, err); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithError(err).WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
		"permanent":   IsNonRetryable(err),
	}).Warn("message sent to DLQ")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(headerValue(message.Headers, HeaderRetryCount))
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error) error {
	failedAt := time.Now().UTC().Format(time.RFC3339)
	dlqMessage := DLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		OriginalHeaders:   replayableHeaders(message.Headers),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		RetryCount:        c.getRetryCount(message),
	}

	value, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}
	topic := c.dlqTopic
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return c.dlqProducer.Publish(topic, string(message.Key), value, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  processingErr.Error(),
		HeaderFailedAt:      failedAt,
	})
}

func replayableHeaders(headers []*sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, header := range headers {
		if header == nil || string(header.Key) == HeaderRetryCount {
			continue
		}
		out[string(header.Key)] = string(header.Value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
