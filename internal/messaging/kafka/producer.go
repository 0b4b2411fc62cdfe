package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Publisher отправляет готовое сообщение в topic.
type Publisher interface {
	Publish(topic, key string, value []byte, headers map[string]string) error
}

// Producer представляет Kafka producer для ответов, исходящих запросов и DLQ.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer создает новый Kafka producer
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1 // обязательное условие idempotent producer

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewProducerFromSync(producer, nil), nil
}

// NewProducerFromSync оборачивает уже созданный SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger}
}

// Publish публикует сырое значение с заголовками.
func (p *Producer) Publish(topic, key string, value []byte, headers map[string]string) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic": topic,
			"key":   key,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

var _ Publisher = (*Producer)(nil)
