package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

const defaultMetadataTimeout = 2 * time.Second

// ErrNoBrokers возвращается, если в метаданных кластера нет ни одного брокера.
var ErrNoBrokers = errors.New("no kafka brokers available")

// metadataClient описывает часть sarama.Client, нужную для проверки доступности.
type metadataClient interface {
	RefreshMetadata(topics ...string) error
	Brokers() []*sarama.Broker
	Close() error
}

// ClusterChecker проверяет доступность брокеров через обновление метаданных.
type ClusterChecker struct {
	client metadataClient
	topics []string
}

// NewClusterChecker подключается к кластеру. topics ограничивает запрос метаданных.
func NewClusterChecker(brokers []string, clientID string, topics ...string) (*ClusterChecker, error) {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Metadata.Timeout = defaultMetadataTimeout
	config.Metadata.Retry.Max = 1

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &ClusterChecker{client: client, topics: topics}, nil
}

// Ping обновляет метаданные. Контекст ограничивает ожидание, но не прерывает запрос sarama.
func (c *ClusterChecker) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return ErrNoBrokers
	}
	done := make(chan error, 1)
	go func() {
		if err := c.client.RefreshMetadata(c.topics...); err != nil {
			done <- fmt.Errorf("refresh kafka metadata: %w", err)
			return
		}
		if len(c.client.Brokers()) == 0 {
			done <- ErrNoBrokers
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close закрывает клиента.
func (c *ClusterChecker) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
