package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

// headerReplayedFrom помечает повторно отправленное сообщение координатами записи в DLQ.
const headerReplayedFrom = "x-replayed-from"

type offsetClient interface {
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayPublisher interface {
	kafka.Publisher
	Close() error
}

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ по партициям и возвращает исходные сообщения в их topic.
type replayer struct {
	cfg       config
	offsets   offsetClient
	consumer  partitionConsumerSource
	publisher replayPublisher
	logger    *log.Entry
}

func newReplayer(cfg config, deps replayDeps, logger *log.Entry) (*replayer, error) {
	if deps.offsets == nil || deps.consumer == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && deps.publisher == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	if logger == nil {
		logger = log.WithField("component", "dlq-reprocess")
	}
	return &replayer{
		cfg:       cfg,
		offsets:   deps.offsets,
		consumer:  deps.consumer,
		publisher: deps.publisher,
		logger:    logger,
	}, nil
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		r.logger.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.cfg.limit - total.scanned
		if budget <= 0 {
			break
		}
		stats, err := r.scanPartition(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// window возвращает [start, end) для чтения партиции с учётом from-newest.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(budget), oldest)
	}
	return start, newest, nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, budget)
	if err != nil {
		return stats, err
	}
	if end <= start {
		return stats, nil
	}

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Debug("partition idle, moving on")
			return stats, nil
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			resetTimer(idle, r.cfg.idleTimeout)

			stats.scanned++
			replayed, err := r.replay(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}

			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// replay отправляет одно сообщение или только логирует его в dry-run.
// false означает, что запись пропущена.
func (r *replayer) replay(msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	out, ok, err := extractReplayMessage(msg, r.cfg)
	if err != nil {
		entry.WithError(err).Warn("skip malformed dlq message")
		return false, nil
	}
	if !ok {
		return false, nil
	}

	entry = entry.WithFields(log.Fields{"target_topic": out.topic, "key": out.key})
	if !r.cfg.execute {
		entry.Info("dlq replay candidate")
		return true, nil
	}
	if err := r.publisher.Publish(out.topic, out.key, out.value, out.headers); err != nil {
		return false, fmt.Errorf("publish replay message: %w", err)
	}
	entry.Debug("dlq message replayed")
	return true, nil
}

// extractReplayMessage достаёт исходное сообщение из записи DLQ.
// ok=false означает, что запись не подходит под фильтр или не содержит исходного значения.
func extractReplayMessage(msg *sarama.ConsumerMessage, cfg config) (replayMessage, bool, error) {
	var dlq kafka.DLQMessage
	if err := json.Unmarshal(msg.Value, &dlq); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode dlq message: %w", err)
	}
	if dlq.OriginalValue == "" {
		return replayMessage{}, false, nil
	}
	if cfg.onlyTopic != "" && dlq.OriginalTopic != cfg.onlyTopic {
		return replayMessage{}, false, nil
	}

	target := cfg.targetTopic
	if target == "" {
		target = dlq.OriginalTopic
	}
	if target == "" {
		target = kafka.TopicPaymentSucceeded
	}

	headers := make(map[string]string, len(dlq.OriginalHeaders)+1)
	for k, v := range dlq.OriginalHeaders {
		headers[k] = v
	}
	headers[headerReplayedFrom] = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)

	return replayMessage{
		topic:   target,
		key:     dlq.OriginalKey,
		value:   []byte(dlq.OriginalValue),
		headers: headers,
	}, true, nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
