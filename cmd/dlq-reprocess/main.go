package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	replayClientID     = "orders-dlq-reprocess"
)

type config struct {
	brokers     []string
	sourceTopic string
	// targetTopic переопределяет исходный topic. Пустое значение возвращает сообщение туда, откуда оно пришло.
	targetTopic string
	// onlyTopic оставляет только сообщения, упавшие при чтении этого topic.
	onlyTopic   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayDeps собирает клиентов Kafka для одного прогона. publisher есть только в режиме execute.
type replayDeps struct {
	offsets   offsetClient
	consumer  partitionConsumerSource
	publisher replayPublisher
}

func (d replayDeps) close() error {
	var errs []error
	if d.publisher != nil {
		errs = append(errs, d.publisher.Close())
	}
	if d.consumer != nil {
		errs = append(errs, d.consumer.Close())
	}
	if d.offsets != nil {
		errs = append(errs, d.offsets.Close())
	}
	return errors.Join(errs...)
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var openDeps = func(cfg config) (replayDeps, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = replayClientID
	saramaConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaConfig)
	if err != nil {
		return replayDeps{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return replayDeps{}, fmt.Errorf("create kafka consumer: %w", err)
	}

	deps := replayDeps{offsets: client, consumer: saramaConsumerAdapter{consumer: consumer}}
	if !cfg.execute {
		return deps, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, replayClientID)
	if err != nil {
		_ = deps.close()
		return replayDeps{}, err
	}
	deps.publisher = producer
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if err := app.LoadDotEnv(); err != nil {
		fail("%v", err)
	}
	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

// readConfig берёт брокеры и DLQ topic из окружения сервиса, флаги их переопределяют.
func readConfig(args []string, lookup app.EnvLookup) (config, error) {
	base, err := app.ConfigFromEnv(lookup)
	if err != nil {
		return config{}, err
	}

	cfg := config{}
	brokersRaw := strings.Join(base.KafkaBrokers, ",")

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", brokersRaw, "Kafka brokers as comma-separated list (default from KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", base.DLQTopic, "DLQ source topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "override target topic; empty replays to the original topic")
	fs.StringVar(&cfg.onlyTopic, "only-topic", "", "replay only messages whose original topic matches")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/replay")
	fs.BoolVar(&cfg.execute, "execute", false, "execute replay; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	for _, broker := range strings.Split(brokersRaw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.onlyTopic = strings.TrimSpace(cfg.onlyTopic)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case cfg.sourceTopic == "":
		return config{}, errors.New("source-topic is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	logger := log.WithField("component", "dlq-reprocess")
	logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"only_topic":   cfg.onlyTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	deps, err := openDeps(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close kafka clients")
		}
	}()

	r, err := newReplayer(cfg, deps, logger)
	if err != nil {
		return err
	}
	stats, err := r.run(ctx)
	if err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	logger.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
	}).Info("dlq replay finished")
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
