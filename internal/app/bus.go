package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/service/bus"
	"github.com/vladislavdragonenkov/orders/internal/service/catalog"
	"github.com/vladislavdragonenkov/orders/internal/service/payment"
)

const kafkaClientID = "orders-service"

// busRuntime держит всё, что связано с Kafka: producer, клиентов внешних
// сервисов, consumer ответов и consumer входящих запросов и событий.
type busRuntime struct {
	producer  *kafka.Producer
	requester *kafka.Requester
	cluster   *kafka.ClusterChecker
	replies   *kafka.Consumer
	requests  *kafka.Consumer
	router    *kafka.Router

	catalog  domain.ProductCatalog
	payments domain.PaymentGateway
}

// localIntegrations возвращает заглушки каталога и платежей для запуска без брокера.
func localIntegrations(logger *log.Entry) (domain.ProductCatalog, domain.PaymentGateway) {
	logger.Warn("KAFKA_BROKERS is empty, using local product catalog and payment stubs")
	return catalog.NewDevCatalog(), payment.NewMockGateway()
}

// newBusRuntime подключается к Kafka. Consumer запросов создаётся позже в attach,
// когда готов сервис заказов.
func newBusRuntime(cfg Config, observer kafka.RequestObserver, logger *log.Entry) (_ *busRuntime, err error) {
	b := &busRuntime{}
	defer func() {
		if err != nil {
			b.close(logger)
		}
	}()

	b.producer, err = kafka.NewProducer(cfg.KafkaBrokers, kafkaClientID)
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

	b.cluster, err = kafka.NewClusterChecker(cfg.KafkaBrokers, kafkaClientID)
	if err != nil {
		return nil, err
	}

	b.requester = kafka.NewRequester(b.producer, cfg.ReplyTopic, cfg.RequestTimeout, observer, logger.WithField("layer", "requester"))
	// Каждый экземпляр читает свой reply topic отдельной группой и только новые сообщения.
	b.replies, err = kafka.NewConsumerWithOptions(cfg.KafkaBrokers, cfg.ReplyTopic, []string{cfg.ReplyTopic}, b.requester.HandleReply, kafka.ConsumerOptions{
		MaxRetries:    1,
		InitialOffset: sarama.OffsetNewest,
		ClientID:      kafkaClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("reply consumer: %w", err)
	}

	b.catalog = kafka.NewProductCatalogClient(b.requester, cfg.ProductsTopic)
	b.payments = kafka.NewPaymentGatewayClient(b.requester, cfg.PaymentsTopic)
	return b, nil
}

// attach регистрирует обработчики паттернов и создаёт consumer group сервиса.
func (b *busRuntime) attach(cfg Config, svc bus.OrderService, logger *log.Entry) error {
	b.router = kafka.NewRouter(b.producer, cfg.RequestsTopic, logger.WithField("layer", "router"))
	bus.NewHandlers(svc, logger.WithField("layer", "bus")).Register(b.router, cfg.PaymentSucceededTopic)

	consumer, err := kafka.NewConsumerWithOptions(cfg.KafkaBrokers, cfg.KafkaGroupID, b.router.Topics(), b.router.Dispatch, kafka.ConsumerOptions{
		DLQProducer:   b.producer,
		DLQTopic:      cfg.DLQTopic,
		MaxRetries:    cfg.ConsumerMaxRetries,
		InitialOffset: sarama.OffsetOldest,
		ClientID:      kafkaClientID,
	})
	if err != nil {
		return fmt.Errorf("request consumer: %w", err)
	}
	b.requests = consumer
	logger.WithFields(log.Fields{
		"topics":   b.router.Topics(),
		"patterns": b.router.Patterns(),
		"group_id": cfg.KafkaGroupID,
	}).Info("message patterns registered")
	return nil
}

// start запускает consumers: сначала ответы, потом запросы.
func (b *busRuntime) start(ctx context.Context) error {
	if b.replies != nil {
		if err := b.replies.Start(ctx); err != nil {
			return err
		}
	}
	if b.requests != nil {
		if err := b.requests.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *busRuntime) close(logger *log.Entry) {
	if b == nil {
		return
	}
	var errs []error
	if b.requests != nil {
		errs = append(errs, b.requests.Stop())
	}
	if b.replies != nil {
		errs = append(errs, b.replies.Stop())
	}
	if b.producer != nil {
		errs = append(errs, b.producer.Close())
	}
	if b.cluster != nil {
		errs = append(errs, b.cluster.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.WithError(err).Warn("kafka shutdown with errors")
		return
	}
	logger.Info("kafka closed")
}
