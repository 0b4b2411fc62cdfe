package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
)

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Переменные окружения.
const (
	envGRPCAddr              = "ORDERS_GRPC_ADDR"
	envMetricsAddr           = "ORDERS_METRICS_ADDR"
	envStorageDriver         = "ORDERS_STORAGE_DRIVER"
	envPostgresDSN           = "ORDERS_POSTGRES_DSN"
	envPostgresAutoMigrate   = "ORDERS_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers          = "KAFKA_BROKERS"
	envKafkaGroupID          = "ORDERS_KAFKA_GROUP_ID"
	envRequestsTopic         = "ORDERS_REQUESTS_TOPIC"
	envProductsTopic         = "ORDERS_PRODUCTS_TOPIC"
	envPaymentsTopic         = "ORDERS_PAYMENTS_TOPIC"
	envPaymentSucceededTopic = "ORDERS_PAYMENT_SUCCEEDED_TOPIC"
	envReplyTopic            = "ORDERS_REPLY_TOPIC"
	envDLQTopic              = "ORDERS_DLQ_TOPIC"
	envRequestTimeout        = "ORDERS_REQUEST_TIMEOUT"
	envConsumerMaxRetries    = "ORDERS_CONSUMER_MAX_RETRIES"
	envCurrency              = "ORDERS_CURRENCY"
	envLogLevel              = "ORDERS_LOG_LEVEL"
	envLogFormat             = "ORDERS_LOG_FORMAT"
)

const (
	defaultGroupID            = "orders-service"
	defaultRequestTimeout     = 5 * time.Second
	defaultConsumerMaxRetries = 3
	replyTopicPrefix          = "orders.replies."
)

// EnvLookup читает переменную окружения, как os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// При пустом KafkaBrokers шина выключена, каталог и платежи заменяются локальными заглушками.
	KafkaBrokers          []string
	KafkaGroupID          string
	RequestsTopic         string
	ProductsTopic         string
	PaymentsTopic         string
	PaymentSucceededTopic string
	ReplyTopic            string
	DLQTopic              string
	RequestTimeout        time.Duration
	ConsumerMaxRetries    int

	Currency  string
	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		KafkaGroupID:          defaultGroupID,
		RequestsTopic:         kafka.TopicOrderRequests,
		ProductsTopic:         kafka.TopicProductRequests,
		PaymentsTopic:         kafka.TopicPaymentRequests,
		PaymentSucceededTopic: kafka.TopicPaymentSucceeded,
		ReplyTopic:            defaultReplyTopic(),
		DLQTopic:              kafka.TopicDeadLetterQueue,
		RequestTimeout:        defaultRequestTimeout,
		ConsumerMaxRetries:    defaultConsumerMaxRetries,
		Currency:              "usd",
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

func defaultReplyTopic() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "local"
	}
	return replyTopicPrefix + host
}

// LoadDotEnv подгружает .env в окружение процесса. Отсутствие файла не ошибка.
// Уже заданные переменные не перезаписываются.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Все некорректные значения собираются в одну ошибку.
func ConfigFromEnv(lookup EnvLookup) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := DefaultConfig()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	str(envKafkaGroupID, &cfg.KafkaGroupID)
	str(envRequestsTopic, &cfg.RequestsTopic)
	str(envProductsTopic, &cfg.ProductsTopic)
	str(envPaymentsTopic, &cfg.PaymentsTopic)
	str(envPaymentSucceededTopic, &cfg.PaymentSucceededTopic)
	str(envReplyTopic, &cfg.ReplyTopic)
	str(envDLQTopic, &cfg.DLQTopic)
	str(envCurrency, &cfg.Currency)
	str(envLogLevel, &cfg.LogLevel)
	str(envLogFormat, &cfg.LogFormat)

	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	if v, ok := lookup(envPostgresAutoMigrate); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envPostgresAutoMigrate, err))
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v, ok := lookup(envRequestTimeout); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envRequestTimeout, err))
		} else {
			cfg.RequestTimeout = parsed
		}
	}
	if v, ok := lookup(envConsumerMaxRetries); ok && strings.TrimSpace(v) != "" {
		parsed, err := parseInt(v, func(n int) bool { return n > 0 }, "must be > 0")
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envConsumerMaxRetries, err))
		} else {
			cfg.ConsumerMaxRetries = parsed
		}
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, fmt.Errorf("%s is required for postgres storage", envPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q (use memory|postgres)", c.StorageDriver))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be > 0"))
	}
	if strings.TrimSpace(c.Currency) == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	if c.BusEnabled() {
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("kafka group id is required"))
		}
		if c.ReplyTopic == "" {
			errs = append(errs, errors.New("reply topic is required"))
		}
		if c.ReplyTopic == c.RequestsTopic {
			errs = append(errs, errors.New("reply topic must differ from requests topic"))
		}
	}
	return errors.Join(errs...)
}

// BusEnabled сообщает, настроена ли Kafka.
func (c Config) BusEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
