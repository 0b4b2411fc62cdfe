package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.New("unsupported log format " + format + " (use text|json)")
	}

	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	return nil
}

// readConfig загружает .env и накладывает переменные окружения на настройки по умолчанию.
func readConfig() (app.Config, error) {
	if err := app.LoadDotEnv(); err != nil {
		return app.Config{}, err
	}
	return app.ConfigFromEnv(os.LookupEnv)
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.WithError(err).Fatal("некорректные настройки логирования")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_brokers":  cfg.KafkaBrokers,
		"version":        version.String(),
	}).Info("запускаем orders-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("orders-service остановлен")
}
