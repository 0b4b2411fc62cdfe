package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

// storageRuntime содержит выбранное хранилище заказов и его жизненный цикл.
type storageRuntime struct {
	repo    domain.OrderRepository
	storage domain.Storage
}

// initStorage открывает хранилище по cfg.StorageDriver.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (storageRuntime, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return storageRuntime{repo: memory.NewOrderRepository(), storage: memory.Storage{}}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return storageRuntime{}, fmt.Errorf("%s is required for postgres storage", envPostgresDSN)
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return storageRuntime{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return storageRuntime{}, fmt.Errorf("apply migrations: %w", err)
			}
			version, applied, err := store.MigrationStatus(ctx)
			if err == nil {
				logger.WithFields(log.Fields{"version": version, "applied": applied}).Info("postgres schema is up to date")
			}
		}
		return storageRuntime{repo: postgres.NewOrderRepository(store), storage: store}, nil
	default:
		return storageRuntime{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
