package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

const (
	shutdownTimeout    = 5 * time.Second
	connectTimeout     = 10 * time.Second
	readHeaderTimeout  = 5 * time.Second
	healthCheckTimeout = 2 * time.Second
	storageCheckName   = "storage"
	busCheckName       = "bus"
	busDisabledReason  = "KAFKA_BROKERS is empty"
	grpcHealthOverall  = ""
)

// application собирает все компоненты процесса.
type application struct {
	cfg    Config
	logger *log.Entry

	storage storageRuntime
	bus     *busRuntime
	service *orders.Service

	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	healthHandler *healthcheck.Handler
	opsHandler    http.Handler
}

// Run поднимает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	opsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}

	return a.serve(ctx, grpcLis, opsLis)
}

func newApplication(ctx context.Context, cfg Config, logger *log.Entry) (_ *application, err error) {
	a := &application{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.storage, err = initStorage(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return nil, err
	}

	orderMetrics := metrics.NewOrderMetrics()

	deps := orders.Dependencies{
		Orders:   a.storage.repo,
		Storage:  a.storage.storage,
		Metrics:  orderMetrics,
		Logger:   logger.WithField("layer", "orders"),
		Currency: cfg.Currency,
	}
	if cfg.BusEnabled() {
		a.bus, err = newBusRuntime(cfg, orderMetrics, logger.WithField("layer", "kafka"))
		if err != nil {
			return nil, err
		}
		deps.Catalog, deps.Payments = a.bus.catalog, a.bus.payments
	} else {
		deps.Catalog, deps.Payments = localIntegrations(logger)
	}

	a.service = orders.NewService(deps)
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err = a.service.Connect(connectCtx); err != nil {
		return nil, err
	}

	if a.bus != nil {
		if err = a.bus.attach(cfg, a.service, logger.WithField("layer", "kafka")); err != nil {
			return nil, err
		}
	}

	a.grpcServer, a.grpcHealth = newGRPCServer(a.service, logger)
	a.healthHandler = newHealthHandler(a.storage, a.bus)
	a.opsHandler = newOpsRouter(a.healthHandler, prometheus.DefaultGatherer)
	return a, nil
}

// serve запускает gRPC, ops HTTP и consumers в одной errgroup.
func (a *application) serve(ctx context.Context, grpcLis, opsLis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.bus != nil {
		if err := a.bus.start(gctx); err != nil {
			_ = grpcLis.Close()
			_ = opsLis.Close()
			return err
		}
	}

	opsServer := &http.Server{Handler: a.opsHandler, ReadHeaderTimeout: readHeaderTimeout}

	g.Go(func() error {
		a.logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := a.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Infof("метрики и health checks доступны по адресу %s", opsLis.Addr())
		if err := opsServer.Serve(opsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("получен сигнал остановки, останавливаем серверы")
		a.grpcHealth.Shutdown()
		stopGRPC(a.grpcServer, a.logger)
		shutdownHTTP(opsServer, a.logger)
		return nil
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (a *application) close() {
	a.bus.close(a.logger)
	if a.service != nil {
		if err := a.service.Disconnect(); err != nil {
			a.logger.WithError(err).Warn("failed to close storage")
		}
		return
	}
	if a.storage.storage != nil {
		_ = a.storage.storage.Close()
	}
}

// newGRPCServer собирает gRPC-сервер с метриками и health.
// Reflection не регистрируется: у JSON-сервиса нет protobuf-дескриптора, describe вернул бы ошибку.
func newGRPCServer(svc *orders.Service, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	grpcMetrics.EnableHandlingTimeHistogram()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterOrderServiceServer(server, grpcsvc.NewOrderService(svc, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(grpcHealthOverall, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

func newHealthHandler(storage storageRuntime, b *busRuntime) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.GetVersion()).WithTimeout(healthCheckTimeout)
	if storage.storage != nil {
		h.RegisterChecker(storageCheckName, healthcheck.NewPingChecker(storageCheckName, storage.storage))
	}
	if b != nil && b.cluster != nil {
		h.RegisterChecker(busCheckName, healthcheck.NewPingChecker(busCheckName, b.cluster))
	} else {
		h.RegisterChecker(busCheckName, healthcheck.Disabled(busCheckName, busDisabledReason))
	}
	return h
}

// newOpsRouter отдаёт /metrics и health probes.
func newOpsRouter(h *healthcheck.Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.Routes(r)
	return r
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
