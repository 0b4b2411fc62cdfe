package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	return logger.WithField("component", "test")
}

func TestInitStorage_Memory(t *testing.T) {
	rt, err := initStorage(context.Background(), Config{StorageDriver: StorageDriverMemory}, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, rt.repo)
	assert.NotNil(t, rt.storage)
	assert.NoError(t, rt.storage.Ping(context.Background()))
}

func TestInitStorage_Errors(t *testing.T) {
	_, err := initStorage(context.Background(), Config{StorageDriver: StorageDriverPostgres}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), envPostgresDSN)

	_, err = initStorage(context.Background(), Config{StorageDriver: "sqlite"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_InvalidStorageDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageDriver = "invalid-driver"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestRun_MemoryGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := Run(ctx, cfg)
	assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)
}

func TestApplication_ServeEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	a, err := newApplication(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer a.close()

	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	opsLis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, grpcLis, opsLis) }()

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	client := grpcsvc.NewClient(conn)
	created, err := client.CreateOrder(callCtx, orders.CreateOrderRequest{
		Items: []orders.CreateOrderItem{{ProductID: "1", Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, "30", created.Order.TotalAmount.String())

	found, err := client.FindOneOrder(callCtx, created.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mouse", found.Items[0].Name)

	hc, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)

	resp, err := http.Get("http://" + opsLis.Addr().String() + "/livez")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestNewGRPCServer_RegisteredServices(t *testing.T) {
	server, _ := newGRPCServer(orders.NewService(orders.Dependencies{}), testLogger())
	defer server.Stop()

	info := server.GetServiceInfo()
	require.Contains(t, info, grpcsvc.ServiceName)
	assert.Len(t, info[grpcsvc.ServiceName].Methods, 4)
	assert.Contains(t, info, healthpb.Health_ServiceDesc.ServiceName)
	assert.NotContains(t, info, "grpc.reflection.v1.ServerReflection")
	assert.NotContains(t, info, "grpc.reflection.v1alpha.ServerReflection")
}

func TestOpsRouter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	router := newOpsRouter(newHealthHandler(storageRuntime{}, nil), registry)

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{path: "/metrics", status: http.StatusOK, contains: "orders_test_total 1"},
		{path: "/livez", status: http.StatusOK, contains: "ok"},
		{path: "/readyz", status: http.StatusOK, contains: "ready"},
		{path: "/healthz", status: http.StatusOK, contains: `"bus"`},
		{path: "/unknown", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.contains != "" {
				assert.True(t, strings.Contains(w.Body.String(), tt.contains), w.Body.String())
			}
		})
	}
}

type failingStorage struct{}

func (failingStorage) Ping(context.Context) error { return errors.New("connection refused") }
func (failingStorage) Close() error               { return nil }

func TestHealthHandler_StorageDown(t *testing.T) {
	h := newHealthHandler(storageRuntime{storage: failingStorage{}}, nil)
	router := newOpsRouter(h, prometheus.NewRegistry())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response healthcheck.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, healthcheck.StatusUnhealthy, response.Checks[storageCheckName].Status)
	assert.Equal(t, healthcheck.StatusDisabled, response.Checks[busCheckName].Status)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, testLogger())
}
