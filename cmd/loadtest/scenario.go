package main

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// orderClient описывает часть grpcsvc.Client, которую использует нагрузочный тест.
type orderClient interface {
	CreateOrder(ctx context.Context, req orders.CreateOrderRequest, opts ...grpc.CallOption) (*orders.CreateOrderResult, error)
	FindAllOrders(ctx context.Context, req orders.FindAllRequest, opts ...grpc.CallOption) (*orders.OrderPage, error)
	FindOneOrder(ctx context.Context, id string, opts ...grpc.CallOption) (*domain.Order, error)
	ChangeOrderStatus(ctx context.Context, req orders.ChangeStatusRequest, opts ...grpc.CallOption) (*domain.Order, error)
}

const (
	methodScenario     = "scenario"
	methodCreate       = "CreateOrder"
	methodFindAll      = "FindAllOrders"
	methodFindOne      = "FindOneOrder"
	methodChangeStatus = "ChangeOrderStatus"
)

func runScenario(client orderClient, cfg config, index int, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record(methodScenario, time.Since(scenarioStart), scenarioCode)
	}()

	order, err := callCreateOrder(client, cfg, col)
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	if order.ID == "" {
		scenarioCode = codes.Internal
		return errors.New("create response returned empty order id")
	}

	switch cfg.mode {
	case modeCreateRead:
		if err := callFindOne(client, cfg.timeout, order.ID, col); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
		if err := callFindAll(client, cfg.timeout, cfg.pageLimit, col); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
	case modeCreateDeliver:
		target := domain.OrderStatusDelivered
		if shouldCancelScenario(index, cfg.cancelRate) {
			target = domain.OrderStatusCancelled
		}
		if err := callChangeStatus(client, cfg.timeout, order.ID, target, col); err != nil {
			scenarioCode = grpcCode(err)
			return err
		}
	}

	return nil
}

func callCreateOrder(client orderClient, cfg config, col *collector) (domain.Order, error) {
	items := make([]orders.CreateOrderItem, 0, len(cfg.products))
	for _, id := range cfg.products {
		items = append(items, orders.CreateOrderItem{ProductID: domain.ProductID(id), Quantity: cfg.quantity})
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	resp, err := client.CreateOrder(ctx, orders.CreateOrderRequest{Items: items})
	col.record(methodCreate, time.Since(start), grpcCode(err))
	if err != nil {
		return domain.Order{}, err
	}
	return resp.Order, nil
}

func callFindOne(client orderClient, timeout time.Duration, orderID string, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := client.FindOneOrder(ctx, orderID)
	col.record(methodFindOne, time.Since(start), grpcCode(err))
	return err
}

func callFindAll(client orderClient, timeout time.Duration, limit int, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	page := 1
	_, err := client.FindAllOrders(ctx, orders.FindAllRequest{Page: &page, Limit: &limit})
	col.record(methodFindAll, time.Since(start), grpcCode(err))
	return err
}

func callChangeStatus(client orderClient, timeout time.Duration, orderID string, target domain.OrderStatus, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := client.ChangeOrderStatus(ctx, orders.ChangeStatusRequest{ID: orderID, Status: target})
	col.record(methodChangeStatus, time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
