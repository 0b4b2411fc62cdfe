package grpcsvc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// Client вызывает orders.v1.OrderService через JSON-кодек.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient оборачивает соединение.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) CreateOrder(ctx context.Context, req orders.CreateOrderRequest, opts ...grpc.CallOption) (*orders.CreateOrderResult, error) {
	out := new(orders.CreateOrderResult)
	if err := c.invoke(ctx, methodCreateOrder, &req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FindAllOrders(ctx context.Context, req orders.FindAllRequest, opts ...grpc.CallOption) (*orders.OrderPage, error) {
	out := new(orders.OrderPage)
	if err := c.invoke(ctx, methodFindAllOrders, &req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FindOneOrder(ctx context.Context, id string, opts ...grpc.CallOption) (*domain.Order, error) {
	out := new(domain.Order)
	if err := c.invoke(ctx, methodFindOneOrder, &orders.FindOneRequest{ID: id}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ChangeOrderStatus(ctx context.Context, req orders.ChangeStatusRequest, opts ...grpc.CallOption) (*domain.Order, error) {
	out := new(domain.Order)
	if err := c.invoke(ctx, methodChangeOrderStatus, &req, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
