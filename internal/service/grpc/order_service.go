package grpcsvc

import (
	"context"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

// ServiceName содержит полное имя gRPC-сервиса.
const ServiceName = "orders.v1.OrderService"

const (
	methodCreateOrder       = "/" + ServiceName + "/CreateOrder"
	methodFindAllOrders     = "/" + ServiceName + "/FindAllOrders"
	methodFindOneOrder      = "/" + ServiceName + "/FindOneOrder"
	methodChangeOrderStatus = "/" + ServiceName + "/ChangeOrderStatus"
)

// OrderUseCases описывает операции над заказами, доступные по gRPC.
type OrderUseCases interface {
	Create(ctx context.Context, req orders.CreateOrderRequest) (orders.CreateOrderResult, error)
	FindAll(ctx context.Context, req orders.FindAllRequest) (orders.OrderPage, error)
	FindOne(ctx context.Context, id string) (domain.Order, error)
	ChangeStatus(ctx context.Context, req orders.ChangeStatusRequest) (domain.Order, error)
}

// OrderServiceServer описывает серверную часть orders.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(ctx context.Context, req *orders.CreateOrderRequest) (*orders.CreateOrderResult, error)
	FindAllOrders(ctx context.Context, req *orders.FindAllRequest) (*orders.OrderPage, error)
	FindOneOrder(ctx context.Context, req *orders.FindOneRequest) (*domain.Order, error)
	ChangeOrderStatus(ctx context.Context, req *orders.ChangeStatusRequest) (*domain.Order, error)
}

// OrderService реализует gRPC API поверх сервиса заказов.
type OrderService struct {
	orders OrderUseCases
	logger *log.Entry
}

var _ OrderServiceServer = (*OrderService)(nil)

// NewOrderService конструирует сервис с зависимостями.
func NewOrderService(svc OrderUseCases, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.WithField("component", "order-grpc")
	}
	return &OrderService{orders: svc, logger: logger}
}

// CreateOrder создаёт заказ и возвращает платёжную сессию.
func (s *OrderService) CreateOrder(ctx context.Context, req *orders.CreateOrderRequest) (*orders.CreateOrderResult, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	result, err := s.orders.Create(ctx, *req)
	if err != nil {
		return nil, s.toStatus(methodCreateOrder, err)
	}
	return &result, nil
}

// FindAllOrders возвращает страницу заказов.
func (s *OrderService) FindAllOrders(ctx context.Context, req *orders.FindAllRequest) (*orders.OrderPage, error) {
	if req == nil {
		req = &orders.FindAllRequest{}
	}
	page, err := s.orders.FindAll(ctx, *req)
	if err != nil {
		return nil, s.toStatus(methodFindAllOrders, err)
	}
	return &page, nil
}

// FindOneOrder возвращает заказ с позициями и чеком.
func (s *OrderService) FindOneOrder(ctx context.Context, req *orders.FindOneRequest) (*domain.Order, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	order, err := s.orders.FindOne(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(methodFindOneOrder, err)
	}
	return &order, nil
}

// ChangeOrderStatus меняет статус заказа.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, req *orders.ChangeStatusRequest) (*domain.Order, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	order, err := s.orders.ChangeStatus(ctx, *req)
	if err != nil {
		return nil, s.toStatus(methodChangeOrderStatus, err)
	}
	return &order, nil
}

// toStatus переводит доменную ошибку в gRPC-код. Детали ошибок хранилища не отдаются клиенту.
func (s *OrderService) toStatus(method string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case domain.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.KindUpstream:
		return status.Error(codes.Unavailable, err.Error())
	}
	s.logger.WithError(err).WithFields(log.Fields{"method": method, "kind": kind}).Error("request failed")
	return status.Error(codes.Internal, "internal error")
}

// RegisterOrderServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterOrderServiceServer(registrar grpc.ServiceRegistrar, srv OrderServiceServer) {
	registrar.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceDesc описывает orders.v1.OrderService для grpc.Server.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: createOrderHandler},
		{MethodName: "FindAllOrders", Handler: findAllOrdersHandler},
		{MethodName: "FindOneOrder", Handler: findOneOrderHandler},
		{MethodName: "ChangeOrderStatus", Handler: changeOrderStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orders/v1/orders.json",
}

func createOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(orders.CreateOrderRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCreateOrder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).CreateOrder(ctx, req.(*orders.CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func findAllOrdersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(orders.FindAllRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).FindAllOrders(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodFindAllOrders}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).FindAllOrders(ctx, req.(*orders.FindAllRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func findOneOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(orders.FindOneRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).FindOneOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodFindOneOrder}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).FindOneOrder(ctx, req.(*orders.FindOneRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func changeOrderStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(orders.ChangeStatusRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).ChangeOrderStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodChangeOrderStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServiceServer).ChangeOrderStatus(ctx, req.(*orders.ChangeStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}
