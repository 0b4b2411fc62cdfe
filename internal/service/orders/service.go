package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

const defaultCurrency = "usd"

// Названия операций для метрик и логов.
const (
	opCreate         = "create"
	opPaymentSession = "payment_session"
	opFindAll        = "find_all"
	opFindOne        = "find_one"
	opChangeStatus   = "change_status"
	opMarkPaid       = "mark_paid"
)

// Dependencies собирает зависимости сервиса заказов.
type Dependencies struct {
	Orders   domain.OrderRepository
	Storage  domain.Storage
	Catalog  domain.ProductCatalog
	Payments domain.PaymentGateway
	Metrics  *metrics.OrderMetrics
	Logger   *log.Entry
	Currency string
	Now      func() time.Time
}

// Service реализует операции над заказами поверх репозитория и внешних сервисов.
type Service struct {
	orders   domain.OrderRepository
	storage  domain.Storage
	catalog  domain.ProductCatalog
	payments domain.PaymentGateway
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
	currency string
	now      func() time.Time
}

// NewService создаёт сервис. Metrics может быть nil.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "orders-service")
	}
	currency := strings.TrimSpace(deps.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:   deps.Orders,
		storage:  deps.Storage,
		catalog:  deps.Catalog,
		payments: deps.Payments,
		metrics:  deps.Metrics,
		logger:   logger,
		currency: currency,
		now:      now,
	}
}

// Connect проверяет подключение к хранилищу.
func (s *Service) Connect(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Ping(ctx); err != nil {
		return fmt.Errorf("%w: connect storage: %w", domain.ErrPersistence, err)
	}
	s.logger.Info("database connected")
	return nil
}

// Disconnect закрывает подключение к хранилищу.
func (s *Service) Disconnect() error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Close(); err != nil {
		return fmt.Errorf("disconnect storage: %w", err)
	}
	s.logger.Info("database disconnected")
	return nil
}

// Create создаёт заказ и платёжную сессию для него.
// Если сессию создать не удалось, заказ остаётся сохранённым, а ошибка возвращается вместе с ним.
func (s *Service) Create(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	order, err := s.CreateOrder(ctx, req)
	if err != nil {
		return CreateOrderResult{}, err
	}

	session, err := s.CreatePaymentSession(ctx, order)
	if err != nil {
		return CreateOrderResult{Order: order}, err
	}
	return CreateOrderResult{Order: order, PaymentSession: session}, nil
}

// CreateOrder проверяет товары в каталоге, считает итоги и атомарно сохраняет заказ с позициями.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	order, err := s.createOrder(ctx, req)
	if err != nil {
		s.fail(opCreate, err, log.Fields{"items": len(req.Items)})
		return domain.Order{}, err
	}
	s.metrics.RecordOrderCreated()
	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"total_amount": order.TotalAmount.String(),
		"total_items":  order.TotalItems,
	}).Info("order created")
	return order, nil
}

func (s *Service) createOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if err := validateCreate(req); err != nil {
		return domain.Order{}, err
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, string(item.ProductID))
	}
	products, err := s.lookupProducts(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, reqItem := range req.Items {
		product := products[string(reqItem.ProductID)]
		items = append(items, domain.OrderItem{
			ID:        uuid.NewString(),
			ProductID: string(reqItem.ProductID),
			Quantity:  reqItem.Quantity,
			Price:     product.Price.Round(2),
			Name:      product.Name,
			CreatedAt: now,
		})
	}
	if err := validatePrices(items); err != nil {
		return domain.Order{}, err
	}

	totalAmount, totalItems := domain.Totals(items)
	if totalAmount.GreaterThan(domain.MaxTotalAmount) {
		return domain.Order{}, fmt.Errorf("%w: total amount %s", domain.ErrOrderTooLarge, totalAmount)
	}
	order := domain.Order{
		ID:          uuid.NewString(),
		TotalAmount: totalAmount,
		TotalItems:  totalItems,
		Status:      domain.OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       items,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CreatePaymentSession запрашивает у платёжного сервиса сессию для заказа.
// Позиции должны быть обогащены именами товаров.
func (s *Service) CreatePaymentSession(ctx context.Context, order domain.Order) (json.RawMessage, error) {
	req := domain.PaymentSessionRequest{
		OrderID:  order.ID,
		Currency: s.currency,
		Items:    make([]domain.PaymentSessionItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, domain.PaymentSessionItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		})
	}

	session, err := s.payments.CreatePaymentSession(ctx, req)
	if err != nil {
		if !domain.IsUpstream(err) {
			err = fmt.Errorf("%w: create payment session: %w", domain.ErrUpstream, err)
		}
		// заказ уже зафиксирован, сверка без сессии вне этого сервиса
		s.fail(opPaymentSession, err, log.Fields{"order_id": order.ID})
		return nil, err
	}
	return session, nil
}

// FindAll возвращает страницу заказов без позиций.
func (s *Service) FindAll(ctx context.Context, req FindAllRequest) (OrderPage, error) {
	page, err := s.findAll(ctx, req)
	if err != nil {
		s.fail(opFindAll, err, nil)
		return OrderPage{}, err
	}
	return page, nil
}

func (s *Service) findAll(ctx context.Context, req FindAllRequest) (OrderPage, error) {
	page, limit := defaultPage, defaultLimit
	if req.Page != nil {
		page = *req.Page
	}
	if req.Limit != nil {
		limit = *req.Limit
	}
	if page < 1 || limit < 1 {
		return OrderPage{}, domain.ErrInvalidPagination
	}

	filter := domain.OrderFilter{Limit: limit}
	if req.Status != nil && *req.Status != "" {
		if !req.Status.Valid() {
			return OrderPage{}, domain.ErrInvalidStatus
		}
		status := *req.Status
		filter.Status = &status
	}

	total, err := s.orders.Count(ctx, filter)
	if err != nil {
		return OrderPage{}, err
	}
	meta := PageMeta{Total: total, Page: page, LastPage: lastPage(total, limit)}
	// страница за пределами выборки: (page-1)*limit >= total, смещение не считаем, чтобы не переполнить int
	if page > meta.LastPage {
		return OrderPage{Data: []domain.Order{}, Meta: meta}, nil
	}
	filter.Offset = (page - 1) * limit

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return OrderPage{}, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	return OrderPage{Data: orders, Meta: meta}, nil
}

// FindOne возвращает заказ с позициями, обогащёнными именами товаров.
func (s *Service) FindOne(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.findOne(ctx, id)
	if err != nil {
		s.fail(opFindOne, err, log.Fields{"order_id": id})
		return domain.Order{}, err
	}
	return order, nil
}

func (s *Service) findOne(ctx context.Context, id string) (domain.Order, error) {
	if err := validateOrderID(id); err != nil {
		return domain.Order{}, err
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, notFoundMessage(err, id)
	}
	if len(order.Items) == 0 {
		return order, nil
	}

	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.lookupProducts(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}
	for i := range order.Items {
		order.Items[i].Name = products[order.Items[i].ProductID].Name
	}
	return order, nil
}

// ChangeStatus меняет статус заказа. Совпадающий статус возвращает заказ без записи.
// Переходы между статусами не ограничиваются.
func (s *Service) ChangeStatus(ctx context.Context, req ChangeStatusRequest) (domain.Order, error) {
	order, changed, err := s.changeStatus(ctx, req)
	if err != nil {
		s.fail(opChangeStatus, err, log.Fields{"order_id": req.ID, "status": req.Status})
		return domain.Order{}, err
	}
	if changed {
		s.metrics.RecordStatusChange(order.Status)
		s.logger.WithFields(log.Fields{"order_id": order.ID, "status": order.Status}).Info("order status changed")
	}
	return order, nil
}

func (s *Service) changeStatus(ctx context.Context, req ChangeStatusRequest) (domain.Order, bool, error) {
	if err := validateOrderID(req.ID); err != nil {
		return domain.Order{}, false, err
	}
	if !req.Status.Valid() {
		return domain.Order{}, false, domain.ErrInvalidStatus
	}

	order, err := s.orders.Get(ctx, req.ID)
	if err != nil {
		return domain.Order{}, false, notFoundMessage(err, req.ID)
	}
	if order.Status == req.Status {
		return order, false, nil
	}

	updated, err := s.orders.UpdateStatus(ctx, req.ID, req.Status, s.now())
	if err != nil {
		return domain.Order{}, false, notFoundMessage(err, req.ID)
	}
	return updated, true, nil
}

// MarkPaid применяет событие payment.succeeded. Повторная доставка для уже оплаченного заказа
// ничего не меняет и возвращает сохранённый заказ.
func (s *Service) MarkPaid(ctx context.Context, req PaidOrderRequest) (domain.Order, error) {
	order, applied, err := s.markPaid(ctx, req)
	if err != nil {
		s.fail(opMarkPaid, err, log.Fields{"order_id": req.OrderID})
		return domain.Order{}, err
	}

	entry := s.logger.WithFields(log.Fields{"order_id": order.ID, "stripe_payment_id": req.StripePaymentID})
	if applied {
		s.metrics.RecordPayment(metrics.PaymentResultApplied)
		entry.Info("order paid")
	} else {
		s.metrics.RecordPayment(metrics.PaymentResultDuplicate)
		entry.Warn("order already paid, duplicate payment event ignored")
	}
	return order, nil
}

func (s *Service) markPaid(ctx context.Context, req PaidOrderRequest) (domain.Order, bool, error) {
	if err := validateOrderID(req.OrderID); err != nil {
		return domain.Order{}, false, err
	}
	if strings.TrimSpace(req.StripePaymentID) == "" {
		return domain.Order{}, false, domain.ErrChargeIDRequired
	}
	if strings.TrimSpace(req.ReceiptURL) == "" {
		return domain.Order{}, false, domain.ErrReceiptURLRequired
	}

	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return domain.Order{}, false, notFoundMessage(err, req.OrderID)
	}
	if order.Paid {
		return order, false, nil
	}

	paid, err := s.orders.MarkPaid(ctx, req.OrderID, domain.PaidUpdate{
		ChargeID:   req.StripePaymentID,
		ReceiptID:  uuid.NewString(),
		ReceiptURL: req.ReceiptURL,
		PaidAt:     s.now(),
	})
	if errors.Is(err, domain.ErrReceiptAlreadyExists) {
		// параллельная доставка того же события успела записать чек первой
		current, getErr := s.orders.Get(ctx, req.OrderID)
		if getErr != nil {
			return domain.Order{}, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return domain.Order{}, false, notFoundMessage(err, req.OrderID)
	}
	return paid, true, nil
}

// lookupProducts запрашивает каталог по уникальным id и проверяет, что ответ содержит каждый из них.
func (s *Service) lookupProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	distinct := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	products, err := s.catalog.ValidateProducts(ctx, distinct)
	if err != nil {
		if !domain.IsUpstream(err) {
			err = fmt.Errorf("%w: validate products: %w", domain.ErrUpstream, err)
		}
		return nil, err
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[string(p.ID)] = p
	}
	for _, id := range distinct {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrProductNotFound, id)
		}
	}
	return byID, nil
}

// fail пишет в лог и метрики ошибку операции. Клиентские ошибки логируются как Warn.
func (s *Service) fail(operation string, err error, fields log.Fields) {
	s.metrics.RecordOperationError(operation, err)
	entry := s.logger.WithError(err).WithField("operation", operation)
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	if domain.IsValidation(err) || domain.IsNotFound(err) {
		entry.Warn("order operation rejected")
		return
	}
	entry.Error("order operation failed")
}

func validateCreate(req CreateOrderRequest) error {
	if len(req.Items) == 0 {
		return domain.ErrItemsRequired
	}
	var quantity int64
	for i, item := range req.Items {
		if strings.TrimSpace(string(item.ProductID)) == "" {
			return fmt.Errorf("%w: items[%d]", domain.ErrProductIDRequired, i)
		}
		if item.Quantity <= 0 || item.Quantity > domain.MaxItemQuantity {
			return fmt.Errorf("%w: items[%d]", domain.ErrItemQtyInvalid, i)
		}
		quantity += int64(item.Quantity)
	}
	if quantity > domain.MaxItemQuantity {
		return fmt.Errorf("%w: total quantity %d", domain.ErrOrderTooLarge, quantity)
	}
	return nil
}

func validatePrices(items []domain.OrderItem) error {
	for _, item := range items {
		if item.Price.LessThan(decimal.Zero) {
			return fmt.Errorf("%w: catalog returned negative price for product %s", domain.ErrUpstream, item.ProductID)
		}
	}
	return nil
}

func validateOrderID(id string) error {
	if len(id) != 36 {
		return domain.ErrInvalidOrderID
	}
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrInvalidOrderID
	}
	return nil
}

func notFoundMessage(err error, id string) error {
	if errors.Is(err, domain.ErrOrderNotFound) {
		return fmt.Errorf("%w: id %s", domain.ErrOrderNotFound, id)
	}
	return err
}

func lastPage(total, limit int) int {
	if total <= 0 {
		return 0
	}
	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return pages
}
