package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	orderColumns = `id, total_amount, total_items, status, paid, paid_at, stripe_charge_id, created_at, updated_at`
)

type orderRow struct {
	ID             string          `db:"id"`
	TotalAmount    decimal.Decimal `db:"total_amount"`
	TotalItems     int             `db:"total_items"`
	Status         string          `db:"status"`
	Paid           bool            `db:"paid"`
	PaidAt         sql.NullTime    `db:"paid_at"`
	StripeChargeID sql.NullString  `db:"stripe_charge_id"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r orderRow) toDomain() domain.Order {
	order := domain.Order{
		ID:          r.ID,
		TotalAmount: r.TotalAmount,
		TotalItems:  r.TotalItems,
		Status:      domain.OrderStatus(r.Status),
		Paid:        r.Paid,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.PaidAt.Valid {
		paidAt := r.PaidAt.Time.UTC()
		order.PaidAt = &paidAt
	}
	if r.StripeChargeID.Valid {
		chargeID := r.StripeChargeID.String
		order.StripeChargeID = &chargeID
	}
	return order
}

type itemRow struct {
	ID        string          `db:"id"`
	ProductID string          `db:"product_id"`
	Quantity  int             `db:"quantity"`
	Price     decimal.Decimal `db:"price"`
	CreatedAt time.Time       `db:"created_at"`
}

type receiptRow struct {
	ID         string    `db:"id"`
	ReceiptURL string    `db:"receipt_url"`
	CreatedAt  time.Time `db:"created_at"`
}

type orderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.X()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, total_amount, total_items, status, paid, paid_at, stripe_charge_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		order.ID, order.TotalAmount, order.TotalItems, string(order.Status), order.Paid,
		order.PaidAt, order.StripeChargeID, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return persistenceError("insert order", err)
	}

	// position хранит порядок позиций из запроса: created_at у них общий
	for position, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, quantity, price, created_at, position
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, order.ID, item.ProductID, item.Quantity, item.Price, item.CreatedAt, position,
		); err != nil {
			return persistenceError("insert order item", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return persistenceError("commit create order", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.getWith(ctx, r.db, id)
}

func (r *orderRepository) Count(ctx context.Context, filter domain.OrderFilter) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int
	var err error
	if filter.Status != nil {
		err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders WHERE status = $1`, string(*filter.Status))
	} else {
		err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orders`)
	}
	if err != nil {
		return 0, persistenceError("count orders", err)
	}
	return total, nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders`
	args := make([]any, 0, 3)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY seq ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, persistenceError("list orders", err)
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toDomain())
	}
	return orders, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, updatedAt time.Time) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    updated_at = $2
		WHERE id = $3
	`, string(status), updatedAt, id)
	if err != nil {
		return domain.Order{}, persistenceError("update order status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, persistenceError("rows affected", err)
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return r.getWith(ctx, r.db, id)
}

func (r *orderRepository) MarkPaid(ctx context.Context, id string, update domain.PaidUpdate) (_ domain.Order, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Order{}, persistenceError("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET paid = TRUE,
		    status = $1,
		    paid_at = $2,
		    stripe_charge_id = $3,
		    updated_at = $2
		WHERE id = $4
	`, string(domain.OrderStatusPaid), update.PaidAt, update.ChargeID, id)
	if err != nil {
		return domain.Order{}, persistenceError("mark order paid", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, persistenceError("rows affected", err)
	}
	if affected == 0 {
		err = domain.ErrOrderNotFound
		return domain.Order{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO order_receipts (id, order_id, receipt_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
	`, update.ReceiptID, id, update.ReceiptURL, update.PaidAt); err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrReceiptAlreadyExists
			return domain.Order{}, err
		}
		return domain.Order{}, persistenceError("insert order receipt", err)
	}

	order, err := r.getWith(ctx, tx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, persistenceError("commit mark paid", err)
	}
	return order, nil
}

// getWith читает заказ с позициями и чеком через пул или внутри транзакции.
func (r *orderRepository) getWith(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Order, error) {
	var row orderRow
	if err := sqlx.GetContext(ctx, q, &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, persistenceError("select order", err)
	}
	order := row.toDomain()

	var items []itemRow
	if err := sqlx.SelectContext(ctx, q, &items, `
		SELECT id, product_id, quantity, price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC, created_at ASC, id ASC
	`, id); err != nil {
		return domain.Order{}, persistenceError("load order items", err)
	}
	order.Items = make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			CreatedAt: item.CreatedAt.UTC(),
		})
	}

	var receipt receiptRow
	err := sqlx.GetContext(ctx, q, &receipt, `
		SELECT id, receipt_url, created_at
		FROM order_receipts
		WHERE order_id = $1
	`, id)
	switch {
	case err == nil:
		order.Receipt = &domain.OrderReceipt{
			ID:         receipt.ID,
			ReceiptURL: receipt.ReceiptURL,
			CreatedAt:  receipt.CreatedAt.UTC(),
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return domain.Order{}, persistenceError("load order receipt", err)
	}

	return order, nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
