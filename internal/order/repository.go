package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"orders-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is the transactional store for the order aggregate. The
// orchestrator depends on this interface only, so tests substitute a fake.
type Repository interface {
	CreateOrder(ctx context.Context, o *Order) error
	FetchOrders(ctx context.Context, status *OrderStatus, limit, offset int) ([]*Order, error)
	CountOrders(ctx context.Context, status *OrderStatus) (int64, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)

	// UpdateOrderStatus is a compare-and-set: the write only lands if the
	// status still equals `from`, the snapshot the caller validated the
	// transition against. Zero rows affected means a concurrent writer got
	// there first.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus, updatedAt time.Time) error

	// ConfirmPayment applies a payment confirmation under a single
	// transaction with the idempotency check inside it: if the order is
	// already PAID with the same charge id it returns the stored state
	// untouched. Redelivery of the same event can never double-apply.
	ConfirmPayment(ctx context.Context, id uuid.UUID, chargeID, receiptURL string, paidAt time.Time) (*Order, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const orderColumns = `id, status, total_amount, total_items, paid, paid_at, external_charge_id, created_at, updated_at`

func (r *repository) CreateOrder(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreateOrder"),
		zap.String("order_id", o.ID.String()),
		zap.Int("item_count", len(o.Items)),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, status, total_amount, total_items,
			paid, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		o.ID,
		o.Status,
		o.TotalAmount,
		o.TotalItems,
		o.Paid,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert order", zap.Error(err))
		return err
	}

	for i, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, price)
			VALUES ($1,$2,$3,$4)
		`,
			o.ID,
			item.ProductID,
			item.Quantity,
			item.Price,
		)
		if err != nil {
			log.Error("failed to insert order item",
				zap.Int("item_index", i),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit order transaction", zap.Error(err))
		return err
	}

	committed = true
	log.Info("order transaction committed")

	return nil
}

func (r *repository) FetchOrders(ctx context.Context, status *OrderStatus, limit, offset int) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}
	argIndex := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *status)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to query orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

func (r *repository) CountOrders(ctx context.Context, status *OrderStatus) (int64, error) {
	query := `SELECT COUNT(*) FROM orders WHERE 1=1`
	args := []any{}

	if status != nil {
		query += " AND status = $1"
		args = append(args, *status)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1
	`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var receipt Receipt
	err = r.db.QueryRowContext(ctx, `
		SELECT id, order_id, receipt_url, created_at
		FROM order_receipts
		WHERE order_id = $1
	`, id).Scan(&receipt.ID, &receipt.OrderID, &receipt.ReceiptURL, &receipt.CreatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		o.Receipt = &receipt
	}

	return o, nil
}

func (r *repository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4
	`, to, updatedAt, id, from)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		// The caller read the order moments ago, so a miss means its
		// status moved underneath us.
		return fmt.Errorf("%w: status is no longer %s", ErrInvalidStatusTransition, from)
	}
	return nil
}

func (r *repository) ConfirmPayment(ctx context.Context, id uuid.UUID, chargeID, receiptURL string, paidAt time.Time) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "ConfirmPayment"),
		zap.String("order_id", id.String()),
		zap.String("charge_id", chargeID),
	)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", zap.Error(err))
		return nil, err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	// Row lock serializes concurrent confirmations of the same order.
	row := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE id = $1
		FOR UPDATE
	`, id)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		log.Error("failed to lock order row", zap.Error(err))
		return nil, err
	}

	if o.Status == StatusPaid && o.ExternalChargeID != nil && *o.ExternalChargeID == chargeID {
		log.Info("payment already applied, skipping")
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		committed = true
		return o, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, paid = TRUE, paid_at = $2,
		    external_charge_id = $3, updated_at = $2
		WHERE id = $4
	`, StatusPaid, paidAt, chargeID, id)
	if err != nil {
		log.Error("failed to mark order paid", zap.Error(err))
		return nil, err
	}

	// One receipt per order; a confirmation with a new charge id replaces it.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_receipts (order_id, receipt_url, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (order_id) DO UPDATE
		SET receipt_url = EXCLUDED.receipt_url, created_at = EXCLUDED.created_at
	`, id, receiptURL, paidAt)
	if err != nil {
		log.Error("failed to insert receipt", zap.Error(err))
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit payment confirmation", zap.Error(err))
		return nil, err
	}
	committed = true

	o.Status = StatusPaid
	o.Paid = true
	o.PaidAt = &paidAt
	o.UpdatedAt = paidAt
	o.ExternalChargeID = &chargeID
	o.Receipt = &Receipt{OrderID: id, ReceiptURL: receiptURL, CreatedAt: paidAt}

	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.Status,
		&o.TotalAmount,
		&o.TotalItems,
		&o.Paid,
		&o.PaidAt,
		&o.ExternalChargeID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
