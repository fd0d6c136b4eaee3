package order

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderRows(id uuid.UUID, status OrderStatus, chargeID *string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "status", "total_amount", "total_items", "paid",
		"paid_at", "external_charge_id", "created_at", "updated_at",
	})
	if status == StatusPaid {
		now := time.Now()
		charge := ""
		if chargeID != nil {
			charge = *chargeID
		}
		return rows.AddRow(id.String(), status, 25.0, 3, true, now, charge, now, now)
	}
	return rows.AddRow(id.String(), status, 25.0, 3, false, nil, nil, time.Now(), time.Now())
}

func TestRepository_CreateOrder(t *testing.T) {
	ctx := context.Background()

	newOrder := func() *Order {
		now := time.Now()
		return &Order{
			ID:          uuid.New(),
			Status:      StatusPending,
			TotalAmount: 25,
			TotalItems:  3,
			CreatedAt:   now,
			UpdatedAt:   now,
			Items: []OrderItem{
				{ProductID: 1, Quantity: 2, Price: 10},
				{ProductID: 2, Quantity: 1, Price: 5},
			},
		}
	}

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		o := newOrder()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO orders`).
			WithArgs(o.ID, o.Status, o.TotalAmount, o.TotalItems, false, o.CreatedAt, o.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_items`).
			WithArgs(o.ID, int64(1), 2, 10.0).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`INSERT INTO order_items`).
			WithArgs(o.ID, int64(2), 1, 5.0).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		err = repo.CreateOrder(ctx, o)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ItemInsertFailsRollsBack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		o := newOrder()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO orders`).
			WithArgs(o.ID, o.Status, o.TotalAmount, o.TotalItems, false, o.CreatedAt, o.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_items`).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = repo.CreateOrder(ctx, o)
		assert.Error(t, err)
		// No partial order survives a mid-creation fault.
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BeginFails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		mock.ExpectBegin().WillReturnError(errors.New("no connection"))

		err = repo.CreateOrder(ctx, newOrder())
		assert.Error(t, err)
	})
}

func TestRepository_FetchOrders(t *testing.T) {
	ctx := context.Background()

	t.Run("NoFilter", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		mock.ExpectQuery(`SELECT .* FROM orders WHERE 1=1 ORDER BY created_at DESC LIMIT \$1 OFFSET \$2`).
			WithArgs(10, 0).
			WillReturnRows(newOrderRows(id, StatusPending, nil))

		orders, err := repo.FetchOrders(ctx, nil, 10, 0)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, id, orders[0].ID)
		assert.Equal(t, StatusPending, orders[0].Status)
	})

	t.Run("StatusFilter", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		status := StatusPaid
		charge := "ch_1"

		mock.ExpectQuery(`SELECT .* FROM orders WHERE 1=1 AND status = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
			WithArgs(status, 5, 10).
			WillReturnRows(newOrderRows(uuid.New(), StatusPaid, &charge))

		orders, err := repo.FetchOrders(ctx, &status, 5, 10)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.True(t, orders[0].Paid)
	})

	t.Run("DBError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		mock.ExpectQuery(`SELECT .* FROM orders`).WillReturnError(errors.New("db error"))

		_, err = repo.FetchOrders(ctx, nil, 10, 0)
		assert.Error(t, err)
	})
}

func TestRepository_CountOrders(t *testing.T) {
	ctx := context.Background()

	t.Run("NoFilter", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders WHERE 1=1`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

		total, err := repo.CountOrders(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(7), total)
	})

	t.Run("StatusFilter", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		status := StatusCancelled
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM orders WHERE 1=1 AND status = \$1`).
			WithArgs(status).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		total, err := repo.CountOrders(ctx, &status)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})
}

func TestRepository_GetOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessWithItemsAndReceipt", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()
		charge := "ch_1"

		mock.ExpectQuery(`FROM orders WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(newOrderRows(id, StatusPaid, &charge))

		mock.ExpectQuery(`FROM order_items`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "price"}).
				AddRow(1, id.String(), 1, 2, 10.0).
				AddRow(2, id.String(), 2, 1, 5.0))

		mock.ExpectQuery(`FROM order_receipts`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "receipt_url", "created_at"}).
				AddRow(1, id.String(), "https://r/1", time.Now()))

		o, err := repo.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Len(t, o.Items, 2)
		require.NotNil(t, o.Receipt)
		assert.Equal(t, "https://r/1", o.Receipt.ReceiptURL)
	})

	t.Run("NoReceipt", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		mock.ExpectQuery(`FROM orders WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(newOrderRows(id, StatusPending, nil))

		mock.ExpectQuery(`FROM order_items`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "price"}))

		mock.ExpectQuery(`FROM order_receipts`).
			WithArgs(id).
			WillReturnError(sql.ErrNoRows)

		o, err := repo.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, o.Receipt)
	})

	t.Run("NotFound", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		mock.ExpectQuery(`FROM orders WHERE id = \$1`).
			WithArgs(id).
			WillReturnError(sql.ErrNoRows)

		_, err = repo.GetOrder(ctx, id)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestRepository_UpdateOrderStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		mock.ExpectExec(`UPDATE orders SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
			WithArgs(StatusCancelled, now, id, StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err = repo.UpdateOrderStatus(ctx, id, StatusPending, StatusCancelled, now)
		assert.NoError(t, err)
	})

	t.Run("StatusMovedConcurrently", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		// The row no longer matches the snapshot the transition was
		// validated against: the write must not land.
		mock.ExpectExec(`UPDATE orders SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
			WithArgs(StatusCancelled, now, id, StatusPending).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err = repo.UpdateOrderStatus(ctx, id, StatusPending, StatusCancelled, now)
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})
}

func TestRepository_ConfirmPayment(t *testing.T) {
	ctx := context.Background()
	paidAt := time.Now()

	t.Run("FreshConfirmation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM orders WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(newOrderRows(id, StatusPending, nil))
		mock.ExpectExec(`UPDATE orders`).
			WithArgs(StatusPaid, paidAt, "ch_1", id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_receipts`).
			WithArgs(id, "https://r/1", paidAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		o, err := repo.ConfirmPayment(ctx, id, "ch_1", "https://r/1", paidAt)
		require.NoError(t, err)

		assert.Equal(t, StatusPaid, o.Status)
		assert.True(t, o.Paid)
		assert.Equal(t, paidAt, o.UpdatedAt)
		require.NotNil(t, o.ExternalChargeID)
		assert.Equal(t, "ch_1", *o.ExternalChargeID)
		require.NotNil(t, o.Receipt)
		assert.Equal(t, "https://r/1", o.Receipt.ReceiptURL)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RedeliveryIsNoOp", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()
		charge := "ch_1"

		// Already PAID with the same charge id: no update, no second
		// receipt, just a commit releasing the lock.
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM orders WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(newOrderRows(id, StatusPaid, &charge))
		mock.ExpectCommit()

		o, err := repo.ConfirmPayment(ctx, id, "ch_1", "https://r/1", paidAt)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, o.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DifferentChargeReapplies", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()
		charge := "ch_old"

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM orders WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(newOrderRows(id, StatusPaid, &charge))
		mock.ExpectExec(`UPDATE orders`).
			WithArgs(StatusPaid, paidAt, "ch_new", id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_receipts`).
			WithArgs(id, "https://r/2", paidAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err = repo.ConfirmPayment(ctx, id, "ch_new", "https://r/2", paidAt)
		assert.NoError(t, err)
	})

	t.Run("NotFound", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM orders WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(id).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err = repo.ConfirmPayment(ctx, id, "ch_1", "https://r/1", paidAt)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("ReceiptInsertFailsRollsBack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		id := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM orders WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(newOrderRows(id, StatusPending, nil))
		mock.ExpectExec(`UPDATE orders`).
			WithArgs(StatusPaid, paidAt, "ch_1", id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_receipts`).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err = repo.ConfirmPayment(ctx, id, "ch_1", "https://r/1", paidAt)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
