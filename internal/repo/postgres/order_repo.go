package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderRepo owns the orders table. An order row is written once at
// checkout and never updated; everything mutable lives on its payment.
type OrderRepo struct {
	pool *pgxpool.Pool
}

type OrderRecord struct {
	ID        int64
	BuyerID   int64
	CourseID  int64
	Amount    int64
	Method    string
	CreatedAt time.Time
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// CreateWithPaymentTx inserts the order and its pending payment inside
// the caller's transaction, alongside the bank-transfer review row when
// the method calls for one. Every checkout attempt is auditable even
// when the caller abandons the flow right after.
func (r *OrderRepo) CreateWithPaymentTx(ctx context.Context, tx pgx.Tx, buyerID, courseID, amount int64, method string) (OrderRecord, PaymentRecord, error) {
	if tx == nil {
		return OrderRecord{}, PaymentRecord{}, fmt.Errorf("transaction is required")
	}
	if buyerID <= 0 || courseID <= 0 || amount <= 0 || method == "" {
		return OrderRecord{}, PaymentRecord{}, fmt.Errorf("invalid order create payload")
	}

	var (
		order   OrderRecord
		payment PaymentRecord
	)
	if err := tx.QueryRow(ctx, `
INSERT INTO orders (
	buyer_id,
	course_id,
	amount,
	method,
	created_at
) VALUES ($1, $2, $3, $4, NOW())
RETURNING id, buyer_id, course_id, amount, method, created_at
`, buyerID, courseID, amount, method).Scan(
		&order.ID,
		&order.BuyerID,
		&order.CourseID,
		&order.Amount,
		&order.Method,
		&order.CreatedAt,
	); err != nil {
		return OrderRecord{}, PaymentRecord{}, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.QueryRow(ctx, `
INSERT INTO payments (
	order_id,
	status,
	updated_at
) VALUES ($1, 'pending', NOW())
RETURNING id, order_id, external_ref, status, failure_reason, paid_at, updated_at
`, order.ID).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.ExternalRef,
		&payment.Status,
		&payment.FailureReason,
		&payment.PaidAt,
		&payment.UpdatedAt,
	); err != nil {
		return OrderRecord{}, PaymentRecord{}, fmt.Errorf("insert pending payment: %w", err)
	}

	return order, payment, nil
}

func (r *OrderRepo) FindByID(ctx context.Context, orderID int64) (OrderRecord, error) {
	if r.pool == nil {
		return OrderRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if orderID <= 0 {
		return OrderRecord{}, fmt.Errorf("invalid order id")
	}

	var record OrderRecord
	err := r.pool.QueryRow(ctx, `
SELECT id, buyer_id, course_id, amount, method, created_at
FROM orders
WHERE id = $1
LIMIT 1
`, orderID).Scan(
		&record.ID,
		&record.BuyerID,
		&record.CourseID,
		&record.Amount,
		&record.Method,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrderRecord{}, ErrOrderNotFound
		}
		return OrderRecord{}, fmt.Errorf("find order by id: %w", err)
	}

	return record, nil
}

// ListByBuyer powers the buyer's order history page, newest first.
func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID int64, limit int) ([]OrderRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 {
		return nil, fmt.Errorf("invalid buyer id")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, buyer_id, course_id, amount, method, created_at
FROM orders
WHERE buyer_id = $1
ORDER BY created_at DESC
LIMIT $2
`, buyerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders by buyer: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var record OrderRecord
		if err := rows.Scan(
			&record.ID,
			&record.BuyerID,
			&record.CourseID,
			&record.Amount,
			&record.Method,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return records, nil
}
