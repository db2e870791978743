package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/enums"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentTerminal is returned when a write targets a payment that
	// already reached failed or canceled. Completed rows are not an error
	// for Complete callers; they surface as changed=false instead.
	ErrPaymentTerminal = errors.New("payment already in terminal status")
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

type PaymentRecord struct {
	ID            int64
	OrderID       int64
	ExternalRef   *string
	Status        string
	FailureReason *string
	PaidAt        *time.Time
	UpdatedAt     time.Time
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func (r *PaymentRepo) FindByOrderID(ctx context.Context, orderID int64) (PaymentRecord, error) {
	if r.pool == nil {
		return PaymentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if orderID <= 0 {
		return PaymentRecord{}, fmt.Errorf("invalid order id")
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT id, order_id, external_ref, status, failure_reason, paid_at, updated_at
FROM payments
WHERE order_id = $1
LIMIT 1
`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRecord{}, ErrPaymentNotFound
		}
		return PaymentRecord{}, fmt.Errorf("find payment by order id: %w", err)
	}

	return record, nil
}

// CompleteTx moves a pending payment to completed inside the caller's
// transaction. The status guard makes the transition happen at most
// once: a second caller sees changed=false and the already-completed
// row. Re-completing a failed or canceled payment is refused.
func (r *PaymentRepo) CompleteTx(ctx context.Context, tx pgx.Tx, orderID int64, externalRef string, paidAt time.Time) (PaymentRecord, bool, error) {
	if tx == nil {
		return PaymentRecord{}, false, fmt.Errorf("transaction is required")
	}
	if orderID <= 0 {
		return PaymentRecord{}, false, fmt.Errorf("invalid order id")
	}
	externalRef = strings.TrimSpace(externalRef)

	record, err := scanPayment(tx.QueryRow(ctx, `
UPDATE payments
SET
	status = 'completed',
	external_ref = NULLIF($2, ''),
	paid_at = $3,
	updated_at = NOW()
WHERE order_id = $1
  AND status = 'pending'
RETURNING id, order_id, external_ref, status, failure_reason, paid_at, updated_at
`, orderID, externalRef, paidAt.UTC()))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PaymentRecord{}, false, fmt.Errorf("complete payment: %w", err)
	}

	existing, err := scanPayment(tx.QueryRow(ctx, `
SELECT id, order_id, external_ref, status, failure_reason, paid_at, updated_at
FROM payments
WHERE order_id = $1
LIMIT 1
`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRecord{}, false, ErrPaymentNotFound
		}
		return PaymentRecord{}, false, fmt.Errorf("reload payment: %w", err)
	}

	if enums.PaymentStatus(existing.Status) != enums.PaymentStatusCompleted {
		return PaymentRecord{}, false, ErrPaymentTerminal
	}

	return existing, false, nil
}

// FailTx moves a pending payment to failed. Same decide-once guard as
// CompleteTx; failing an already-terminal payment is a no-op that
// reports changed=false only when the row is already failed.
func (r *PaymentRepo) FailTx(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (PaymentRecord, bool, error) {
	return r.terminateTx(ctx, tx, orderID, enums.PaymentStatusFailed, reason)
}

// CancelTx moves a pending payment to canceled. Used by the reaper for
// captures that never confirmed.
func (r *PaymentRepo) CancelTx(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (PaymentRecord, bool, error) {
	return r.terminateTx(ctx, tx, orderID, enums.PaymentStatusCanceled, reason)
}

func (r *PaymentRepo) terminateTx(ctx context.Context, tx pgx.Tx, orderID int64, status enums.PaymentStatus, reason string) (PaymentRecord, bool, error) {
	if !enums.PaymentStatusPending.CanTransitionTo(status) {
		return PaymentRecord{}, false, fmt.Errorf("invalid payment transition to %q", status)
	}
	if tx == nil {
		return PaymentRecord{}, false, fmt.Errorf("transaction is required")
	}
	if orderID <= 0 {
		return PaymentRecord{}, false, fmt.Errorf("invalid order id")
	}

	record, err := scanPayment(tx.QueryRow(ctx, `
UPDATE payments
SET
	status = $2,
	failure_reason = NULLIF($3, ''),
	updated_at = NOW()
WHERE order_id = $1
  AND status = 'pending'
RETURNING id, order_id, external_ref, status, failure_reason, paid_at, updated_at
`, orderID, string(status), strings.TrimSpace(reason)))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PaymentRecord{}, false, fmt.Errorf("terminate payment: %w", err)
	}

	existing, err := scanPayment(tx.QueryRow(ctx, `
SELECT id, order_id, external_ref, status, failure_reason, paid_at, updated_at
FROM payments
WHERE order_id = $1
LIMIT 1
`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRecord{}, false, ErrPaymentNotFound
		}
		return PaymentRecord{}, false, fmt.Errorf("reload payment: %w", err)
	}

	if enums.PaymentStatus(existing.Status) != status {
		return PaymentRecord{}, false, ErrPaymentTerminal
	}

	return existing, false, nil
}

// ListStaleCardPending returns order ids of card payments sitting in
// pending since before the cutoff. Bank-transfer payments wait for a
// human decision and are never reaped.
func (r *PaymentRepo) ListStaleCardPending(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT o.id
FROM payments p
JOIN orders o ON o.id = p.order_id
WHERE p.status = 'pending'
  AND o.method = 'card'
  AND o.created_at < $1
ORDER BY o.created_at
LIMIT $2
`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	var orderIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale payment row: %w", err)
		}
		orderIDs = append(orderIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale payment rows: %w", err)
	}

	return orderIDs, nil
}

func scanPayment(row pgx.Row) (PaymentRecord, error) {
	var record PaymentRecord
	if err := row.Scan(
		&record.ID,
		&record.OrderID,
		&record.ExternalRef,
		&record.Status,
		&record.FailureReason,
		&record.PaidAt,
		&record.UpdatedAt,
	); err != nil {
		return PaymentRecord{}, err
	}
	return record, nil
}
