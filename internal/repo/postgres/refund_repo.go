package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrRefundNotFound       = errors.New("refund request not found")
	ErrRefundAlreadyOpen    = errors.New("an open refund request already exists for this order")
	ErrRefundAlreadyDecided = errors.New("refund request already decided")
)

// RefundRepo owns refund requests. A partial unique index on order_id
// WHERE status IN ('pending','approved') enforces one open refund per
// purchase; Create surfaces its violation as ErrRefundAlreadyOpen.
type RefundRepo struct {
	pool *pgxpool.Pool
}

type RefundRecord struct {
	ID            int64
	OrderID       int64
	Reason        string
	RefundAmount  int64
	BankName      *string
	AccountHolder *string
	AccountNumber *string
	Status        string
	RequestedAt   time.Time
	ProcessedBy   *int64
	ProcessedAt   *time.Time
	RejectReason  *string

	// Joined order context, populated by the Find/List queries.
	BuyerID  int64
	CourseID int64
	Method   string
}

func NewRefundRepo(pool *pgxpool.Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

func (r *RefundRepo) Create(ctx context.Context, orderID int64, reason string, refundAmount int64, bankName, accountHolder, accountNumber string) (RefundRecord, error) {
	if r.pool == nil {
		return RefundRecord{}, fmt.Errorf("postgres pool is nil")
	}
	reason = strings.TrimSpace(reason)
	if orderID <= 0 || reason == "" || refundAmount <= 0 {
		return RefundRecord{}, fmt.Errorf("invalid refund create payload")
	}

	record, err := scanRefund(r.pool.QueryRow(ctx, `
INSERT INTO refund_requests (
	order_id,
	reason,
	refund_amount,
	bank_name,
	account_holder,
	account_number,
	status,
	requested_at
) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), 'pending', NOW())
RETURNING id, order_id, reason, refund_amount, bank_name, account_holder, account_number,
	status, requested_at, processed_by, processed_at, reject_reason
`, orderID, reason, refundAmount, strings.TrimSpace(bankName), strings.TrimSpace(accountHolder), strings.TrimSpace(accountNumber)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return RefundRecord{}, ErrRefundAlreadyOpen
		}
		return RefundRecord{}, fmt.Errorf("insert refund request: %w", err)
	}

	return record, nil
}

func (r *RefundRepo) FindByID(ctx context.Context, refundID int64) (RefundRecord, error) {
	if r.pool == nil {
		return RefundRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if refundID <= 0 {
		return RefundRecord{}, fmt.Errorf("invalid refund id")
	}

	record, err := scanRefundDetail(r.pool.QueryRow(ctx, `
SELECT f.id, f.order_id, f.reason, f.refund_amount, f.bank_name, f.account_holder, f.account_number,
	f.status, f.requested_at, f.processed_by, f.processed_at, f.reject_reason,
	o.buyer_id, o.course_id, o.method
FROM refund_requests f
JOIN orders o ON o.id = f.order_id
WHERE f.id = $1
LIMIT 1
`, refundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefundRecord{}, ErrRefundNotFound
		}
		return RefundRecord{}, fmt.Errorf("find refund request: %w", err)
	}

	return record, nil
}

// FindByIDTx locks the refund row for the scope of the decision
// transaction and carries the order context the decision needs.
func (r *RefundRepo) FindByIDTx(ctx context.Context, tx pgx.Tx, refundID int64) (RefundRecord, error) {
	if tx == nil {
		return RefundRecord{}, fmt.Errorf("transaction is required")
	}
	if refundID <= 0 {
		return RefundRecord{}, fmt.Errorf("invalid refund id")
	}

	record, err := scanRefundDetail(tx.QueryRow(ctx, `
SELECT f.id, f.order_id, f.reason, f.refund_amount, f.bank_name, f.account_holder, f.account_number,
	f.status, f.requested_at, f.processed_by, f.processed_at, f.reject_reason,
	o.buyer_id, o.course_id, o.method
FROM refund_requests f
JOIN orders o ON o.id = f.order_id
WHERE f.id = $1
FOR UPDATE OF f
`, refundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefundRecord{}, ErrRefundNotFound
		}
		return RefundRecord{}, fmt.Errorf("find refund request for update: %w", err)
	}

	return record, nil
}

// ApproveTx moves a pending refund straight to completed. The payout is
// confirmed by the same admin action in this system; the status guard
// keeps the decision single-shot.
func (r *RefundRepo) ApproveTx(ctx context.Context, tx pgx.Tx, refundID, adminID int64, processedAt time.Time) (RefundRecord, error) {
	if tx == nil {
		return RefundRecord{}, fmt.Errorf("transaction is required")
	}
	if refundID <= 0 || adminID <= 0 {
		return RefundRecord{}, fmt.Errorf("invalid refund approve payload")
	}

	record, err := scanRefund(tx.QueryRow(ctx, `
UPDATE refund_requests
SET
	status = 'completed',
	processed_by = $2,
	processed_at = $3
WHERE id = $1
  AND status = 'pending'
RETURNING id, order_id, reason, refund_amount, bank_name, account_holder, account_number,
	status, requested_at, processed_by, processed_at, reject_reason
`, refundID, adminID, processedAt.UTC()))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RefundRecord{}, fmt.Errorf("approve refund request: %w", err)
	}

	return RefundRecord{}, r.decideMissReason(ctx, tx, refundID)
}

func (r *RefundRepo) RejectTx(ctx context.Context, tx pgx.Tx, refundID, adminID int64, reason string, processedAt time.Time) (RefundRecord, error) {
	if tx == nil {
		return RefundRecord{}, fmt.Errorf("transaction is required")
	}
	reason = strings.TrimSpace(reason)
	if refundID <= 0 || adminID <= 0 || reason == "" {
		return RefundRecord{}, fmt.Errorf("invalid refund reject payload")
	}

	record, err := scanRefund(tx.QueryRow(ctx, `
UPDATE refund_requests
SET
	status = 'rejected',
	reject_reason = $4,
	processed_by = $2,
	processed_at = $3
WHERE id = $1
  AND status = 'pending'
RETURNING id, order_id, reason, refund_amount, bank_name, account_holder, account_number,
	status, requested_at, processed_by, processed_at, reject_reason
`, refundID, adminID, processedAt.UTC(), reason))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RefundRecord{}, fmt.Errorf("reject refund request: %w", err)
	}

	return RefundRecord{}, r.decideMissReason(ctx, tx, refundID)
}

func (r *RefundRepo) decideMissReason(ctx context.Context, tx pgx.Tx, refundID int64) error {
	var status string
	err := tx.QueryRow(ctx, `
SELECT status
FROM refund_requests
WHERE id = $1
LIMIT 1
`, refundID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRefundNotFound
		}
		return fmt.Errorf("reload refund request: %w", err)
	}

	return ErrRefundAlreadyDecided
}

func (r *RefundRepo) ListPending(ctx context.Context, limit int) ([]RefundRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT f.id, f.order_id, f.reason, f.refund_amount, f.bank_name, f.account_holder, f.account_number,
	f.status, f.requested_at, f.processed_by, f.processed_at, f.reject_reason,
	o.buyer_id, o.course_id, o.method
FROM refund_requests f
JOIN orders o ON o.id = f.order_id
WHERE f.status = 'pending'
ORDER BY f.requested_at
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending refund requests: %w", err)
	}
	defer rows.Close()

	var records []RefundRecord
	for rows.Next() {
		record, err := scanRefundDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}

	return records, nil
}

func (r *RefundRepo) ListByOrder(ctx context.Context, orderID int64) ([]RefundRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if orderID <= 0 {
		return nil, fmt.Errorf("invalid order id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT f.id, f.order_id, f.reason, f.refund_amount, f.bank_name, f.account_holder, f.account_number,
	f.status, f.requested_at, f.processed_by, f.processed_at, f.reject_reason,
	o.buyer_id, o.course_id, o.method
FROM refund_requests f
JOIN orders o ON o.id = f.order_id
WHERE f.order_id = $1
ORDER BY f.requested_at DESC
`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list refund requests by order: %w", err)
	}
	defer rows.Close()

	var records []RefundRecord
	for rows.Next() {
		record, err := scanRefundDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund rows: %w", err)
	}

	return records, nil
}

func scanRefund(row pgx.Row) (RefundRecord, error) {
	var record RefundRecord
	if err := row.Scan(
		&record.ID,
		&record.OrderID,
		&record.Reason,
		&record.RefundAmount,
		&record.BankName,
		&record.AccountHolder,
		&record.AccountNumber,
		&record.Status,
		&record.RequestedAt,
		&record.ProcessedBy,
		&record.ProcessedAt,
		&record.RejectReason,
	); err != nil {
		return RefundRecord{}, err
	}
	return record, nil
}

func scanRefundDetail(row pgx.Row) (RefundRecord, error) {
	var record RefundRecord
	if err := row.Scan(
		&record.ID,
		&record.OrderID,
		&record.Reason,
		&record.RefundAmount,
		&record.BankName,
		&record.AccountHolder,
		&record.AccountNumber,
		&record.Status,
		&record.RequestedAt,
		&record.ProcessedBy,
		&record.ProcessedAt,
		&record.RejectReason,
		&record.BuyerID,
		&record.CourseID,
		&record.Method,
	); err != nil {
		return RefundRecord{}, err
	}
	return record, nil
}
