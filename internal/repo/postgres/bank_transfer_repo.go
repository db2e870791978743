package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrBankTransferNotFound       = errors.New("bank transfer request not found")
	ErrBankTransferAlreadyDecided = errors.New("bank transfer request already decided")
)

// BankTransferRepo owns the human-review rows for manual deposits. A row
// can be decided exactly once; the status guard in the decide statements
// is what stops two admin tabs from both succeeding.
type BankTransferRepo struct {
	pool *pgxpool.Pool
}

type BankTransferRecord struct {
	ID                  int64
	PaymentID           int64
	DepositorName       string
	ExpectedDepositDate time.Time
	Status              string
	RejectionReason     *string
	DecidedBy           *int64
	DecidedAt           *time.Time
	CreatedAt           time.Time

	// Joined order context, populated by the Find/List queries. The
	// approve path needs it to complete the payment and grant access
	// without extra round trips.
	OrderID  int64
	BuyerID  int64
	CourseID int64
	Amount   int64
}

func NewBankTransferRepo(pool *pgxpool.Pool) *BankTransferRepo {
	return &BankTransferRepo{pool: pool}
}

func (r *BankTransferRepo) CreateTx(ctx context.Context, tx pgx.Tx, paymentID int64, depositorName string, expectedDepositDate time.Time) (BankTransferRecord, error) {
	if tx == nil {
		return BankTransferRecord{}, fmt.Errorf("transaction is required")
	}
	depositorName = strings.TrimSpace(depositorName)
	if paymentID <= 0 || depositorName == "" || expectedDepositDate.IsZero() {
		return BankTransferRecord{}, fmt.Errorf("invalid bank transfer create payload")
	}

	record, err := scanBankTransfer(tx.QueryRow(ctx, `
INSERT INTO bank_transfer_requests (
	payment_id,
	depositor_name,
	expected_deposit_date,
	status,
	created_at
) VALUES ($1, $2, $3, 'pending', NOW())
RETURNING id, payment_id, depositor_name, expected_deposit_date, status,
	rejection_reason, decided_by, decided_at, created_at
`, paymentID, depositorName, expectedDepositDate))
	if err != nil {
		return BankTransferRecord{}, fmt.Errorf("insert bank transfer request: %w", err)
	}

	return record, nil
}

func (r *BankTransferRepo) FindByID(ctx context.Context, requestID int64) (BankTransferRecord, error) {
	if r.pool == nil {
		return BankTransferRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if requestID <= 0 {
		return BankTransferRecord{}, fmt.Errorf("invalid bank transfer request id")
	}

	record, err := scanBankTransferDetail(r.pool.QueryRow(ctx, `
SELECT r.id, r.payment_id, r.depositor_name, r.expected_deposit_date, r.status,
	r.rejection_reason, r.decided_by, r.decided_at, r.created_at,
	o.id, o.buyer_id, o.course_id, o.amount
FROM bank_transfer_requests r
JOIN payments p ON p.id = r.payment_id
JOIN orders o ON o.id = p.order_id
WHERE r.id = $1
LIMIT 1
`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BankTransferRecord{}, ErrBankTransferNotFound
		}
		return BankTransferRecord{}, fmt.Errorf("find bank transfer request: %w", err)
	}

	return record, nil
}

// FindByIDTx loads the request with its order context and locks the
// request row for the scope of the decision transaction.
func (r *BankTransferRepo) FindByIDTx(ctx context.Context, tx pgx.Tx, requestID int64) (BankTransferRecord, error) {
	if tx == nil {
		return BankTransferRecord{}, fmt.Errorf("transaction is required")
	}
	if requestID <= 0 {
		return BankTransferRecord{}, fmt.Errorf("invalid bank transfer request id")
	}

	record, err := scanBankTransferDetail(tx.QueryRow(ctx, `
SELECT r.id, r.payment_id, r.depositor_name, r.expected_deposit_date, r.status,
	r.rejection_reason, r.decided_by, r.decided_at, r.created_at,
	o.id, o.buyer_id, o.course_id, o.amount
FROM bank_transfer_requests r
JOIN payments p ON p.id = r.payment_id
JOIN orders o ON o.id = p.order_id
WHERE r.id = $1
FOR UPDATE OF r
`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BankTransferRecord{}, ErrBankTransferNotFound
		}
		return BankTransferRecord{}, fmt.Errorf("find bank transfer request for update: %w", err)
	}

	return record, nil
}

func (r *BankTransferRepo) ApproveTx(ctx context.Context, tx pgx.Tx, requestID, adminID int64, decidedAt time.Time) (BankTransferRecord, error) {
	if tx == nil {
		return BankTransferRecord{}, fmt.Errorf("transaction is required")
	}
	if requestID <= 0 || adminID <= 0 {
		return BankTransferRecord{}, fmt.Errorf("invalid bank transfer approve payload")
	}

	record, err := scanBankTransfer(tx.QueryRow(ctx, `
UPDATE bank_transfer_requests
SET
	status = 'approved',
	decided_by = $2,
	decided_at = $3
WHERE id = $1
  AND status = 'pending'
RETURNING id, payment_id, depositor_name, expected_deposit_date, status,
	rejection_reason, decided_by, decided_at, created_at
`, requestID, adminID, decidedAt.UTC()))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return BankTransferRecord{}, fmt.Errorf("approve bank transfer request: %w", err)
	}

	return BankTransferRecord{}, r.decideMissReason(ctx, tx, requestID)
}

func (r *BankTransferRepo) RejectTx(ctx context.Context, tx pgx.Tx, requestID, adminID int64, reason string, decidedAt time.Time) (BankTransferRecord, error) {
	if tx == nil {
		return BankTransferRecord{}, fmt.Errorf("transaction is required")
	}
	reason = strings.TrimSpace(reason)
	if requestID <= 0 || adminID <= 0 || reason == "" {
		return BankTransferRecord{}, fmt.Errorf("invalid bank transfer reject payload")
	}

	record, err := scanBankTransfer(tx.QueryRow(ctx, `
UPDATE bank_transfer_requests
SET
	status = 'rejected',
	rejection_reason = $4,
	decided_by = $2,
	decided_at = $3
WHERE id = $1
  AND status = 'pending'
RETURNING id, payment_id, depositor_name, expected_deposit_date, status,
	rejection_reason, decided_by, decided_at, created_at
`, requestID, adminID, decidedAt.UTC(), reason))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return BankTransferRecord{}, fmt.Errorf("reject bank transfer request: %w", err)
	}

	return BankTransferRecord{}, r.decideMissReason(ctx, tx, requestID)
}

// decideMissReason distinguishes "row missing" from "row already
// decided" after a guarded update matched nothing.
func (r *BankTransferRepo) decideMissReason(ctx context.Context, tx pgx.Tx, requestID int64) error {
	var status string
	err := tx.QueryRow(ctx, `
SELECT status
FROM bank_transfer_requests
WHERE id = $1
LIMIT 1
`, requestID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBankTransferNotFound
		}
		return fmt.Errorf("reload bank transfer request: %w", err)
	}

	return ErrBankTransferAlreadyDecided
}

func (r *BankTransferRepo) ListPending(ctx context.Context, limit int) ([]BankTransferRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
SELECT r.id, r.payment_id, r.depositor_name, r.expected_deposit_date, r.status,
	r.rejection_reason, r.decided_by, r.decided_at, r.created_at,
	o.id, o.buyer_id, o.course_id, o.amount
FROM bank_transfer_requests r
JOIN payments p ON p.id = r.payment_id
JOIN orders o ON o.id = p.order_id
WHERE r.status = 'pending'
ORDER BY r.created_at
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending bank transfer requests: %w", err)
	}
	defer rows.Close()

	var records []BankTransferRecord
	for rows.Next() {
		record, err := scanBankTransferDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank transfer row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank transfer rows: %w", err)
	}

	return records, nil
}

func scanBankTransfer(row pgx.Row) (BankTransferRecord, error) {
	var record BankTransferRecord
	if err := row.Scan(
		&record.ID,
		&record.PaymentID,
		&record.DepositorName,
		&record.ExpectedDepositDate,
		&record.Status,
		&record.RejectionReason,
		&record.DecidedBy,
		&record.DecidedAt,
		&record.CreatedAt,
	); err != nil {
		return BankTransferRecord{}, err
	}
	return record, nil
}

func scanBankTransferDetail(row pgx.Row) (BankTransferRecord, error) {
	var record BankTransferRecord
	if err := row.Scan(
		&record.ID,
		&record.PaymentID,
		&record.DepositorName,
		&record.ExpectedDepositDate,
		&record.Status,
		&record.RejectionReason,
		&record.DecidedBy,
		&record.DecidedAt,
		&record.CreatedAt,
		&record.OrderID,
		&record.BuyerID,
		&record.CourseID,
		&record.Amount,
	); err != nil {
		return BankTransferRecord{}, err
	}
	return record, nil
}
