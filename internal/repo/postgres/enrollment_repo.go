package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/model"
)

var ErrEnrollmentNotFound = errors.New("enrollment not found")

// EnrollmentRepo owns course access grants. A partial unique index on
// (user_id, course_id) WHERE revoked_at IS NULL backs the
// one-active-enrollment invariant; GrantTx leans on it instead of a
// read-then-write check.
type EnrollmentRepo struct {
	pool *pgxpool.Pool
}

type EnrollmentRecord struct {
	ID         int64
	UserID     int64
	CourseID   int64
	EnrolledAt time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
}

// Model lifts the row into the domain type; ActiveAt on the result is
// the one place the active/expired/revoked rule lives.
func (r EnrollmentRecord) Model() model.Enrollment {
	return model.Enrollment{
		ID:         r.ID,
		UserID:     r.UserID,
		CourseID:   r.CourseID,
		EnrolledAt: r.EnrolledAt,
		ExpiresAt:  r.ExpiresAt,
		RevokedAt:  r.RevokedAt,
	}
}

func NewEnrollmentRepo(pool *pgxpool.Pool) *EnrollmentRepo {
	return &EnrollmentRepo{pool: pool}
}

// GrantTx grants access idempotently: when an active enrollment for the
// pair already exists it is returned unchanged and created is false.
func (r *EnrollmentRepo) GrantTx(ctx context.Context, tx pgx.Tx, userID, courseID int64, enrolledAt time.Time, expiresAt *time.Time) (EnrollmentRecord, bool, error) {
	if tx == nil {
		return EnrollmentRecord{}, false, fmt.Errorf("transaction is required")
	}
	if userID <= 0 || courseID <= 0 {
		return EnrollmentRecord{}, false, fmt.Errorf("invalid enrollment grant payload")
	}

	var expires *time.Time
	if expiresAt != nil {
		utc := expiresAt.UTC()
		expires = &utc
	}

	record, err := scanEnrollment(tx.QueryRow(ctx, `
INSERT INTO enrollments (
	user_id,
	course_id,
	enrolled_at,
	expires_at
) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, course_id) WHERE revoked_at IS NULL DO NOTHING
RETURNING id, user_id, course_id, enrolled_at, expires_at, revoked_at
`, userID, courseID, enrolledAt.UTC(), expires))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EnrollmentRecord{}, false, fmt.Errorf("grant enrollment: %w", err)
	}

	existing, err := scanEnrollment(tx.QueryRow(ctx, `
SELECT id, user_id, course_id, enrolled_at, expires_at, revoked_at
FROM enrollments
WHERE user_id = $1
  AND course_id = $2
  AND revoked_at IS NULL
LIMIT 1
`, userID, courseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EnrollmentRecord{}, false, fmt.Errorf("enrollment conflict without active row")
		}
		return EnrollmentRecord{}, false, fmt.Errorf("reload enrollment: %w", err)
	}

	// A live enrollment is returned unchanged. An expired one is renewed
	// in place; the pair keeps a single unrevoked row either way.
	if existing.ExpiresAt == nil || existing.ExpiresAt.After(enrolledAt.UTC()) {
		return existing, false, nil
	}

	renewed, err := scanEnrollment(tx.QueryRow(ctx, `
UPDATE enrollments
SET
	enrolled_at = $2,
	expires_at = $3
WHERE id = $1
RETURNING id, user_id, course_id, enrolled_at, expires_at, revoked_at
`, existing.ID, enrolledAt.UTC(), expires))
	if err != nil {
		return EnrollmentRecord{}, false, fmt.Errorf("renew expired enrollment: %w", err)
	}

	return renewed, true, nil
}

func (r *EnrollmentRepo) Grant(ctx context.Context, userID, courseID int64, enrolledAt time.Time, expiresAt *time.Time) (EnrollmentRecord, bool, error) {
	if r.pool == nil {
		return EnrollmentRecord{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		record  EnrollmentRecord
		created bool
	)
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var txErr error
		record, created, txErr = r.GrantTx(ctx, tx, userID, courseID, enrolledAt, expiresAt)
		return txErr
	})
	if err != nil {
		return EnrollmentRecord{}, false, err
	}

	return record, created, nil
}

func (r *EnrollmentRepo) FindActive(ctx context.Context, userID, courseID int64) (EnrollmentRecord, error) {
	if r.pool == nil {
		return EnrollmentRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 || courseID <= 0 {
		return EnrollmentRecord{}, fmt.Errorf("invalid enrollment lookup payload")
	}

	record, err := scanEnrollment(r.pool.QueryRow(ctx, `
SELECT id, user_id, course_id, enrolled_at, expires_at, revoked_at
FROM enrollments
WHERE user_id = $1
  AND course_id = $2
  AND revoked_at IS NULL
LIMIT 1
`, userID, courseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EnrollmentRecord{}, ErrEnrollmentNotFound
		}
		return EnrollmentRecord{}, fmt.Errorf("find active enrollment: %w", err)
	}

	return record, nil
}

// RevokeTx soft-revokes the active enrollment. Revoking a pair with no
// active enrollment reports changed=false rather than an error so refund
// approval stays idempotent.
func (r *EnrollmentRepo) RevokeTx(ctx context.Context, tx pgx.Tx, userID, courseID int64, revokedAt time.Time) (EnrollmentRecord, bool, error) {
	if tx == nil {
		return EnrollmentRecord{}, false, fmt.Errorf("transaction is required")
	}
	if userID <= 0 || courseID <= 0 {
		return EnrollmentRecord{}, false, fmt.Errorf("invalid enrollment revoke payload")
	}

	record, err := scanEnrollment(tx.QueryRow(ctx, `
UPDATE enrollments
SET revoked_at = $3
WHERE user_id = $1
  AND course_id = $2
  AND revoked_at IS NULL
RETURNING id, user_id, course_id, enrolled_at, expires_at, revoked_at
`, userID, courseID, revokedAt.UTC()))
	if err == nil {
		return record, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return EnrollmentRecord{}, false, nil
	}

	return EnrollmentRecord{}, false, fmt.Errorf("revoke enrollment: %w", err)
}

func (r *EnrollmentRepo) Revoke(ctx context.Context, userID, courseID int64, revokedAt time.Time) (EnrollmentRecord, bool, error) {
	if r.pool == nil {
		return EnrollmentRecord{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		record  EnrollmentRecord
		changed bool
	)
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var txErr error
		record, changed, txErr = r.RevokeTx(ctx, tx, userID, courseID, revokedAt)
		return txErr
	})
	if err != nil {
		return EnrollmentRecord{}, false, err
	}

	return record, changed, nil
}

func (r *EnrollmentRepo) ListActiveByUser(ctx context.Context, userID int64) ([]EnrollmentRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, course_id, enrolled_at, expires_at, revoked_at
FROM enrollments
WHERE user_id = $1
  AND revoked_at IS NULL
ORDER BY enrolled_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments by user: %w", err)
	}
	defer rows.Close()

	var records []EnrollmentRecord
	for rows.Next() {
		record, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollment rows: %w", err)
	}

	return records, nil
}

func scanEnrollment(row pgx.Row) (EnrollmentRecord, error) {
	var record EnrollmentRecord
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.CourseID,
		&record.EnrolledAt,
		&record.ExpiresAt,
		&record.RevokedAt,
	); err != nil {
		return EnrollmentRecord{}, err
	}
	return record, nil
}
