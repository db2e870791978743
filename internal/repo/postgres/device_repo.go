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
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")
)

// DeviceRepo owns playback device slots. RegisterTx takes a per-user
// advisory lock before counting, so two fingerprints racing to register
// cannot both pass the cap check: row locks alone cannot serialize
// inserts into an empty device set.
type DeviceRepo struct {
	pool *pgxpool.Pool
}

type DeviceRecord struct {
	ID          int64
	UserID      int64
	Fingerprint string
	Name        string
	Platform    string
	UserAgent   string
	Language    string
	LastUsedAt  time.Time
	CreatedAt   time.Time
}

type DeviceMetadata struct {
	Name      string
	Platform  string
	UserAgent string
	Language  string
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

// RegisterTx registers a fingerprint under the user's device-slot lock.
// A known fingerprint refreshes last_used_at and reports created=false;
// a new fingerprint is admitted only while the active count is below
// limit, otherwise ErrDeviceLimitExceeded.
func (r *DeviceRepo) RegisterTx(ctx context.Context, tx pgx.Tx, userID int64, fingerprint string, meta DeviceMetadata, limit int, now time.Time) (DeviceRecord, bool, error) {
	if tx == nil {
		return DeviceRecord{}, false, fmt.Errorf("transaction is required")
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if userID <= 0 || fingerprint == "" {
		return DeviceRecord{}, false, fmt.Errorf("invalid device register payload")
	}
	if limit <= 0 {
		return DeviceRecord{}, false, fmt.Errorf("invalid device limit")
	}

	// Keyed on a feature-prefixed hash rather than the bare user id, so
	// other advisory locks in the schema can never contend with this one.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('devices:' || $1::text, 0))`, userID); err != nil {
		return DeviceRecord{}, false, fmt.Errorf("acquire device slot lock: %w", err)
	}

	existing, err := scanDevice(tx.QueryRow(ctx, `
UPDATE devices
SET last_used_at = $3
WHERE user_id = $1
  AND fingerprint = $2
RETURNING id, user_id, fingerprint, name, platform, user_agent, language, last_used_at, created_at
`, userID, fingerprint, now.UTC()))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return DeviceRecord{}, false, fmt.Errorf("refresh known device: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `
SELECT COUNT(*)
FROM devices
WHERE user_id = $1
`, userID).Scan(&count); err != nil {
		return DeviceRecord{}, false, fmt.Errorf("count user devices: %w", err)
	}
	if count >= limit {
		return DeviceRecord{}, false, ErrDeviceLimitExceeded
	}

	record, err := scanDevice(tx.QueryRow(ctx, `
INSERT INTO devices (
	user_id,
	fingerprint,
	name,
	platform,
	user_agent,
	language,
	last_used_at,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING id, user_id, fingerprint, name, platform, user_agent, language, last_used_at, created_at
`, userID, fingerprint,
		strings.TrimSpace(meta.Name),
		strings.TrimSpace(meta.Platform),
		strings.TrimSpace(meta.UserAgent),
		strings.TrimSpace(meta.Language),
		now.UTC()))
	if err != nil {
		return DeviceRecord{}, false, fmt.Errorf("insert device: %w", err)
	}

	return record, true, nil
}

func (r *DeviceRepo) Register(ctx context.Context, userID int64, fingerprint string, meta DeviceMetadata, limit int, now time.Time) (DeviceRecord, bool, error) {
	if r.pool == nil {
		return DeviceRecord{}, false, fmt.Errorf("postgres pool is nil")
	}

	var (
		record  DeviceRecord
		created bool
	)
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var txErr error
		record, created, txErr = r.RegisterTx(ctx, tx, userID, fingerprint, meta, limit, now)
		return txErr
	})
	if err != nil {
		return DeviceRecord{}, false, err
	}

	return record, created, nil
}

func (r *DeviceRepo) FindByFingerprint(ctx context.Context, userID int64, fingerprint string) (DeviceRecord, error) {
	if r.pool == nil {
		return DeviceRecord{}, fmt.Errorf("postgres pool is nil")
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if userID <= 0 || fingerprint == "" {
		return DeviceRecord{}, fmt.Errorf("invalid device lookup payload")
	}

	record, err := scanDevice(r.pool.QueryRow(ctx, `
SELECT id, user_id, fingerprint, name, platform, user_agent, language, last_used_at, created_at
FROM devices
WHERE user_id = $1
  AND fingerprint = $2
LIMIT 1
`, userID, fingerprint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeviceRecord{}, ErrDeviceNotFound
		}
		return DeviceRecord{}, fmt.Errorf("find device by fingerprint: %w", err)
	}

	return record, nil
}

func (r *DeviceRepo) CountByUser(ctx context.Context, userID int64) (int, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}

	var count int
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM devices
WHERE user_id = $1
`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count user devices: %w", err)
	}

	return count, nil
}

func (r *DeviceRepo) ListByUser(ctx context.Context, userID int64) ([]DeviceRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return nil, fmt.Errorf("invalid user id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, fingerprint, name, platform, user_agent, language, last_used_at, created_at
FROM devices
WHERE user_id = $1
ORDER BY created_at
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user devices: %w", err)
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		record, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}

	return records, nil
}

// Remove frees the slot immediately; the user id guard keeps one user
// from deleting another user's device.
func (r *DeviceRepo) Remove(ctx context.Context, userID, deviceID int64) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 || deviceID <= 0 {
		return fmt.Errorf("invalid device remove payload")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM devices
WHERE id = $1
  AND user_id = $2
`, deviceID, userID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

func (r *DeviceRepo) Rename(ctx context.Context, userID, deviceID int64, name string) (DeviceRecord, error) {
	if r.pool == nil {
		return DeviceRecord{}, fmt.Errorf("postgres pool is nil")
	}
	name = strings.TrimSpace(name)
	if userID <= 0 || deviceID <= 0 || name == "" {
		return DeviceRecord{}, fmt.Errorf("invalid device rename payload")
	}

	record, err := scanDevice(r.pool.QueryRow(ctx, `
UPDATE devices
SET name = $3
WHERE id = $1
  AND user_id = $2
RETURNING id, user_id, fingerprint, name, platform, user_agent, language, last_used_at, created_at
`, deviceID, userID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeviceRecord{}, ErrDeviceNotFound
		}
		return DeviceRecord{}, fmt.Errorf("rename device: %w", err)
	}

	return record, nil
}

func scanDevice(row pgx.Row) (DeviceRecord, error) {
	var record DeviceRecord
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.Fingerprint,
		&record.Name,
		&record.Platform,
		&record.UserAgent,
		&record.Language,
		&record.LastUsedAt,
		&record.CreatedAt,
	); err != nil {
		return DeviceRecord{}, err
	}
	return record, nil
}
