package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// deviceTable is an in-memory devices table driven through the pgx.Tx
// surface, so RegisterTx runs its real statement sequence against it.
// The advisory lock serializes racing transactions, which means every
// race collapses to registrations replayed one after another; that is
// the schedule these tests replay.
type deviceTable struct {
	rows   []DeviceRecord
	nextID int64
	ops    []string
}

func (t *deviceTable) tx() pgx.Tx {
	return &deviceTableTx{table: t}
}

type deviceTableTx struct {
	table *deviceTable
}

var errTxUnsupported = errors.New("not supported by deviceTableTx")

func (t *deviceTableTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if strings.Contains(sql, "pg_advisory_xact_lock") {
		t.table.ops = append(t.table.ops, "lock")
		return pgconn.CommandTag{}, nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
}

func (t *deviceTableTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "UPDATE devices"):
		t.table.ops = append(t.table.ops, "refresh")
		userID, fingerprint, touched := args[0].(int64), args[1].(string), args[2].(time.Time)
		for i := range t.table.rows {
			row := &t.table.rows[i]
			if row.UserID == userID && row.Fingerprint == fingerprint {
				row.LastUsedAt = touched
				return deviceRow{record: *row}
			}
		}
		return deviceRow{err: pgx.ErrNoRows}

	case strings.Contains(sql, "SELECT COUNT"):
		t.table.ops = append(t.table.ops, "count")
		userID := args[0].(int64)
		count := 0
		for _, row := range t.table.rows {
			if row.UserID == userID {
				count++
			}
		}
		return countRow{count: count}

	case strings.Contains(sql, "INSERT INTO devices"):
		t.table.ops = append(t.table.ops, "insert")
		t.table.nextID++
		record := DeviceRecord{
			ID:          t.table.nextID,
			UserID:      args[0].(int64),
			Fingerprint: args[1].(string),
			Name:        args[2].(string),
			Platform:    args[3].(string),
			UserAgent:   args[4].(string),
			Language:    args[5].(string),
			LastUsedAt:  args[6].(time.Time),
			CreatedAt:   args[6].(time.Time),
		}
		t.table.rows = append(t.table.rows, record)
		return deviceRow{record: record}
	}
	return deviceRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (t *deviceTableTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errTxUnsupported }
func (t *deviceTableTx) Commit(ctx context.Context) error          { return nil }
func (t *deviceTableTx) Rollback(ctx context.Context) error        { return nil }
func (t *deviceTableTx) CopyFrom(ctx context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errTxUnsupported
}
func (t *deviceTableTx) SendBatch(ctx context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *deviceTableTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *deviceTableTx) Prepare(ctx context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errTxUnsupported
}
func (t *deviceTableTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errTxUnsupported
}
func (t *deviceTableTx) Conn() *pgx.Conn { return nil }

type deviceRow struct {
	record DeviceRecord
	err    error
}

func (r deviceRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.record.ID
	*(dest[1].(*int64)) = r.record.UserID
	*(dest[2].(*string)) = r.record.Fingerprint
	*(dest[3].(*string)) = r.record.Name
	*(dest[4].(*string)) = r.record.Platform
	*(dest[5].(*string)) = r.record.UserAgent
	*(dest[6].(*string)) = r.record.Language
	*(dest[7].(*time.Time)) = r.record.LastUsedAt
	*(dest[8].(*time.Time)) = r.record.CreatedAt
	return nil
}

type countRow struct {
	count int
}

func (r countRow) Scan(dest ...any) error {
	*(dest[0].(*int)) = r.count
	return nil
}

func TestRegisterTxAdmitsUpToLimitThenRefuses(t *testing.T) {
	repo := NewDeviceRepo(nil)
	table := &deviceTable{}
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	meta := DeviceMetadata{Name: "MacBook", Platform: "macOS"}

	for i, fingerprint := range []string{"fp-a", "fp-b"} {
		record, created, err := repo.RegisterTx(context.Background(), table.tx(), 7, fingerprint, meta, 2, now)
		if err != nil {
			t.Fatalf("registration %d returned error: %v", i+1, err)
		}
		if !created {
			t.Fatalf("registration %d must claim a new slot", i+1)
		}
		if record.Fingerprint != fingerprint {
			t.Fatalf("unexpected fingerprint %q on registration %d", record.Fingerprint, i+1)
		}
	}

	_, _, err := repo.RegisterTx(context.Background(), table.tx(), 7, "fp-c", meta, 2, now)
	if !errors.Is(err, ErrDeviceLimitExceeded) {
		t.Fatalf("third device must be refused, got %v", err)
	}
	if len(table.rows) != 2 {
		t.Fatalf("refused registration must not insert, table holds %d rows", len(table.rows))
	}
}

func TestRegisterTxLocksBeforeCounting(t *testing.T) {
	repo := NewDeviceRepo(nil)
	table := &deviceTable{}
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)

	if _, _, err := repo.RegisterTx(context.Background(), table.tx(), 7, "fp-a", DeviceMetadata{}, 2, now); err != nil {
		t.Fatalf("RegisterTx returned error: %v", err)
	}

	want := []string{"lock", "refresh", "count", "insert"}
	if len(table.ops) != len(want) {
		t.Fatalf("unexpected statement sequence %v", table.ops)
	}
	for i, op := range want {
		if table.ops[i] != op {
			t.Fatalf("statement %d: got %q want %q (sequence %v)", i, table.ops[i], op, table.ops)
		}
	}
}

func TestRegisterTxRefreshesKnownFingerprintAtCap(t *testing.T) {
	repo := NewDeviceRepo(nil)
	seeded := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	table := &deviceTable{
		rows: []DeviceRecord{
			{ID: 1, UserID: 7, Fingerprint: "fp-a", LastUsedAt: seeded, CreatedAt: seeded},
			{ID: 2, UserID: 7, Fingerprint: "fp-b", LastUsedAt: seeded, CreatedAt: seeded},
		},
		nextID: 2,
	}
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)

	record, created, err := repo.RegisterTx(context.Background(), table.tx(), 7, "fp-a", DeviceMetadata{}, 2, now)
	if err != nil {
		t.Fatalf("known fingerprint must not hit the cap, got %v", err)
	}
	if created {
		t.Fatalf("known fingerprint must refresh, not claim a slot")
	}
	if !record.LastUsedAt.Equal(now) {
		t.Fatalf("refresh must bump last_used_at, got %s", record.LastUsedAt)
	}
	if len(table.rows) != 2 {
		t.Fatalf("refresh must not grow the table, holds %d rows", len(table.rows))
	}
}

func TestRegisterTxIsolatesUsers(t *testing.T) {
	repo := NewDeviceRepo(nil)
	seeded := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	table := &deviceTable{
		rows: []DeviceRecord{
			{ID: 1, UserID: 8, Fingerprint: "fp-a", LastUsedAt: seeded, CreatedAt: seeded},
			{ID: 2, UserID: 8, Fingerprint: "fp-b", LastUsedAt: seeded, CreatedAt: seeded},
		},
		nextID: 2,
	}
	now := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)

	_, created, err := repo.RegisterTx(context.Background(), table.tx(), 7, "fp-a", DeviceMetadata{}, 2, now)
	if err != nil {
		t.Fatalf("another user's full roster must not block, got %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh slot for the unblocked user")
	}
}
