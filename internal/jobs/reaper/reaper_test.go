package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

type fakePayments struct {
	stale      []int64
	lastCutoff time.Time

	cancelCalls []int64
	terminalIDs map[int64]bool
}

func (f *fakePayments) ListStaleCardPending(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	f.lastCutoff = cutoff
	return f.stale, nil
}

func (f *fakePayments) CancelTx(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (pgrepo.PaymentRecord, bool, error) {
	f.cancelCalls = append(f.cancelCalls, orderID)
	if f.terminalIDs[orderID] {
		return pgrepo.PaymentRecord{}, false, pgrepo.ErrPaymentTerminal
	}
	return pgrepo.PaymentRecord{OrderID: orderID, Status: "canceled"}, true, nil
}

type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func TestRunCancelsStalePayments(t *testing.T) {
	now := time.Date(2026, time.March, 25, 12, 0, 0, 0, time.UTC)
	payments := &fakePayments{stale: []int64{41, 42, 43}}

	job := New(payments, &fakeTxRunner{}, 30*time.Minute, zap.NewNop())
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(payments.cancelCalls) != 3 {
		t.Fatalf("expected 3 cancellations, got %d", len(payments.cancelCalls))
	}
	wantCutoff := now.Add(-30 * time.Minute)
	if !payments.lastCutoff.Equal(wantCutoff) {
		t.Fatalf("expected cutoff %s, got %s", wantCutoff, payments.lastCutoff)
	}
}

func TestRunSkipsRacedPayments(t *testing.T) {
	payments := &fakePayments{
		stale:       []int64{41, 42},
		terminalIDs: map[int64]bool{42: true},
	}

	job := New(payments, &fakeTxRunner{}, 30*time.Minute, zap.NewNop())

	// A payment that reached a terminal status between list and cancel
	// must not abort the sweep.
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(payments.cancelCalls) != 2 {
		t.Fatalf("expected both orders attempted, got %d", len(payments.cancelCalls))
	}
}

func TestRunWithNothingStale(t *testing.T) {
	payments := &fakePayments{}

	job := New(payments, &fakeTxRunner{}, 30*time.Minute, zap.NewNop())

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(payments.cancelCalls) != 0 {
		t.Fatalf("nothing stale must cancel nothing")
	}
}
