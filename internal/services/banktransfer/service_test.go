package banktransfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

type stubRequestStore struct {
	record  pgrepo.BankTransferRecord
	findErr error

	approveCalls int
	rejectCalls  int
	lastReason   string
}

func (s *stubRequestStore) FindByID(ctx context.Context, requestID int64) (pgrepo.BankTransferRecord, error) {
	if s.findErr != nil {
		return pgrepo.BankTransferRecord{}, s.findErr
	}
	return s.record, nil
}

func (s *stubRequestStore) FindByIDTx(ctx context.Context, tx pgx.Tx, requestID int64) (pgrepo.BankTransferRecord, error) {
	if s.findErr != nil {
		return pgrepo.BankTransferRecord{}, s.findErr
	}
	return s.record, nil
}

func (s *stubRequestStore) ApproveTx(ctx context.Context, tx pgx.Tx, requestID, adminID int64, decidedAt time.Time) (pgrepo.BankTransferRecord, error) {
	s.approveCalls++
	decided := s.record
	decided.Status = "approved"
	decided.DecidedBy = &adminID
	decided.DecidedAt = &decidedAt
	return decided, nil
}

func (s *stubRequestStore) RejectTx(ctx context.Context, tx pgx.Tx, requestID, adminID int64, reason string, decidedAt time.Time) (pgrepo.BankTransferRecord, error) {
	s.rejectCalls++
	s.lastReason = reason
	decided := s.record
	decided.Status = "rejected"
	decided.RejectionReason = &reason
	return decided, nil
}

func (s *stubRequestStore) ListPending(ctx context.Context, limit int) ([]pgrepo.BankTransferRecord, error) {
	return []pgrepo.BankTransferRecord{s.record}, nil
}

type stubPaymentStore struct {
	completeCalls int
	failCalls     int
	lastRef       string
	lastReason    string
}

func (s *stubPaymentStore) CompleteTx(ctx context.Context, tx pgx.Tx, orderID int64, externalRef string, paidAt time.Time) (pgrepo.PaymentRecord, bool, error) {
	s.completeCalls++
	s.lastRef = externalRef
	return pgrepo.PaymentRecord{OrderID: orderID, Status: "completed"}, true, nil
}

func (s *stubPaymentStore) FailTx(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (pgrepo.PaymentRecord, bool, error) {
	s.failCalls++
	s.lastReason = reason
	return pgrepo.PaymentRecord{OrderID: orderID, Status: "failed"}, true, nil
}

type stubCourseStore struct {
	course pgrepo.CourseRecord
}

func (s *stubCourseStore) FindByID(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error) {
	return s.course, nil
}

type stubEnrollmentStore struct {
	grantCalls int
}

func (s *stubEnrollmentStore) GrantTx(ctx context.Context, tx pgx.Tx, userID, courseID int64, enrolledAt time.Time, expiresAt *time.Time) (pgrepo.EnrollmentRecord, bool, error) {
	s.grantCalls++
	return pgrepo.EnrollmentRecord{ID: 71, UserID: userID, CourseID: courseID}, true, nil
}

type stubTxRunner struct {
	calls int
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	s.calls++
	return fn(ctx, nil)
}

func pendingRequest() pgrepo.BankTransferRecord {
	return pgrepo.BankTransferRecord{
		ID:            17,
		PaymentID:     92,
		DepositorName: "Kim Minsu",
		Status:        "pending",
		OrderID:       42,
		BuyerID:       7,
		CourseID:      3,
		Amount:        55000,
	}
}

func newTestService(requests *stubRequestStore, payments *stubPaymentStore, enrollments *stubEnrollmentStore, tx *stubTxRunner) *Service {
	svc := NewService(Dependencies{
		Requests:    requests,
		Payments:    payments,
		Courses:     &stubCourseStore{course: pgrepo.CourseRecord{ID: 3, Price: 55000, Published: true}},
		Enrollments: enrollments,
		Tx:          tx,
	}, Config{MinRejectReason: 10}, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestApproveCompletesPaymentAndGrants(t *testing.T) {
	requests := &stubRequestStore{record: pendingRequest()}
	payments := &stubPaymentStore{}
	enrollments := &stubEnrollmentStore{}
	tx := &stubTxRunner{}
	svc := newTestService(requests, payments, enrollments, tx)

	decided, err := svc.Approve(context.Background(), 17, 99)
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if decided.Status != "approved" {
		t.Fatalf("expected approved status, got %s", decided.Status)
	}
	if requests.approveCalls != 1 || payments.completeCalls != 1 || enrollments.grantCalls != 1 {
		t.Fatalf("expected approve, complete and grant once, got %d/%d/%d",
			requests.approveCalls, payments.completeCalls, enrollments.grantCalls)
	}
	if tx.calls != 1 {
		t.Fatalf("decision must run in a single transaction, got %d", tx.calls)
	}
	if payments.lastRef != "bt_17" {
		t.Fatalf("expected settlement ref bt_17, got %q", payments.lastRef)
	}
	if decided.OrderID != 42 || decided.BuyerID != 7 {
		t.Fatalf("decision must carry order context, got %+v", decided)
	}
}

func TestApproveAlreadyDecided(t *testing.T) {
	record := pendingRequest()
	record.Status = "approved"
	requests := &stubRequestStore{record: record}
	payments := &stubPaymentStore{}
	svc := newTestService(requests, payments, &stubEnrollmentStore{}, &stubTxRunner{})

	_, err := svc.Approve(context.Background(), 17, 99)
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	if requests.approveCalls != 0 || payments.completeCalls != 0 {
		t.Fatalf("decided request must not be re-settled")
	}
}

func TestApproveUnknownRequest(t *testing.T) {
	requests := &stubRequestStore{findErr: pgrepo.ErrBankTransferNotFound}
	svc := newTestService(requests, &stubPaymentStore{}, &stubEnrollmentStore{}, &stubTxRunner{})

	_, err := svc.Approve(context.Background(), 404, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectFailsPaymentWithReason(t *testing.T) {
	requests := &stubRequestStore{record: pendingRequest()}
	payments := &stubPaymentStore{}
	enrollments := &stubEnrollmentStore{}
	svc := newTestService(requests, payments, enrollments, &stubTxRunner{})

	decided, err := svc.Reject(context.Background(), 17, 99, "deposit not found after three days")
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if decided.Status != "rejected" {
		t.Fatalf("expected rejected status, got %s", decided.Status)
	}
	if payments.failCalls != 1 {
		t.Fatalf("expected payment failed once, got %d", payments.failCalls)
	}
	if payments.lastReason != "deposit not found after three days" {
		t.Fatalf("buyer-visible reason must reach the payment, got %q", payments.lastReason)
	}
	if enrollments.grantCalls != 0 {
		t.Fatalf("rejection must not grant enrollment")
	}
}

func TestRejectCountsReasonInCharacters(t *testing.T) {
	requests := &stubRequestStore{record: pendingRequest()}
	svc := newTestService(requests, &stubPaymentStore{}, &stubEnrollmentStore{}, &stubTxRunner{})

	// Five Korean characters span fifteen bytes; the minimum is about
	// what the buyer reads, not the encoding, so this stays too short.
	if _, err := svc.Reject(context.Background(), 17, 99, "입금자 달라"); !errors.Is(err, ErrReasonTooShort) {
		t.Fatalf("five characters must not satisfy a minimum of ten, got %v", err)
	}

	if _, err := svc.Reject(context.Background(), 17, 99, "입금자명이 주문자와 일치하지 않습니다"); err != nil {
		t.Fatalf("multibyte reason of sufficient length must pass, got %v", err)
	}
	if requests.rejectCalls != 1 {
		t.Fatalf("expected only the full-length rejection to reach the store")
	}
}

func TestRejectRequiresMeaningfulReason(t *testing.T) {
	requests := &stubRequestStore{record: pendingRequest()}
	svc := newTestService(requests, &stubPaymentStore{}, &stubEnrollmentStore{}, &stubTxRunner{})

	_, err := svc.Reject(context.Background(), 17, 99, "no")
	if !errors.Is(err, ErrReasonTooShort) {
		t.Fatalf("expected ErrReasonTooShort, got %v", err)
	}
	if requests.rejectCalls != 0 {
		t.Fatalf("short reason must not reach the store")
	}
}
