package banktransfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/enums"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/infra/metrics"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/pkg/validate"
	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("bank transfer request not found")
	ErrAlreadyDecided = errors.New("bank transfer request already decided")
	ErrReasonTooShort = errors.New("rejection reason is too short")
)

type RequestStore interface {
	FindByID(ctx context.Context, requestID int64) (pgrepo.BankTransferRecord, error)
	FindByIDTx(ctx context.Context, tx pgx.Tx, requestID int64) (pgrepo.BankTransferRecord, error)
	ApproveTx(ctx context.Context, tx pgx.Tx, requestID, adminID int64, decidedAt time.Time) (pgrepo.BankTransferRecord, error)
	RejectTx(ctx context.Context, tx pgx.Tx, requestID, adminID int64, reason string, decidedAt time.Time) (pgrepo.BankTransferRecord, error)
	ListPending(ctx context.Context, limit int) ([]pgrepo.BankTransferRecord, error)
}

type PaymentStore interface {
	CompleteTx(ctx context.Context, tx pgx.Tx, orderID int64, externalRef string, paidAt time.Time) (pgrepo.PaymentRecord, bool, error)
	FailTx(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (pgrepo.PaymentRecord, bool, error)
}

type CourseStore interface {
	FindByID(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error)
}

type EnrollmentStore interface {
	GrantTx(ctx context.Context, tx pgx.Tx, userID, courseID int64, enrolledAt time.Time, expiresAt *time.Time) (pgrepo.EnrollmentRecord, bool, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type Notifier interface {
	PaymentCompleted(ctx context.Context, buyerID, orderID, courseID, amount int64) error
	PaymentFailed(ctx context.Context, buyerID, orderID, courseID int64, reason string) error
}

// Service is the human review side of bank-transfer payments. An
// operator confirms the deposit arrived and approves, or rejects with a
// reason the buyer will read. Either decision settles the payment and
// closes the request in one transaction.
type Service struct {
	requests    RequestStore
	payments    PaymentStore
	courses     CourseStore
	enrollments EnrollmentStore
	tx          TxRunner
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *zap.Logger

	minRejectReason int
	now             func() time.Time
}

type Dependencies struct {
	Requests    RequestStore
	Payments    PaymentStore
	Courses     CourseStore
	Enrollments EnrollmentStore
	Tx          TxRunner
}

type Config struct {
	// MinRejectReason is the minimum length of a rejection reason. The
	// reason is shown to the buyer verbatim, so one-character answers
	// are refused.
	MinRejectReason int
}

func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinRejectReason <= 0 {
		cfg.MinRejectReason = 10
	}

	return &Service{
		requests:        deps.Requests,
		payments:        deps.Payments,
		courses:         deps.Courses,
		enrollments:     deps.Enrollments,
		tx:              deps.Tx,
		logger:          logger,
		minRejectReason: cfg.MinRejectReason,
		now:             time.Now,
	}
}

func (s *Service) AttachNotifier(notifier Notifier) {
	s.notifier = notifier
}

func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Approve confirms the deposit: the request closes, the payment
// completes, and the buyer is enrolled, all in one transaction. The
// row lock taken by FindByIDTx serializes racing admins; the loser
// gets ErrAlreadyDecided.
func (s *Service) Approve(ctx context.Context, requestID, adminID int64) (pgrepo.BankTransferRecord, error) {
	if s.requests == nil || s.payments == nil || s.courses == nil || s.enrollments == nil || s.tx == nil {
		return pgrepo.BankTransferRecord{}, fmt.Errorf("bank transfer dependencies are not configured")
	}
	if requestID <= 0 || adminID <= 0 {
		return pgrepo.BankTransferRecord{}, ErrValidation
	}

	now := s.now().UTC()
	var decided pgrepo.BankTransferRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		request, txErr := s.requests.FindByIDTx(ctx, tx, requestID)
		if txErr != nil {
			return txErr
		}
		if enums.BankTransferStatus(request.Status).Decided() {
			return pgrepo.ErrBankTransferAlreadyDecided
		}

		course, txErr := s.courses.FindByID(ctx, request.CourseID)
		if txErr != nil {
			return txErr
		}

		decided, txErr = s.requests.ApproveTx(ctx, tx, requestID, adminID, now)
		if txErr != nil {
			return txErr
		}

		ref := fmt.Sprintf("bt_%d", requestID)
		if _, _, txErr = s.payments.CompleteTx(ctx, tx, request.OrderID, ref, now); txErr != nil {
			return txErr
		}

		_, _, txErr = s.enrollments.GrantTx(ctx, tx, request.BuyerID, request.CourseID, now, enrollmentExpiry(course, now))
		if txErr != nil {
			return txErr
		}

		decided.OrderID = request.OrderID
		decided.BuyerID = request.BuyerID
		decided.CourseID = request.CourseID
		decided.Amount = request.Amount
		return nil
	})
	if err != nil {
		return pgrepo.BankTransferRecord{}, mapDecisionError(err)
	}

	if s.metrics != nil {
		s.metrics.PaymentsCompleted.WithLabelValues("bank_transfer").Inc()
	}
	if s.notifier != nil {
		_ = s.notifier.PaymentCompleted(ctx, decided.BuyerID, decided.OrderID, decided.CourseID, decided.Amount)
	}
	s.logger.Info("bank transfer approved",
		zap.Int64("request_id", requestID),
		zap.Int64("order_id", decided.OrderID),
		zap.Int64("admin_id", adminID),
	)

	return decided, nil
}

// Reject closes the request and fails the payment with the operator's
// reason. No enrollment is touched; a rejected transfer never granted
// one.
func (s *Service) Reject(ctx context.Context, requestID, adminID int64, reason string) (pgrepo.BankTransferRecord, error) {
	if s.requests == nil || s.payments == nil || s.tx == nil {
		return pgrepo.BankTransferRecord{}, fmt.Errorf("bank transfer dependencies are not configured")
	}
	if requestID <= 0 || adminID <= 0 {
		return pgrepo.BankTransferRecord{}, ErrValidation
	}
	reason = strings.TrimSpace(reason)
	if !validate.MinLen(reason, s.minRejectReason) {
		return pgrepo.BankTransferRecord{}, ErrReasonTooShort
	}

	now := s.now().UTC()
	var decided pgrepo.BankTransferRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		request, txErr := s.requests.FindByIDTx(ctx, tx, requestID)
		if txErr != nil {
			return txErr
		}
		if enums.BankTransferStatus(request.Status).Decided() {
			return pgrepo.ErrBankTransferAlreadyDecided
		}

		decided, txErr = s.requests.RejectTx(ctx, tx, requestID, adminID, reason, now)
		if txErr != nil {
			return txErr
		}

		if _, _, txErr = s.payments.FailTx(ctx, tx, request.OrderID, reason); txErr != nil {
			return txErr
		}

		decided.OrderID = request.OrderID
		decided.BuyerID = request.BuyerID
		decided.CourseID = request.CourseID
		decided.Amount = request.Amount
		return nil
	})
	if err != nil {
		return pgrepo.BankTransferRecord{}, mapDecisionError(err)
	}

	if s.metrics != nil {
		s.metrics.PaymentsFailed.WithLabelValues("bank_transfer", "rejected").Inc()
	}
	if s.notifier != nil {
		_ = s.notifier.PaymentFailed(ctx, decided.BuyerID, decided.OrderID, decided.CourseID, reason)
	}
	s.logger.Info("bank transfer rejected",
		zap.Int64("request_id", requestID),
		zap.Int64("order_id", decided.OrderID),
		zap.Int64("admin_id", adminID),
	)

	return decided, nil
}

func (s *Service) Get(ctx context.Context, requestID int64) (pgrepo.BankTransferRecord, error) {
	if s.requests == nil {
		return pgrepo.BankTransferRecord{}, fmt.Errorf("bank transfer dependencies are not configured")
	}
	if requestID <= 0 {
		return pgrepo.BankTransferRecord{}, ErrValidation
	}

	record, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrBankTransferNotFound) {
			return pgrepo.BankTransferRecord{}, ErrNotFound
		}
		return pgrepo.BankTransferRecord{}, err
	}

	return record, nil
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]pgrepo.BankTransferRecord, error) {
	if s.requests == nil {
		return nil, fmt.Errorf("bank transfer dependencies are not configured")
	}
	return s.requests.ListPending(ctx, limit)
}

func mapDecisionError(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrBankTransferNotFound):
		return ErrNotFound
	case errors.Is(err, pgrepo.ErrBankTransferAlreadyDecided):
		return ErrAlreadyDecided
	default:
		return err
	}
}

func enrollmentExpiry(course pgrepo.CourseRecord, from time.Time) *time.Time {
	if course.AccessDays <= 0 {
		return nil
	}
	expires := from.Add(time.Duration(course.AccessDays) * 24 * time.Hour)
	return &expires
}
