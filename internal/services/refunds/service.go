package refunds

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
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotRefundable  = errors.New("order is not refundable")
	ErrOutsideWindow  = errors.New("order is outside the refund window")
	ErrAlreadyOpen    = errors.New("an open refund request already exists for this order")
	ErrNotFound       = errors.New("refund request not found")
	ErrAlreadyDecided = errors.New("refund request already decided")
	ErrPayoutRequired = errors.New("bank transfer refunds require a payout account")
	ErrReasonTooShort = errors.New("refund reason is too short")
)

type RefundStore interface {
	Create(ctx context.Context, orderID int64, reason string, refundAmount int64, bankName, accountHolder, accountNumber string) (pgrepo.RefundRecord, error)
	FindByID(ctx context.Context, refundID int64) (pgrepo.RefundRecord, error)
	FindByIDTx(ctx context.Context, tx pgx.Tx, refundID int64) (pgrepo.RefundRecord, error)
	ApproveTx(ctx context.Context, tx pgx.Tx, refundID, adminID int64, processedAt time.Time) (pgrepo.RefundRecord, error)
	RejectTx(ctx context.Context, tx pgx.Tx, refundID, adminID int64, reason string, processedAt time.Time) (pgrepo.RefundRecord, error)
	ListPending(ctx context.Context, limit int) ([]pgrepo.RefundRecord, error)
	ListByOrder(ctx context.Context, orderID int64) ([]pgrepo.RefundRecord, error)
}

type OrderStore interface {
	FindByID(ctx context.Context, orderID int64) (pgrepo.OrderRecord, error)
}

type PaymentStore interface {
	FindByOrderID(ctx context.Context, orderID int64) (pgrepo.PaymentRecord, error)
}

type EnrollmentStore interface {
	RevokeTx(ctx context.Context, tx pgx.Tx, userID, courseID int64, revokedAt time.Time) (pgrepo.EnrollmentRecord, bool, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type Notifier interface {
	RefundDecided(ctx context.Context, buyerID, orderID int64, approved bool, reason string) error
}

// EligibilityFunc decides whether a completed order may still be
// refunded at the given instant. The default is a fixed window from the
// payment's paid-at time; tests and future policies swap it out.
type EligibilityFunc func(order pgrepo.OrderRecord, payment pgrepo.PaymentRecord, at time.Time) error

// WindowEligibility refunds anything paid within the window. A zero
// window disables the cutoff.
func WindowEligibility(window time.Duration) EligibilityFunc {
	return func(order pgrepo.OrderRecord, payment pgrepo.PaymentRecord, at time.Time) error {
		if window <= 0 {
			return nil
		}
		if payment.PaidAt == nil {
			return ErrNotRefundable
		}
		if at.Sub(*payment.PaidAt) > window {
			return ErrOutsideWindow
		}
		return nil
	}
}

// Service handles the money-back half of the lifecycle. Buyers open a
// request against a completed order; an admin approves (pays out and
// revokes access in one transaction) or rejects with a reason.
type Service struct {
	refunds     RefundStore
	orders      OrderStore
	payments    PaymentStore
	enrollments EnrollmentStore
	tx          TxRunner
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *zap.Logger

	eligible        EligibilityFunc
	minRejectReason int
	now             func() time.Time
}

type Dependencies struct {
	Refunds     RefundStore
	Orders      OrderStore
	Payments    PaymentStore
	Enrollments EnrollmentStore
	Tx          TxRunner
}

type Config struct {
	// RefundWindow bounds WindowEligibility when no custom Eligibility
	// is supplied.
	RefundWindow    time.Duration
	MinRejectReason int
	Eligibility     EligibilityFunc
}

type RequestInput struct {
	BuyerID int64
	OrderID int64
	Reason  string

	// Required for bank-transfer orders: where to send the money back.
	BankName      string
	AccountHolder string
	AccountNumber string
}

func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinRejectReason <= 0 {
		cfg.MinRejectReason = 10
	}
	eligible := cfg.Eligibility
	if eligible == nil {
		eligible = WindowEligibility(cfg.RefundWindow)
	}

	return &Service{
		refunds:         deps.Refunds,
		orders:          deps.Orders,
		payments:        deps.Payments,
		enrollments:     deps.Enrollments,
		tx:              deps.Tx,
		logger:          logger,
		eligible:        eligible,
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

// Request opens a refund for the buyer's completed order. The database
// enforces one open request per order; a duplicate surfaces as
// ErrAlreadyOpen regardless of who races whom.
func (s *Service) Request(ctx context.Context, in RequestInput) (pgrepo.RefundRecord, error) {
	if s.refunds == nil || s.orders == nil || s.payments == nil {
		return pgrepo.RefundRecord{}, fmt.Errorf("refund dependencies are not configured")
	}
	if in.BuyerID <= 0 || in.OrderID <= 0 {
		return pgrepo.RefundRecord{}, ErrValidation
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return pgrepo.RefundRecord{}, ErrReasonTooShort
	}

	order, err := s.orders.FindByID(ctx, in.OrderID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrOrderNotFound) {
			return pgrepo.RefundRecord{}, ErrOrderNotFound
		}
		return pgrepo.RefundRecord{}, err
	}
	if order.BuyerID != in.BuyerID {
		return pgrepo.RefundRecord{}, ErrOrderNotFound
	}

	payment, err := s.payments.FindByOrderID(ctx, in.OrderID)
	if err != nil {
		return pgrepo.RefundRecord{}, err
	}
	if enums.PaymentStatus(payment.Status) != enums.PaymentStatusCompleted {
		return pgrepo.RefundRecord{}, ErrNotRefundable
	}

	if err := s.eligible(order, payment, s.now().UTC()); err != nil {
		return pgrepo.RefundRecord{}, err
	}

	if enums.PaymentMethod(order.Method) == enums.PaymentMethodBankTransfer {
		if strings.TrimSpace(in.BankName) == "" ||
			strings.TrimSpace(in.AccountHolder) == "" ||
			strings.TrimSpace(in.AccountNumber) == "" {
			return pgrepo.RefundRecord{}, ErrPayoutRequired
		}
	}

	record, err := s.refunds.Create(ctx, in.OrderID, reason, order.Amount, in.BankName, in.AccountHolder, in.AccountNumber)
	if err != nil {
		if errors.Is(err, pgrepo.ErrRefundAlreadyOpen) {
			return pgrepo.RefundRecord{}, ErrAlreadyOpen
		}
		return pgrepo.RefundRecord{}, err
	}

	s.logger.Info("refund requested",
		zap.Int64("refund_id", record.ID),
		zap.Int64("order_id", in.OrderID),
		zap.Int64("buyer_id", in.BuyerID),
	)

	return record, nil
}

// Approve pays out and revokes access in one transaction. The revoke is
// tolerant: an enrollment already gone (expired, manually pulled) does
// not block the payout.
func (s *Service) Approve(ctx context.Context, refundID, adminID int64) (pgrepo.RefundRecord, error) {
	if s.refunds == nil || s.enrollments == nil || s.tx == nil {
		return pgrepo.RefundRecord{}, fmt.Errorf("refund dependencies are not configured")
	}
	if refundID <= 0 || adminID <= 0 {
		return pgrepo.RefundRecord{}, ErrValidation
	}

	now := s.now().UTC()
	var decided pgrepo.RefundRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		request, txErr := s.refunds.FindByIDTx(ctx, tx, refundID)
		if txErr != nil {
			return txErr
		}
		if enums.RefundStatus(request.Status).Decided() {
			return pgrepo.ErrRefundAlreadyDecided
		}

		decided, txErr = s.refunds.ApproveTx(ctx, tx, refundID, adminID, now)
		if txErr != nil {
			return txErr
		}

		if _, _, txErr = s.enrollments.RevokeTx(ctx, tx, request.BuyerID, request.CourseID, now); txErr != nil {
			return txErr
		}

		decided.BuyerID = request.BuyerID
		decided.CourseID = request.CourseID
		decided.Method = request.Method
		return nil
	})
	if err != nil {
		return pgrepo.RefundRecord{}, mapDecisionError(err)
	}

	if s.metrics != nil {
		s.metrics.RefundsDecided.WithLabelValues("approved").Inc()
	}
	if s.notifier != nil {
		_ = s.notifier.RefundDecided(ctx, decided.BuyerID, decided.OrderID, true, "")
	}
	s.logger.Info("refund approved",
		zap.Int64("refund_id", refundID),
		zap.Int64("order_id", decided.OrderID),
		zap.Int64("admin_id", adminID),
	)

	return decided, nil
}

// Reject closes the request with a reason the buyer will read. Access
// stays untouched.
func (s *Service) Reject(ctx context.Context, refundID, adminID int64, reason string) (pgrepo.RefundRecord, error) {
	if s.refunds == nil || s.tx == nil {
		return pgrepo.RefundRecord{}, fmt.Errorf("refund dependencies are not configured")
	}
	if refundID <= 0 || adminID <= 0 {
		return pgrepo.RefundRecord{}, ErrValidation
	}
	reason = strings.TrimSpace(reason)
	if !validate.MinLen(reason, s.minRejectReason) {
		return pgrepo.RefundRecord{}, ErrReasonTooShort
	}

	now := s.now().UTC()
	var decided pgrepo.RefundRecord
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		request, txErr := s.refunds.FindByIDTx(ctx, tx, refundID)
		if txErr != nil {
			return txErr
		}
		if enums.RefundStatus(request.Status).Decided() {
			return pgrepo.ErrRefundAlreadyDecided
		}

		decided, txErr = s.refunds.RejectTx(ctx, tx, refundID, adminID, reason, now)
		if txErr != nil {
			return txErr
		}

		decided.BuyerID = request.BuyerID
		decided.CourseID = request.CourseID
		return nil
	})
	if err != nil {
		return pgrepo.RefundRecord{}, mapDecisionError(err)
	}

	if s.metrics != nil {
		s.metrics.RefundsDecided.WithLabelValues("rejected").Inc()
	}
	if s.notifier != nil {
		_ = s.notifier.RefundDecided(ctx, decided.BuyerID, decided.OrderID, false, reason)
	}
	s.logger.Info("refund rejected",
		zap.Int64("refund_id", refundID),
		zap.Int64("admin_id", adminID),
	)

	return decided, nil
}

func (s *Service) Get(ctx context.Context, refundID int64) (pgrepo.RefundRecord, error) {
	if s.refunds == nil {
		return pgrepo.RefundRecord{}, fmt.Errorf("refund dependencies are not configured")
	}
	if refundID <= 0 {
		return pgrepo.RefundRecord{}, ErrValidation
	}

	record, err := s.refunds.FindByID(ctx, refundID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrRefundNotFound) {
			return pgrepo.RefundRecord{}, ErrNotFound
		}
		return pgrepo.RefundRecord{}, err
	}

	return record, nil
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]pgrepo.RefundRecord, error) {
	if s.refunds == nil {
		return nil, fmt.Errorf("refund dependencies are not configured")
	}
	return s.refunds.ListPending(ctx, limit)
}

func (s *Service) ListForOrder(ctx context.Context, buyerID, orderID int64) ([]pgrepo.RefundRecord, error) {
	if s.refunds == nil || s.orders == nil {
		return nil, fmt.Errorf("refund dependencies are not configured")
	}
	if buyerID <= 0 || orderID <= 0 {
		return nil, ErrValidation
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, ErrOrderNotFound
	}

	return s.refunds.ListByOrder(ctx, orderID)
}

func mapDecisionError(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrRefundNotFound):
		return ErrNotFound
	case errors.Is(err, pgrepo.ErrRefundAlreadyDecided):
		return ErrAlreadyDecided
	default:
		return err
	}
}
