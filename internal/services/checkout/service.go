package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/enums"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/model"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/infra/metrics"
	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrCourseNotFound       = errors.New("course not found")
	ErrCourseNotPurchasable = errors.New("course is not purchasable")
	ErrAlreadyEnrolled      = errors.New("buyer already enrolled in course")
	ErrOrderNotFound        = errors.New("order not found")
	ErrAmountMismatch       = errors.New("gateway amount does not match order amount")
	ErrPaymentConflict      = errors.New("payment already in a conflicting terminal status")
)

type CourseStore interface {
	FindByID(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error)
}

type OrderStore interface {
	CreateWithPaymentTx(ctx context.Context, tx pgx.Tx, buyerID, courseID, amount int64, method string) (pgrepo.OrderRecord, pgrepo.PaymentRecord, error)
	FindByID(ctx context.Context, orderID int64) (pgrepo.OrderRecord, error)
}

type PaymentStore interface {
	FindByOrderID(ctx context.Context, orderID int64) (pgrepo.PaymentRecord, error)
	CompleteTx(ctx context.Context, tx pgx.Tx, orderID int64, externalRef string, paidAt time.Time) (pgrepo.PaymentRecord, bool, error)
	FailTx(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (pgrepo.PaymentRecord, bool, error)
}

type BankTransferStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, paymentID int64, depositorName string, expectedDepositDate time.Time) (pgrepo.BankTransferRecord, error)
}

type EnrollmentStore interface {
	FindActive(ctx context.Context, userID, courseID int64) (pgrepo.EnrollmentRecord, error)
	GrantTx(ctx context.Context, tx pgx.Tx, userID, courseID int64, enrolledAt time.Time, expiresAt *time.Time) (pgrepo.EnrollmentRecord, bool, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

type Notifier interface {
	PaymentCompleted(ctx context.Context, buyerID, orderID, courseID, amount int64) error
	PaymentFailed(ctx context.Context, buyerID, orderID, courseID int64, reason string) error
}

type Config struct {
	Currency      string
	PayoutAccount model.PayoutAccount
}

// Service is the checkout orchestrator: it opens the order/payment
// ledger entry, hands card orders to the gateway via returned
// parameters, routes bank transfers into the review queue, and finishes
// card captures when the gateway confirms.
type Service struct {
	courses       CourseStore
	orders        OrderStore
	payments      PaymentStore
	bankTransfers BankTransferStore
	enrollments   EnrollmentStore
	tx            TxRunner
	notifier      Notifier
	metrics       *metrics.Metrics
	logger        *zap.Logger
	cfg           Config
	now           func() time.Time
}

type Dependencies struct {
	Courses       CourseStore
	Orders        OrderStore
	Payments      PaymentStore
	BankTransfers BankTransferStore
	Enrollments   EnrollmentStore
	Tx            TxRunner
}

type InitiateInput struct {
	BuyerID  int64
	CourseID int64
	Method   string
	Contact  string

	// Bank transfer only.
	DepositorName       string
	ExpectedDepositDate time.Time
}

// GatewayParams is what the browser hands to the gateway SDK for card
// orders. The orchestrator never calls the gateway itself.
type GatewayParams struct {
	OrderID  int64
	Amount   int64
	Currency string
	BuyerID  int64
	Contact  string
}

type InitiateResult struct {
	OrderID   int64
	PaymentID int64
	CourseID  int64
	Amount    int64
	Method    enums.PaymentMethod
	Status    enums.PaymentStatus

	// Card orders carry the gateway hand-off parameters.
	Gateway *GatewayParams

	// Bank transfer orders carry the account to deposit to and the id
	// of the review-queue entry.
	PayoutAccount         *model.PayoutAccount
	BankTransferRequestID int64
}

type CaptureResult struct {
	OrderID          int64
	Status           enums.PaymentStatus
	EnrollmentID     int64
	AlreadyProcessed bool
}

func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		courses:       deps.Courses,
		orders:        deps.Orders,
		payments:      deps.Payments,
		bankTransfers: deps.BankTransfers,
		enrollments:   deps.Enrollments,
		tx:            deps.Tx,
		logger:        logger,
		cfg:           cfg,
		now:           time.Now,
	}
}

func (s *Service) AttachNotifier(notifier Notifier) {
	s.notifier = notifier
}

func (s *Service) AttachMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	if s.courses == nil || s.orders == nil || s.tx == nil {
		return InitiateResult{}, fmt.Errorf("checkout dependencies are not configured")
	}
	if in.BuyerID <= 0 || in.CourseID <= 0 {
		return InitiateResult{}, ErrValidation
	}

	method, ok := enums.ParsePaymentMethod(in.Method)
	if !ok {
		return InitiateResult{}, ErrValidation
	}
	if method == enums.PaymentMethodBankTransfer {
		if strings.TrimSpace(in.DepositorName) == "" || in.ExpectedDepositDate.IsZero() {
			return InitiateResult{}, ErrValidation
		}
		if s.bankTransfers == nil {
			return InitiateResult{}, fmt.Errorf("bank transfer store is nil")
		}
		// Without a configured payout account there is nowhere to tell
		// the buyer to send the money.
		if s.cfg.PayoutAccount.Empty() {
			return InitiateResult{}, fmt.Errorf("payout account is not configured")
		}
	}

	course, err := s.courses.FindByID(ctx, in.CourseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrCourseNotFound) {
			return InitiateResult{}, ErrCourseNotFound
		}
		return InitiateResult{}, err
	}
	if !course.Model().Purchasable() {
		return InitiateResult{}, ErrCourseNotPurchasable
	}

	if s.enrollments != nil {
		enrollment, err := s.enrollments.FindActive(ctx, in.BuyerID, in.CourseID)
		if err == nil && enrollment.Model().ActiveAt(s.now().UTC()) {
			return InitiateResult{}, ErrAlreadyEnrolled
		}
		if err != nil && !errors.Is(err, pgrepo.ErrEnrollmentNotFound) {
			return InitiateResult{}, err
		}
	}

	var (
		order    pgrepo.OrderRecord
		payment  pgrepo.PaymentRecord
		transfer pgrepo.BankTransferRecord
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var txErr error
		order, payment, txErr = s.orders.CreateWithPaymentTx(ctx, tx, in.BuyerID, in.CourseID, course.Price, string(method))
		if txErr != nil {
			return txErr
		}

		if method == enums.PaymentMethodBankTransfer {
			transfer, txErr = s.bankTransfers.CreateTx(ctx, tx, payment.ID, in.DepositorName, in.ExpectedDepositDate)
			if txErr != nil {
				return txErr
			}
		}

		return nil
	})
	if err != nil {
		return InitiateResult{}, err
	}

	result := InitiateResult{
		OrderID:   order.ID,
		PaymentID: payment.ID,
		CourseID:  order.CourseID,
		Amount:    order.Amount,
		Method:    method,
		Status:    enums.PaymentStatus(payment.Status),
	}

	switch method {
	case enums.PaymentMethodCard:
		result.Gateway = &GatewayParams{
			OrderID:  order.ID,
			Amount:   order.Amount,
			Currency: s.cfg.Currency,
			BuyerID:  order.BuyerID,
			Contact:  strings.TrimSpace(in.Contact),
		}
	case enums.PaymentMethodBankTransfer:
		account := s.cfg.PayoutAccount
		result.PayoutAccount = &account
		result.BankTransferRequestID = transfer.ID
	}

	s.logger.Info("checkout initiated",
		zap.Int64("order_id", order.ID),
		zap.Int64("buyer_id", order.BuyerID),
		zap.Int64("course_id", order.CourseID),
		zap.Int64("amount", order.Amount),
		zap.String("method", string(method)),
	)

	return result, nil
}

// ConfirmCapture finishes a card order from the gateway's asynchronous
// confirmation channel. It is idempotent on orderID: replayed webhooks
// against a completed payment return success without side effects. A
// reported amount that disagrees with the order is an integrity failure;
// the payment is failed and the discrepancy surfaced, never absorbed.
func (s *Service) ConfirmCapture(ctx context.Context, orderID int64, externalRef string, reportedAmount int64) (CaptureResult, error) {
	if s.courses == nil || s.orders == nil || s.payments == nil || s.enrollments == nil || s.tx == nil {
		return CaptureResult{}, fmt.Errorf("checkout dependencies are not configured")
	}
	externalRef = strings.TrimSpace(externalRef)
	if orderID <= 0 || externalRef == "" || reportedAmount <= 0 {
		return CaptureResult{}, ErrValidation
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrOrderNotFound) {
			return CaptureResult{}, ErrOrderNotFound
		}
		return CaptureResult{}, err
	}

	if reportedAmount != order.Amount {
		return s.failMismatch(ctx, order, externalRef, reportedAmount)
	}

	course, err := s.courses.FindByID(ctx, order.CourseID)
	if err != nil {
		return CaptureResult{}, err
	}

	now := s.now().UTC()
	var (
		payment    pgrepo.PaymentRecord
		changed    bool
		enrollment pgrepo.EnrollmentRecord
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var txErr error
		payment, changed, txErr = s.payments.CompleteTx(ctx, tx, order.ID, externalRef, now)
		if txErr != nil {
			return txErr
		}

		// Granting inside the same transaction keeps "money taken but no
		// access" unobservable; replays re-run the idempotent grant.
		enrollment, _, txErr = s.enrollments.GrantTx(ctx, tx, order.BuyerID, order.CourseID, now, enrollmentExpiry(course, now))
		return txErr
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentTerminal) {
			return CaptureResult{}, ErrPaymentConflict
		}
		return CaptureResult{}, err
	}

	if changed {
		if s.metrics != nil {
			s.metrics.PaymentsCompleted.WithLabelValues(string(order.Method)).Inc()
		}
		if s.notifier != nil {
			_ = s.notifier.PaymentCompleted(ctx, order.BuyerID, order.ID, order.CourseID, order.Amount)
		}
		s.logger.Info("card capture confirmed",
			zap.Int64("order_id", order.ID),
			zap.String("external_ref", externalRef),
		)
	}

	return CaptureResult{
		OrderID:          order.ID,
		Status:           enums.PaymentStatus(payment.Status),
		EnrollmentID:     enrollment.ID,
		AlreadyProcessed: !changed,
	}, nil
}

func (s *Service) failMismatch(ctx context.Context, order pgrepo.OrderRecord, externalRef string, reportedAmount int64) (CaptureResult, error) {
	reason := fmt.Sprintf("amount mismatch: gateway reported %d, order amount %d", reportedAmount, order.Amount)

	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, _, txErr := s.payments.FailTx(ctx, tx, order.ID, reason)
		return txErr
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentTerminal) {
			return CaptureResult{}, ErrPaymentConflict
		}
		return CaptureResult{}, err
	}

	if s.metrics != nil {
		s.metrics.AmountMismatches.Inc()
		s.metrics.PaymentsFailed.WithLabelValues(string(order.Method), "amount_mismatch").Inc()
	}
	if s.notifier != nil {
		_ = s.notifier.PaymentFailed(ctx, order.BuyerID, order.ID, order.CourseID, "amount mismatch")
	}
	s.logger.Error("gateway amount mismatch",
		zap.Int64("order_id", order.ID),
		zap.String("external_ref", externalRef),
		zap.Int64("order_amount", order.Amount),
		zap.Int64("reported_amount", reportedAmount),
	)

	return CaptureResult{}, ErrAmountMismatch
}

// PaymentForOrder powers the buyer's order status page.
func (s *Service) PaymentForOrder(ctx context.Context, buyerID, orderID int64) (pgrepo.OrderRecord, pgrepo.PaymentRecord, error) {
	if s.orders == nil || s.payments == nil {
		return pgrepo.OrderRecord{}, pgrepo.PaymentRecord{}, fmt.Errorf("checkout dependencies are not configured")
	}
	if buyerID <= 0 || orderID <= 0 {
		return pgrepo.OrderRecord{}, pgrepo.PaymentRecord{}, ErrValidation
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrOrderNotFound) {
			return pgrepo.OrderRecord{}, pgrepo.PaymentRecord{}, ErrOrderNotFound
		}
		return pgrepo.OrderRecord{}, pgrepo.PaymentRecord{}, err
	}
	if order.BuyerID != buyerID {
		return pgrepo.OrderRecord{}, pgrepo.PaymentRecord{}, ErrOrderNotFound
	}

	payment, err := s.payments.FindByOrderID(ctx, orderID)
	if err != nil {
		return pgrepo.OrderRecord{}, pgrepo.PaymentRecord{}, err
	}

	return order, payment, nil
}

func enrollmentExpiry(course pgrepo.CourseRecord, from time.Time) *time.Time {
	if course.AccessDays <= 0 {
		return nil
	}
	expires := from.Add(time.Duration(course.AccessDays) * 24 * time.Hour)
	return &expires
}
