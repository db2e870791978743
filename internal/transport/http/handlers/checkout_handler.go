package handlers

import (
	"errors"
	"net/http"
	"time"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	checkoutsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/checkout"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/dto"
	httperrors "github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/errors"
)

type CheckoutHandler struct {
	checkout *checkoutsvc.Service
	orders   *pgrepo.OrderRepo
}

func NewCheckoutHandler(checkout *checkoutsvc.Service, orders *pgrepo.OrderRepo) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		orders:   orders,
	}
}

func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.checkout == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	var req dto.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	input := checkoutsvc.InitiateInput{
		BuyerID:       identity.UserID,
		CourseID:      req.CourseID,
		Method:        req.Method,
		Contact:       req.Contact,
		DepositorName: req.DepositorName,
	}
	if req.ExpectedDepositDate != "" {
		date, err := time.Parse("2006-01-02", req.ExpectedDepositDate)
		if err != nil {
			writeBadRequest(w, "VALIDATION_ERROR", "expected_deposit_date must be YYYY-MM-DD")
			return
		}
		input.ExpectedDepositDate = date
	}

	result, err := h.checkout.Initiate(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, checkoutsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid checkout payload")
		case errors.Is(err, checkoutsvc.ErrCourseNotFound):
			writeNotFound(w, "COURSE_NOT_FOUND", "course not found")
		case errors.Is(err, checkoutsvc.ErrCourseNotPurchasable):
			writeConflict(w, "COURSE_NOT_PURCHASABLE", "course is not open for purchase")
		case errors.Is(err, checkoutsvc.ErrAlreadyEnrolled):
			writeConflict(w, "ALREADY_ENROLLED", "you already own this course")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to start checkout")
		}
		return
	}

	resp := dto.CheckoutResponse{
		OrderID:   result.OrderID,
		PaymentID: result.PaymentID,
		CourseID:  result.CourseID,
		Amount:    result.Amount,
		Method:    string(result.Method),
		Status:    string(result.Status),
	}
	if result.Gateway != nil {
		resp.Gateway = &dto.GatewayParamsResponse{
			OrderID:  result.Gateway.OrderID,
			Amount:   result.Gateway.Amount,
			Currency: result.Gateway.Currency,
			BuyerID:  result.Gateway.BuyerID,
			Contact:  result.Gateway.Contact,
		}
	}
	if result.PayoutAccount != nil {
		resp.PayoutAccount = &dto.PayoutAccountResponse{
			Bank:   result.PayoutAccount.Bank,
			Number: result.PayoutAccount.Number,
			Holder: result.PayoutAccount.Holder,
		}
		resp.BankTransferRequestID = result.BankTransferRequestID
	}

	httperrors.Write(w, http.StatusCreated, resp)
}

// Webhook is the gateway's capture confirmation endpoint. It is not
// behind user auth; the route guards it with the webhook secret.
func (h *CheckoutHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	var req dto.CaptureWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.checkout.ConfirmCapture(r.Context(), req.OrderID, req.ExternalRef, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, checkoutsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid webhook payload")
		case errors.Is(err, checkoutsvc.ErrOrderNotFound):
			writeNotFound(w, "ORDER_NOT_FOUND", "order not found")
		case errors.Is(err, checkoutsvc.ErrAmountMismatch):
			writeConflict(w, "AMOUNT_MISMATCH", "reported amount does not match the order")
		case errors.Is(err, checkoutsvc.ErrPaymentConflict):
			writeConflict(w, "PAYMENT_CONFLICT", "payment already decided")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to process capture")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CaptureWebhookResponse{
		OK:           true,
		OrderID:      result.OrderID,
		Status:       string(result.Status),
		EnrollmentID: result.EnrollmentID,
		Idempotent:   result.AlreadyProcessed,
	})
}

func (h *CheckoutHandler) Order(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	orderID, ok := pathID(r, "orderID")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid order id")
		return
	}
	if h.checkout == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	order, payment, err := h.checkout.PaymentForOrder(r.Context(), identity.UserID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, checkoutsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid order id")
		case errors.Is(err, checkoutsvc.ErrOrderNotFound):
			writeNotFound(w, "ORDER_NOT_FOUND", "order not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load order")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.OrderResponse{
		OrderID:       order.ID,
		CourseID:      order.CourseID,
		Amount:        order.Amount,
		Method:        order.Method,
		Status:        payment.Status,
		FailureReason: payment.FailureReason,
		PaidAt:        payment.PaidAt,
		CreatedAt:     order.CreatedAt,
	})
}

func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.orders == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	records, err := h.orders.ListByBuyer(r.Context(), identity.UserID, queryLimit(r))
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load orders")
		return
	}

	resp := dto.OrderListResponse{Orders: make([]dto.OrderSummary, 0, len(records))}
	for _, record := range records {
		resp.Orders = append(resp.Orders, dto.OrderSummary{
			OrderID:   record.ID,
			CourseID:  record.CourseID,
			Amount:    record.Amount,
			Method:    record.Method,
			CreatedAt: record.CreatedAt,
		})
	}

	httperrors.Write(w, http.StatusOK, resp)
}
