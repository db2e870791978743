package handlers

import (
	"errors"
	"net/http"

	"github.com/captain-yun7/private-lms-v1-sub000/internal/domain/enums"
	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	refundsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/refunds"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/dto"
	httperrors "github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/errors"
)

type RefundHandler struct {
	refunds *refundsvc.Service
}

func NewRefundHandler(refunds *refundsvc.Service) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

func (h *RefundHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.refunds == nil {
		writeInternal(w, "REFUND_SERVICE_UNAVAILABLE", "refund service is unavailable")
		return
	}

	var req dto.RefundRequestCreate
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, err := h.refunds.Request(r.Context(), refundsvc.RequestInput{
		BuyerID:       identity.UserID,
		OrderID:       req.OrderID,
		Reason:        req.Reason,
		BankName:      req.BankName,
		AccountHolder: req.AccountHolder,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		switch {
		case errors.Is(err, refundsvc.ErrValidation), errors.Is(err, refundsvc.ErrReasonTooShort):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid refund payload")
		case errors.Is(err, refundsvc.ErrPayoutRequired):
			writeBadRequest(w, "PAYOUT_ACCOUNT_REQUIRED", "bank transfer refunds need a payout account")
		case errors.Is(err, refundsvc.ErrOrderNotFound):
			writeNotFound(w, "ORDER_NOT_FOUND", "order not found")
		case errors.Is(err, refundsvc.ErrNotRefundable):
			writeConflict(w, "NOT_REFUNDABLE", "order is not refundable")
		case errors.Is(err, refundsvc.ErrOutsideWindow):
			writeConflict(w, "OUTSIDE_REFUND_WINDOW", "order is past the refund window")
		case errors.Is(err, refundsvc.ErrAlreadyOpen):
			writeConflict(w, "REFUND_ALREADY_OPEN", "an open refund request already exists")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to create refund request")
		}
		return
	}

	httperrors.Write(w, http.StatusCreated, refundResponse(record))
}

func (h *RefundHandler) ListForOrder(w http.ResponseWriter, r *http.Request) {
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
	if h.refunds == nil {
		writeInternal(w, "REFUND_SERVICE_UNAVAILABLE", "refund service is unavailable")
		return
	}

	records, err := h.refunds.ListForOrder(r.Context(), identity.UserID, orderID)
	if err != nil {
		switch {
		case errors.Is(err, refundsvc.ErrOrderNotFound):
			writeNotFound(w, "ORDER_NOT_FOUND", "order not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load refund requests")
		}
		return
	}

	resp := dto.RefundListResponse{Refunds: make([]dto.RefundResponse, 0, len(records))}
	for _, record := range records {
		resp.Refunds = append(resp.Refunds, refundResponse(record))
	}

	httperrors.Write(w, http.StatusOK, resp)
}

// Admin surface below; routes mount these behind the admin middleware.

func (h *RefundHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if h.refunds == nil {
		writeInternal(w, "REFUND_SERVICE_UNAVAILABLE", "refund service is unavailable")
		return
	}

	records, err := h.refunds.ListPending(r.Context(), queryLimit(r))
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load pending refunds")
		return
	}

	resp := dto.RefundListResponse{Refunds: make([]dto.RefundResponse, 0, len(records))}
	for _, record := range records {
		resp.Refunds = append(resp.Refunds, refundResponse(record))
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *RefundHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *RefundHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *RefundHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	refundID, ok := pathID(r, "refundID")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid refund id")
		return
	}
	if h.refunds == nil {
		writeInternal(w, "REFUND_SERVICE_UNAVAILABLE", "refund service is unavailable")
		return
	}

	var (
		record pgrepo.RefundRecord
		err    error
	)
	if approve {
		record, err = h.refunds.Approve(r.Context(), refundID, identity.UserID)
	} else {
		var req dto.RefundDecisionRequest
		if decodeErr := decodeJSON(r, &req); decodeErr != nil {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
			return
		}
		record, err = h.refunds.Reject(r.Context(), refundID, identity.UserID, req.Reason)
	}
	if err != nil {
		switch {
		case errors.Is(err, refundsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid decision payload")
		case errors.Is(err, refundsvc.ErrReasonTooShort):
			writeBadRequest(w, "REASON_TOO_SHORT", "rejection reason is too short")
		case errors.Is(err, refundsvc.ErrNotFound):
			writeNotFound(w, "REFUND_NOT_FOUND", "refund request not found")
		case errors.Is(err, refundsvc.ErrAlreadyDecided):
			writeConflict(w, "ALREADY_DECIDED", "refund request already decided")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to decide refund request")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, refundResponse(record))
}

func refundResponse(record pgrepo.RefundRecord) dto.RefundResponse {
	return dto.RefundResponse{
		RefundID:     record.ID,
		OrderID:      record.OrderID,
		Reason:       record.Reason,
		RefundAmount: record.RefundAmount,
		Status:       record.Status,
		Open:         enums.RefundStatus(record.Status).Open(),
		RequestedAt:  record.RequestedAt,
		ProcessedAt:  record.ProcessedAt,
		RejectReason: record.RejectReason,
	}
}
