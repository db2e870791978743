package handlers

import (
	"errors"
	"net/http"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
	authsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/auth"
	btsvc "github.com/captain-yun7/private-lms-v1-sub000/internal/services/banktransfer"
	"github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/dto"
	httperrors "github.com/captain-yun7/private-lms-v1-sub000/internal/transport/http/errors"
)

// BankTransferHandler is the admin review queue surface. Routes mount
// it behind the admin-role middleware.
type BankTransferHandler struct {
	transfers *btsvc.Service
}

func NewBankTransferHandler(transfers *btsvc.Service) *BankTransferHandler {
	return &BankTransferHandler{transfers: transfers}
}

func (h *BankTransferHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if h.transfers == nil {
		writeInternal(w, "BANK_TRANSFER_SERVICE_UNAVAILABLE", "bank transfer service is unavailable")
		return
	}

	records, err := h.transfers.ListPending(r.Context(), queryLimit(r))
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load review queue")
		return
	}

	resp := dto.BankTransferListResponse{Requests: make([]dto.BankTransferResponse, 0, len(records))}
	for _, record := range records {
		resp.Requests = append(resp.Requests, bankTransferResponse(record))
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *BankTransferHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *BankTransferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *BankTransferHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	requestID, ok := pathID(r, "requestID")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request id")
		return
	}
	if h.transfers == nil {
		writeInternal(w, "BANK_TRANSFER_SERVICE_UNAVAILABLE", "bank transfer service is unavailable")
		return
	}

	var (
		record pgrepo.BankTransferRecord
		err    error
	)
	if approve {
		record, err = h.transfers.Approve(r.Context(), requestID, identity.UserID)
	} else {
		var req dto.BankTransferDecisionRequest
		if decodeErr := decodeJSON(r, &req); decodeErr != nil {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
			return
		}
		record, err = h.transfers.Reject(r.Context(), requestID, identity.UserID, req.Reason)
	}
	if err != nil {
		switch {
		case errors.Is(err, btsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid decision payload")
		case errors.Is(err, btsvc.ErrReasonTooShort):
			writeBadRequest(w, "REASON_TOO_SHORT", "rejection reason is too short")
		case errors.Is(err, btsvc.ErrNotFound):
			writeNotFound(w, "BANK_TRANSFER_NOT_FOUND", "bank transfer request not found")
		case errors.Is(err, btsvc.ErrAlreadyDecided):
			writeConflict(w, "ALREADY_DECIDED", "request already decided")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to decide bank transfer request")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, bankTransferResponse(record))
}

func bankTransferResponse(record pgrepo.BankTransferRecord) dto.BankTransferResponse {
	return dto.BankTransferResponse{
		RequestID:           record.ID,
		OrderID:             record.OrderID,
		BuyerID:             record.BuyerID,
		CourseID:            record.CourseID,
		Amount:              record.Amount,
		DepositorName:       record.DepositorName,
		ExpectedDepositDate: record.ExpectedDepositDate,
		Status:              record.Status,
		RejectionReason:     record.RejectionReason,
		DecidedBy:           record.DecidedBy,
		DecidedAt:           record.DecidedAt,
		CreatedAt:           record.CreatedAt,
	}
}
