package dto

import "time"

type BankTransferDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type BankTransferResponse struct {
	RequestID           int64      `json:"request_id"`
	OrderID             int64      `json:"order_id"`
	BuyerID             int64      `json:"buyer_id"`
	CourseID            int64      `json:"course_id"`
	Amount              int64      `json:"amount"`
	DepositorName       string     `json:"depositor_name"`
	ExpectedDepositDate time.Time  `json:"expected_deposit_date"`
	Status              string     `json:"status"`
	RejectionReason     *string    `json:"rejection_reason,omitempty"`
	DecidedBy           *int64     `json:"decided_by,omitempty"`
	DecidedAt           *time.Time `json:"decided_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type BankTransferListResponse struct {
	Requests []BankTransferResponse `json:"requests"`
}
