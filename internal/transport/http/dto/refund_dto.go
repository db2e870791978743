package dto

import "time"

type RefundRequestCreate struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`

	// Required for bank-transfer orders.
	BankName      string `json:"bank_name,omitempty"`
	AccountHolder string `json:"account_holder,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

type RefundDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RefundResponse struct {
	RefundID     int64      `json:"refund_id"`
	OrderID      int64      `json:"order_id"`
	Reason       string     `json:"reason"`
	RefundAmount int64      `json:"refund_amount"`
	Status       string     `json:"status"`
	Open         bool       `json:"open"`
	RequestedAt  time.Time  `json:"requested_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	RejectReason *string    `json:"reject_reason,omitempty"`
}

type RefundListResponse struct {
	Refunds []RefundResponse `json:"refunds"`
}
