package dto

import "time"

type CheckoutRequest struct {
	CourseID int64  `json:"course_id"`
	Method   string `json:"method"`
	Contact  string `json:"contact,omitempty"`

	// Bank transfer only.
	DepositorName       string `json:"depositor_name,omitempty"`
	ExpectedDepositDate string `json:"expected_deposit_date,omitempty"`
}

type GatewayParamsResponse struct {
	OrderID  int64  `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	BuyerID  int64  `json:"buyer_id"`
	Contact  string `json:"contact,omitempty"`
}

type PayoutAccountResponse struct {
	Bank   string `json:"bank"`
	Number string `json:"number"`
	Holder string `json:"holder"`
}

type CheckoutResponse struct {
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	CourseID  int64  `json:"course_id"`
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
	Status    string `json:"status"`

	Gateway               *GatewayParamsResponse `json:"gateway,omitempty"`
	PayoutAccount         *PayoutAccountResponse `json:"payout_account,omitempty"`
	BankTransferRequestID int64                  `json:"bank_transfer_request_id,omitempty"`
}

type CaptureWebhookRequest struct {
	OrderID     int64  `json:"order_id"`
	ExternalRef string `json:"external_ref"`
	Amount      int64  `json:"amount"`
}

type CaptureWebhookResponse struct {
	OK           bool   `json:"ok"`
	OrderID      int64  `json:"order_id"`
	Status       string `json:"status"`
	EnrollmentID int64  `json:"enrollment_id,omitempty"`
	Idempotent   bool   `json:"idempotent"`
}

type OrderResponse struct {
	OrderID       int64      `json:"order_id"`
	CourseID      int64      `json:"course_id"`
	Amount        int64      `json:"amount"`
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type OrderListResponse struct {
	Orders []OrderSummary `json:"orders"`
}

type OrderSummary struct {
	OrderID   int64     `json:"order_id"`
	CourseID  int64     `json:"course_id"`
	Amount    int64     `json:"amount"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}
