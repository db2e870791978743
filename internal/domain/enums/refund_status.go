package enums

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusCompleted RefundStatus = "completed"
)

func (s RefundStatus) Decided() bool {
	return s != RefundStatusPending
}

// Open reports whether the refund still blocks a new request for the same
// purchase. Rejected refunds do not: the buyer may file again.
func (s RefundStatus) Open() bool {
	return s == RefundStatusPending || s == RefundStatusApproved
}
