package enums

type BankTransferStatus string

const (
	BankTransferStatusPending  BankTransferStatus = "pending"
	BankTransferStatusApproved BankTransferStatus = "approved"
	BankTransferStatusRejected BankTransferStatus = "rejected"
)

func (s BankTransferStatus) Decided() bool {
	return s == BankTransferStatusApproved || s == BankTransferStatusRejected
}
