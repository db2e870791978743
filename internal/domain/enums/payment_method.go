package enums

import "strings"

type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMethodCard:
		return PaymentMethodCard, true
	case PaymentMethodBankTransfer:
		return PaymentMethodBankTransfer, true
	default:
		return "", false
	}
}
