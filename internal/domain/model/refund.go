package model

// PayoutAccount is where a bank-transfer refund sends the money back.
// Card refunds reverse through the gateway and leave it empty.
type PayoutAccount struct {
	Bank   string `json:"bank_name"`
	Holder string `json:"account_holder"`
	Number string `json:"account_number"`
}

func (a PayoutAccount) Empty() bool {
	return a.Bank == "" && a.Holder == "" && a.Number == ""
}
