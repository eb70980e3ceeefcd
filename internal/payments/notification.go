package payments

import (
	"unicode"

	"github.com/shopspring/decimal"
)

// Notification is one server-to-server payment notification from the gateway.
type Notification struct {
	MerchantID  string
	OrderNumber string
	PaymentID   string
	Amount      decimal.Decimal
	Currency    string
	StatusCode  string
	Signature   string

	Method     string
	CardNo     string
	CardHolder string
	CardExpiry string
	Custom1    string
	Custom2    string
}

// CardLast4 returns the last four digits of the (already masked) card number
// the gateway reports. Nothing else of the number is kept.
func (n Notification) CardLast4() string {
	digits := make([]rune, 0, 4)
	for i := len(n.CardNo) - 1; i >= 0 && len(digits) < 4; i-- {
		r := rune(n.CardNo[i])
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
