// Package payments terminates PayHere payment notifications: it checks their
// signature, maps gateway status codes onto order statuses and reconciles
// the order.
package payments

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// Sign computes the notification signature the gateway sends as md5sig:
//
//	upper(md5(merchant_id + order_id + amount + currency + status_code + upper(md5(secret))))
//
// amount is rendered with exactly two decimals and no separators.
func Sign(merchantID, orderNumber string, amount decimal.Decimal, currency, statusCode, secret string) string {
	return upperMD5(merchantID + orderNumber + amount.StringFixed(2) + currency + statusCode + upperMD5(secret))
}

// CheckoutHash is the hash the storefront posts to the gateway's checkout
// page. It is Sign without the status code.
func CheckoutHash(merchantID, orderNumber string, amount decimal.Decimal, currency, secret string) string {
	return upperMD5(merchantID + orderNumber + amount.StringFixed(2) + currency + upperMD5(secret))
}

// VerifySignature reports whether n carries a valid signature for secret.
func VerifySignature(n Notification, secret string) bool {
	expected := Sign(n.MerchantID, n.OrderNumber, n.Amount, n.Currency, n.StatusCode, secret)
	got := strings.ToUpper(strings.TrimSpace(n.Signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

func upperMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
