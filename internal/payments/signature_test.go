package payments

import (
	"strings"
	"testing"

	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/shopspring/decimal"
)

const (
	testMerchant = "1211149"
	testSecret   = "MzY1NjU2NjU2NTY1NjU2NTY1"
)

func signed(orderNumber, paymentID, amount, statusCode string) Notification {
	n := Notification{
		MerchantID:  testMerchant,
		OrderNumber: orderNumber,
		PaymentID:   paymentID,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "LKR",
		StatusCode:  statusCode,
		Method:      "VISA",
		CardNo:      "************1292",
		CardHolder:  "K PERERA",
		CardExpiry:  "12/27",
	}
	n.Signature = Sign(n.MerchantID, n.OrderNumber, n.Amount, n.Currency, n.StatusCode, testSecret)
	return n
}

func TestSign_Format(t *testing.T) {
	got := Sign(testMerchant, "ORD1", decimal.RequireFromString("2500"), "LKR", "2", testSecret)
	want := upperMD5(testMerchant + "ORD1" + "2500.00" + "LKR" + "2" + upperMD5(testSecret))
	if got != want {
		t.Fatalf("Sign() = %s, want %s", got, want)
	}
	if len(got) != 32 || strings.ToUpper(got) != got {
		t.Fatalf("expected 32 uppercase hex chars, got %q", got)
	}
}

func TestSign_KnownVector(t *testing.T) {
	// md5("") = d41d8cd98f00b204e9800998ecf8427e
	if got := upperMD5(""); got != "D41D8CD98F00B204E9800998ECF8427E" {
		t.Fatalf("upperMD5(\"\") = %s", got)
	}
}

func TestVerifySignature(t *testing.T) {
	n := signed("ORD1", "pay-1", "2500.00", "2")
	if !VerifySignature(n, testSecret) {
		t.Fatal("expected valid signature")
	}

	lower := n
	lower.Signature = strings.ToLower(n.Signature)
	if !VerifySignature(lower, testSecret) {
		t.Fatal("lowercase signature should verify")
	}

	mutated := n
	mutated.Amount = decimal.RequireFromString("25.00")
	if VerifySignature(mutated, testSecret) {
		t.Fatal("mutated amount must be rejected")
	}

	code := n
	code.StatusCode = "0"
	if VerifySignature(code, testSecret) {
		t.Fatal("mutated status code must be rejected")
	}

	if VerifySignature(n, "other-secret") {
		t.Fatal("wrong secret must be rejected")
	}
}

func TestVerifySignature_AmountTwoDecimals(t *testing.T) {
	// The gateway posts "2500.00"; a value parsed from "2500" must sign the same.
	a := signed("ORD1", "pay-1", "2500", "2")
	b := signed("ORD1", "pay-1", "2500.00", "2")
	if a.Signature != b.Signature {
		t.Fatalf("expected identical signatures, got %s and %s", a.Signature, b.Signature)
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		code    string
		payment orders.PaymentStatus
		order   orders.OrderStatus
		known   bool
	}{
		{"2", orders.PaymentPaid, orders.OrderConfirmed, true},
		{"0", orders.PaymentPending, "", true},
		{"-1", orders.PaymentFailed, orders.OrderCancelled, true},
		{"-2", orders.PaymentFailed, "", true},
		{"-3", orders.PaymentRefunded, "", true},
		{"7", orders.PaymentFailed, "", false},
		{"", orders.PaymentFailed, "", false},
	}
	for _, tt := range tests {
		got := MapStatus(tt.code)
		if got.Payment != tt.payment || got.Order != tt.order || got.Known != tt.known {
			t.Errorf("MapStatus(%q) = %+v", tt.code, got)
		}
	}
}

func TestCardLast4(t *testing.T) {
	tests := map[string]string{
		"************1292":    "1292",
		"4916 2170 3349 1292": "1292",
		"12":                  "12",
		"":                    "",
	}
	for in, want := range tests {
		if got := (Notification{CardNo: in}).CardLast4(); got != want {
			t.Errorf("CardLast4(%q) = %q, want %q", in, got, want)
		}
	}
}
