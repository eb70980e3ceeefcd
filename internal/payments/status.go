package payments

import (
	"strings"

	"github.com/imrishuroy/go-order-reconciler/internal/orders"
)

// Outcome is what a gateway status code means for an order. An empty Order
// leaves the order status unchanged.
type Outcome struct {
	Payment orders.PaymentStatus
	Order   orders.OrderStatus
	Known   bool
}

// MapStatus maps a PayHere status_code. Unknown codes are failures, never
// successes.
func MapStatus(code string) Outcome {
	switch strings.TrimSpace(code) {
	case "2":
		return Outcome{Payment: orders.PaymentPaid, Order: orders.OrderConfirmed, Known: true}
	case "0":
		return Outcome{Payment: orders.PaymentPending, Known: true}
	case "-1":
		return Outcome{Payment: orders.PaymentFailed, Order: orders.OrderCancelled, Known: true}
	case "-2":
		return Outcome{Payment: orders.PaymentFailed, Known: true}
	case "-3":
		return Outcome{Payment: orders.PaymentRefunded, Known: true}
	default:
		return Outcome{Payment: orders.PaymentFailed}
	}
}
