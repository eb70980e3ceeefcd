package orders

import "fmt"

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// PaymentStatus is the money state of an order.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentPartiallyPaid PaymentStatus = "partially-paid"
	PaymentFailed        PaymentStatus = "failed"
	PaymentRefunded      PaymentStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderShipped, OrderCancelled},
	OrderShipped:   {OrderDelivered},
	OrderDelivered: nil,
	OrderCancelled: nil,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:       {PaymentPaid, PaymentPartiallyPaid, PaymentFailed},
	PaymentFailed:        {PaymentPending, PaymentPaid, PaymentPartiallyPaid},
	PaymentPartiallyPaid: {PaymentPaid, PaymentRefunded},
	PaymentPaid:          {PaymentRefunded},
	PaymentRefunded:      nil,
}

// ParseOrderStatus rejects values outside the closed set.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := orderTransitions[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// ParsePaymentStatus rejects values outside the closed set.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(s)
	if _, ok := paymentTransitions[st]; !ok {
		return "", fmt.Errorf("unknown payment status %q", s)
	}
	return st, nil
}

// CanTransition reports whether the order status graph has an edge from -> to.
// Staying in the same status is not a transition.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether payment may move from -> to. Re-reporting
// the current status is allowed so gateway metadata can be refreshed.
func CanTransitionPayment(from, to PaymentStatus) bool {
	if from == to {
		return from != PaymentRefunded
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further order transition is possible.
func (s OrderStatus) Terminal() bool { return len(orderTransitions[s]) == 0 }

// Cancellable reports whether the order may be cancelled by the customer:
// the graph must allow it and no money may have moved.
func (s Status) Cancellable() bool {
	return s.PaymentStatus == PaymentPending && CanTransition(s.OrderStatus, OrderCancelled)
}
