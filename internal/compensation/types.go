// Package compensation records and runs corrective actions that must not be
// lost when they fail: restoring stock after a cancellation and crediting a
// customer after a payment. Every action leaves a record whose status can be
// queried and retried.
package compensation

import (
	"errors"
	"strconv"
	"time"
)

type Kind string

const (
	KindInventoryRestore Kind = "inventory.restore"
	KindCustomerCredit   Kind = "customer.credit"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrPermanent marks a handler failure that a retry cannot fix, such as an
// order item whose variant no longer exists. Such records are kept as failed
// but not queued.
var ErrPermanent = errors.New("permanent compensation failure")

// Record is the document stored in the compensations table.
type Record struct {
	ActionID    string  `dynamodbav:"action_id"` // PK
	Kind        Kind    `dynamodbav:"kind"`
	OrderNumber string  `dynamodbav:"order_number"`
	Payload     Payload `dynamodbav:"payload"`
	Status      Status  `dynamodbav:"status"`
	Attempts    int     `dynamodbav:"attempts"`
	LastError   string  `dynamodbav:"last_error,omitempty"`

	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	Version   int64     `dynamodbav:"version"`
}

// Payload carries the inputs of an action. Only the fields of the record's
// kind are set.
type Payload struct {
	// inventory.restore
	ProductID string `dynamodbav:"product_id,omitempty"`
	VariantID string `dynamodbav:"variant_id,omitempty"`
	SKU       string `dynamodbav:"sku,omitempty"`
	Quantity  int    `dynamodbav:"quantity,omitempty"`

	// customer.credit
	Email     string     `dynamodbav:"email,omitempty"`
	PaymentID string     `dynamodbav:"payment_id,omitempty"`
	Amount    int64      `dynamodbav:"amount,omitempty"`
	PaidAt    *time.Time `dynamodbav:"paid_at,omitempty"`
}

// Succeeded returns the record as it should be stored once the action has
// been applied.
func (r Record) Succeeded(now time.Time) Record {
	r.Status = StatusSucceeded
	r.Attempts++
	r.LastError = ""
	r.UpdatedAt = now.UTC()
	r.Version++
	return r
}

func (r Record) failed(now time.Time, err error) Record {
	r.Status = StatusFailed
	r.Attempts++
	r.LastError = err.Error()
	r.UpdatedAt = now.UTC()
	r.Version++
	return r
}

// InventoryActionID is the stable action id for restoring line index of an order.
func InventoryActionID(orderNumber string, index int) string {
	return orderNumber + "#inventory#" + strconv.Itoa(index)
}

// CreditActionID is the stable action id for crediting a payment.
func CreditActionID(orderNumber, paymentID string) string {
	return orderNumber + "#credit#" + paymentID
}
