package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
	"github.com/imrishuroy/go-order-reconciler/internal/money"
	"github.com/imrishuroy/go-order-reconciler/internal/orderlock"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/sirupsen/logrus"
)

// EventPaymentUpdated is published after a notification changed an order.
const EventPaymentUpdated = "order.payment_updated"

const maxAttempts = 5

// Result says what a notification did to its order.
type Result string

const (
	// ResultApplied: the order was updated.
	ResultApplied Result = "applied"
	// ResultDuplicate: the same payment id and status code were already applied.
	ResultDuplicate Result = "duplicate"
	// ResultIgnored: the payment status would regress, e.g. a late pending after paid.
	ResultIgnored Result = "ignored"
)

type OrderStore interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
	Replace(ctx context.Context, order orders.Order) (orders.Order, error)
}

type CompensationRunner interface {
	Run(ctx context.Context, rec compensation.Record) (compensation.Record, error)
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, eventType string, v interface{}, attributes map[string]string) error
}

// Adapter reconciles orders with gateway notifications.
type Adapter struct {
	orders     OrderStore
	credits    CompensationRunner
	events     EventPublisher
	locker     orderlock.Locker
	merchantID string
	secret     string
	log        logrus.FieldLogger
	nowFunc    func() time.Time
}

func NewAdapter(store OrderStore, credits CompensationRunner, events EventPublisher, locker orderlock.Locker, merchantID, secret string, log logrus.FieldLogger) *Adapter {
	return &Adapter{
		orders:     store,
		credits:    credits,
		events:     events,
		locker:     locker,
		merchantID: merchantID,
		secret:     secret,
		log:        log,
		nowFunc:    time.Now,
	}
}

// PaymentUpdatedEvent is the body of an order.payment_updated message.
type PaymentUpdatedEvent struct {
	OrderNumber   string `json:"order_number"`
	PaymentID     string `json:"payment_id"`
	StatusCode    string `json:"status_code"`
	PaymentStatus string `json:"payment_status"`
	OrderStatus   string `json:"order_status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// Reconcile authenticates n and applies it to its order. Errors carry an
// apperr kind: Unauthenticated for a bad signature, NotFound for an unknown
// order and Unavailable when the order is locked by another writer.
func (a *Adapter) Reconcile(ctx context.Context, n Notification) (Result, error) {
	log := a.log.WithFields(logrus.Fields{
		"order_number": n.OrderNumber,
		"payment_id":   n.PaymentID,
		"status_code":  n.StatusCode,
	})

	if n.MerchantID != a.merchantID || !VerifySignature(n, a.secret) {
		log.Warn("payment notification with invalid signature")
		return "", apperr.Unauthenticated("Invalid signature")
	}

	outcome := MapStatus(n.StatusCode)
	if !outcome.Known {
		log.Warn("unexpected gateway status code, treating as failed")
	}
	amount, err := money.Cents(n.Amount)
	if err != nil {
		return "", apperr.Validation("invalid amount", map[string]string{"payhere_amount": err.Error()})
	}

	orderNumber := orders.NormalizeOrderNumber(n.OrderNumber)
	token, err := a.locker.Acquire(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, orderlock.ErrBusy) {
			return "", apperr.Unavailable("order is being updated", err)
		}
		return "", apperr.Internal("lock order", err)
	}
	defer func() {
		if err := a.locker.Release(context.WithoutCancel(ctx), orderNumber, token); err != nil {
			log.WithError(err).Warn("release order lock")
		}
	}()

	var (
		prior orders.Order
		saved orders.Order
	)
	for attempt := 0; ; attempt++ {
		if attempt == maxAttempts {
			return "", apperr.Internal("order update contention", orders.ErrVersionConflict)
		}
		current, err := a.orders.Get(ctx, orderNumber)
		if err != nil {
			return "", apperr.Internal("load order", err)
		}
		if current == nil {
			log.Warn("payment notification for unknown order")
			return "", apperr.NotFound("order not found")
		}
		prior = *current

		if prior.Gateway.PaymentID == n.PaymentID && prior.Gateway.StatusCode == n.StatusCode {
			log.Info("duplicate payment notification")
			return ResultDuplicate, nil
		}
		if !orders.CanTransitionPayment(prior.Status.PaymentStatus, outcome.Payment) {
			log.WithFields(logrus.Fields{
				"from": prior.Status.PaymentStatus,
				"to":   outcome.Payment,
			}).Warn("payment status transition not allowed, ignoring notification")
			return ResultIgnored, nil
		}

		next := a.apply(prior, n, outcome, amount, log)
		saved, err = a.orders.Replace(ctx, next)
		if errors.Is(err, orders.ErrVersionConflict) {
			log.WithField("attempt", attempt+1).Debug("order changed, re-evaluating notification")
			continue
		}
		if err != nil {
			return "", apperr.Internal("save order", err)
		}
		break
	}

	log.WithFields(logrus.Fields{
		"payment_status": saved.Status.PaymentStatus,
		"order_status":   saved.Status.OrderStatus,
	}).Info("payment notification applied")

	if outcome.Payment == orders.PaymentPaid && prior.Status.PaymentStatus != orders.PaymentPaid {
		a.credit(ctx, saved, n.PaymentID, amount, log)
	}
	a.publish(ctx, saved, n, log)
	return ResultApplied, nil
}

// apply returns o with the notification's status and gateway metadata.
func (a *Adapter) apply(o orders.Order, n Notification, outcome Outcome, amount int64, log logrus.FieldLogger) orders.Order {
	o.Status.PaymentStatus = outcome.Payment
	if outcome.Order != "" && outcome.Order != o.Status.OrderStatus {
		if orders.CanTransition(o.Status.OrderStatus, outcome.Order) {
			o.Status.OrderStatus = outcome.Order
		} else {
			log.WithFields(logrus.Fields{
				"from": o.Status.OrderStatus,
				"to":   outcome.Order,
			}).Warn("order status transition not allowed, keeping current order status")
		}
	}
	if amount != o.OrderTotal {
		log.WithFields(logrus.Fields{
			"amount":      amount,
			"order_total": o.OrderTotal,
		}).Warn("notified amount differs from order total")
	}

	now := a.nowFunc().UTC()
	o.Gateway = orders.GatewayInfo{
		PaymentID:  n.PaymentID,
		StatusCode: n.StatusCode,
		Method:     n.Method,
		CardLast4:  n.CardLast4(),
		CardHolder: n.CardHolder,
		CardExpiry: n.CardExpiry,
		Amount:     amount,
		UpdatedAt:  &now,
	}
	return o
}

// credit adds the payment to the customer's stats. It never fails the
// notification; a failed credit stays recorded and queued for retry.
func (a *Adapter) credit(ctx context.Context, o orders.Order, paymentID string, amount int64, log logrus.FieldLogger) {
	if a.credits == nil {
		return
	}
	paidAt := a.nowFunc().UTC()
	_, err := a.credits.Run(ctx, compensation.Record{
		ActionID:    compensation.CreditActionID(o.OrderNumber, paymentID),
		Kind:        compensation.KindCustomerCredit,
		OrderNumber: o.OrderNumber,
		Payload: compensation.Payload{
			Email:     o.Customer.Email,
			PaymentID: paymentID,
			Amount:    amount,
			PaidAt:    &paidAt,
		},
	})
	if err != nil {
		log.WithError(err).Warn("customer stats not credited, recorded for retry")
	}
}

func (a *Adapter) publish(ctx context.Context, o orders.Order, n Notification, log logrus.FieldLogger) {
	if a.events == nil {
		return
	}
	evt := PaymentUpdatedEvent{
		OrderNumber:   o.OrderNumber,
		PaymentID:     n.PaymentID,
		StatusCode:    n.StatusCode,
		PaymentStatus: string(o.Status.PaymentStatus),
		OrderStatus:   string(o.Status.OrderStatus),
		Amount:        n.Amount.StringFixed(2),
		Currency:      n.Currency,
	}
	if err := a.events.PublishJSON(ctx, EventPaymentUpdated, evt, map[string]string{"order_number": o.OrderNumber}); err != nil {
		log.WithError(err).Warn(fmt.Sprintf("publish %s", EventPaymentUpdated))
	}
}
