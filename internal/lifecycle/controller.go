// Package lifecycle moves orders through customer-initiated transitions.
// Cancellation is the only one: payment-driven transitions live in payments.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/inventory"
	"github.com/imrishuroy/go-order-reconciler/internal/metrics"
	"github.com/imrishuroy/go-order-reconciler/internal/orderlock"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/sirupsen/logrus"
)

// EventOrderCancelled is published after an order is cancelled.
const EventOrderCancelled = "order.cancelled"

// MsgPaymentProcessed is the conflict message for orders whose money has moved.
const MsgPaymentProcessed = "Order cannot be cancelled because payment has already been processed"

const maxAttempts = 5

type OrderStore interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
	Replace(ctx context.Context, order orders.Order) (orders.Order, error)
}

// Restorer puts the stock of an order's items back.
type Restorer interface {
	RestoreOrder(ctx context.Context, order orders.Order) inventory.Result
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, eventType string, v interface{}, attributes map[string]string) error
}

type CancelRequest struct {
	OrderNumber string
	CustomerID  string
}

type CancelResponse struct {
	OrderNumber        string    `json:"orderNumber"`
	OrderStatus        string    `json:"orderStatus"`
	CancelledAt        time.Time `json:"cancelledAt"`
	InventoryRestored  bool      `json:"inventoryRestored"`
	AlreadyCancelled   bool      `json:"alreadyCancelled"`
	ClearCart          bool      `json:"clearCart"`
	ClearPendingOrders bool      `json:"clearPendingOrders"`
}

type Controller struct {
	orders   OrderStore
	restorer Restorer
	events   EventPublisher
	locker   orderlock.Locker
	log      logrus.FieldLogger
	nowFunc  func() time.Time
}

func NewController(store OrderStore, restorer Restorer, events EventPublisher, locker orderlock.Locker, log logrus.FieldLogger) *Controller {
	return &Controller{
		orders:   store,
		restorer: restorer,
		events:   events,
		locker:   locker,
		log:      log,
		nowFunc:  time.Now,
	}
}

// Cancel cancels an unpaid order owned by req.CustomerID and restores its
// stock. Stock that cannot be restored is recorded for retry; the order
// stays cancelled either way.
func (c *Controller) Cancel(ctx context.Context, req CancelRequest) (CancelResponse, error) {
	orderNumber := orders.NormalizeOrderNumber(req.OrderNumber)
	customerID := strings.TrimSpace(req.CustomerID)
	if orderNumber == "" || customerID == "" {
		return CancelResponse{}, apperr.Validation("orderNumber and customerId are required", nil)
	}
	log := c.log.WithFields(logrus.Fields{"order_number": orderNumber, "customer_id": customerID})

	token, err := c.locker.Acquire(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, orderlock.ErrBusy) {
			return CancelResponse{}, apperr.Unavailable("order is being updated, try again", err)
		}
		return CancelResponse{}, apperr.Internal("lock order", err)
	}
	defer func() {
		if err := c.locker.Release(context.WithoutCancel(ctx), orderNumber, token); err != nil {
			log.WithError(err).Warn("release order lock")
		}
	}()

	var saved orders.Order
	for attempt := 0; ; attempt++ {
		if attempt == maxAttempts {
			return CancelResponse{}, apperr.Internal("order update contention", orders.ErrVersionConflict)
		}
		o, err := c.orders.Get(ctx, orderNumber)
		if err != nil {
			return CancelResponse{}, apperr.Internal("load order", err)
		}
		// A foreign order is reported exactly like a missing one.
		if o == nil || o.CustomerID != customerID {
			metrics.Cancellations.WithLabelValues("not_found").Inc()
			return CancelResponse{}, apperr.NotFound("Order not found")
		}
		if o.Status.PaymentStatus != orders.PaymentPending {
			log.WithField("payment_status", o.Status.PaymentStatus).Info("cancellation rejected, payment processed")
			metrics.Cancellations.WithLabelValues("rejected").Inc()
			return CancelResponse{}, apperr.Conflict(MsgPaymentProcessed)
		}
		if o.Status.OrderStatus == orders.OrderCancelled {
			metrics.Cancellations.WithLabelValues("already_cancelled").Inc()
			return alreadyCancelled(*o), nil
		}
		if !o.Status.Cancellable() {
			metrics.Cancellations.WithLabelValues("rejected").Inc()
			return CancelResponse{}, apperr.Conflict(fmt.Sprintf("Order cannot be cancelled once %s", o.Status.OrderStatus))
		}

		next := *o
		now := c.nowFunc().UTC()
		next.Status.OrderStatus = orders.OrderCancelled
		next.CancelledAt = &now
		saved, err = c.orders.Replace(ctx, next)
		if errors.Is(err, orders.ErrVersionConflict) {
			log.WithField("attempt", attempt+1).Debug("order changed, re-checking cancellation")
			continue
		}
		if err != nil {
			return CancelResponse{}, apperr.Internal("save order", err)
		}
		break
	}
	log.Info("order cancelled")

	result := c.restorer.RestoreOrder(ctx, saved)
	if !result.Complete() {
		log.WithFields(logrus.Fields{
			"restored": result.Restored,
			"skipped":  result.Skipped,
			"failed":   result.Failed,
		}).Warn("stock not fully restored for cancelled order")
		metrics.Cancellations.WithLabelValues("cancelled_partial_restore").Inc()
	} else {
		metrics.Cancellations.WithLabelValues("cancelled").Inc()
	}

	c.publish(ctx, saved, result, log)

	return CancelResponse{
		OrderNumber:        saved.OrderNumber,
		OrderStatus:        string(orders.OrderCancelled),
		CancelledAt:        *saved.CancelledAt,
		InventoryRestored:  result.Complete(),
		ClearCart:          true,
		ClearPendingOrders: true,
	}, nil
}

func alreadyCancelled(o orders.Order) CancelResponse {
	at := o.UpdatedAt
	if o.CancelledAt != nil {
		at = *o.CancelledAt
	}
	return CancelResponse{
		OrderNumber:        o.OrderNumber,
		OrderStatus:        string(orders.OrderCancelled),
		CancelledAt:        at,
		AlreadyCancelled:   true,
		ClearCart:          true,
		ClearPendingOrders: true,
	}
}

// OrderCancelledEvent is the body of an order.cancelled message.
type OrderCancelledEvent struct {
	OrderNumber       string    `json:"order_number"`
	CustomerID        string    `json:"customer_id"`
	CancelledAt       time.Time `json:"cancelled_at"`
	InventoryRestored bool      `json:"inventory_restored"`
}

func (c *Controller) publish(ctx context.Context, o orders.Order, result inventory.Result, log logrus.FieldLogger) {
	if c.events == nil {
		return
	}
	evt := OrderCancelledEvent{
		OrderNumber:       o.OrderNumber,
		CustomerID:        o.CustomerID,
		CancelledAt:       *o.CancelledAt,
		InventoryRestored: result.Complete(),
	}
	if err := c.events.PublishJSON(ctx, EventOrderCancelled, evt, map[string]string{"order_number": o.OrderNumber}); err != nil {
		log.WithError(err).Warn(fmt.Sprintf("publish %s", EventOrderCancelled))
	}
}
