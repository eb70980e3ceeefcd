package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/sirupsen/logrus"
)

// ErrNoMatch is returned for an item whose product or variant cannot be found.
// The item is skipped and the product left untouched.
var ErrNoMatch = fmt.Errorf("no matching product or variant: %w", compensation.ErrPermanent)

const maxAttempts = 5

// Result summarises the restoration of one order.
type Result struct {
	Restored int
	Skipped  int
	Failed   int
}

// Complete reports whether every item was restored.
func (r Result) Complete() bool {
	return r.Skipped == 0 && r.Failed == 0
}

// Reconciler puts the stock of cancelled order items back. Each item is an
// inventory.restore compensation with its own record.
type Reconciler struct {
	store   *Store
	runner  *compensation.Runner
	log     logrus.FieldLogger
	nowFunc func() time.Time
}

// NewReconciler registers the reconciler as the runner's inventory.restore handler.
func NewReconciler(store *Store, runner *compensation.Runner, log logrus.FieldLogger) *Reconciler {
	r := &Reconciler{store: store, runner: runner, log: log, nowFunc: time.Now}
	runner.Handle(compensation.KindInventoryRestore, r.apply)
	return r
}

// RestoreOrder restores every item of order. Items are independent: a failing
// item is recorded and the rest are still processed.
func (r *Reconciler) RestoreOrder(ctx context.Context, order orders.Order) Result {
	var res Result
	for i, item := range order.Items {
		err := r.RestoreItem(ctx, order.OrderNumber, i, item)
		switch {
		case err == nil:
			res.Restored++
		case errors.Is(err, ErrNoMatch):
			res.Skipped++
		default:
			res.Failed++
		}
	}
	return res
}

// RestoreItem restores the line at index of the given order. Repeated calls
// for the same line apply the restoration once.
func (r *Reconciler) RestoreItem(ctx context.Context, orderNumber string, index int, item orders.Item) error {
	_, err := r.runner.Run(ctx, compensation.Record{
		ActionID:    compensation.InventoryActionID(orderNumber, index),
		Kind:        compensation.KindInventoryRestore,
		OrderNumber: orderNumber,
		Payload: compensation.Payload{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			SKU:       item.ProductSKU,
			Quantity:  item.Quantity,
		},
	})
	return err
}

func (r *Reconciler) apply(ctx context.Context, rec compensation.Record) error {
	p := rec.Payload
	log := r.log.WithFields(logrus.Fields{
		"order_number": rec.OrderNumber,
		"product_id":   p.ProductID,
		"variant_id":   p.VariantID,
		"sku":          p.SKU,
	})
	if p.Quantity <= 0 {
		return fmt.Errorf("quantity %d: %w", p.Quantity, compensation.ErrPermanent)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		product, err := r.store.Get(ctx, p.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			log.Warn("product not found, skipping stock restore")
			return ErrNoMatch
		}
		plan, ok := product.planRestock(p.VariantID, p.SKU, p.Quantity)
		if !ok {
			log.Warn("no variant matches order item, skipping stock restore")
			return ErrNoMatch
		}

		err = r.store.ApplyRestock(ctx, plan, rec.Succeeded(r.nowFunc()), rec.Version)
		switch {
		case err == nil:
			log.WithFields(logrus.Fields{"quantity": p.Quantity, "activated": plan.Activate}).Info("stock restored")
			return nil
		case errors.Is(err, ErrProductChanged):
			log.WithField("attempt", attempt+1).Debug("product changed, retrying stock restore")
			continue
		case errors.Is(err, compensation.ErrVersionConflict):
			// another run owns this record now; the runner re-reads its outcome
			return nil
		default:
			return err
		}
	}
	return fmt.Errorf("restore %s: product update contention", p.ProductID)
}
