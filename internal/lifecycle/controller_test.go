package lifecycle

import (
	"context"
	"net/http"
	"testing"

	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/aws/dynamotest"
	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
	"github.com/imrishuroy/go-order-reconciler/internal/inventory"
	"github.com/imrishuroy/go-order-reconciler/internal/logging"
	"github.com/imrishuroy/go-order-reconciler/internal/orderlock"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
)

// countingRestorer records how often restoration is invoked.
type countingRestorer struct {
	next  Restorer
	calls int
}

func (r *countingRestorer) RestoreOrder(ctx context.Context, o orders.Order) inventory.Result {
	r.calls++
	return r.next.RestoreOrder(ctx, o)
}

type fakePublisher struct{ types []string }

func (p *fakePublisher) PublishJSON(ctx context.Context, eventType string, v interface{}, attributes map[string]string) error {
	p.types = append(p.types, eventType)
	return nil
}

type fixture struct {
	db         *dynamotest.Fake
	orders     *orders.Store
	restorer   *countingRestorer
	events     *fakePublisher
	controller *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dynamotest.New(map[string]string{
		"orders":        "order_number",
		"products":      "product_id",
		"compensations": "action_id",
	})
	comp := compensation.NewStore(db, "compensations")
	runner := compensation.NewRunner(comp, nil, logging.Discard())
	reconciler := inventory.NewReconciler(inventory.NewStore(db, "products", comp), runner, logging.Discard())

	f := &fixture{
		db:       db,
		orders:   orders.NewStore(db, "orders"),
		restorer: &countingRestorer{next: reconciler},
		events:   &fakePublisher{},
	}
	f.controller = NewController(f.orders, f.restorer, f.events, orderlock.Noop{}, logging.Discard())

	err := db.Seed("products", inventory.Product{
		ProductID: "p-shirt",
		Status:    inventory.StatusOutOfStock,
		Variants: []inventory.Variant{
			{VariantID: "v-m", SKU: "SHIRT-M", Stock: 0},
			{VariantID: "v-l", SKU: "SHIRT-L", Stock: 0},
		},
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return f
}

func (f *fixture) seedOrder(t *testing.T, number, productID string, status orders.Status) {
	t.Helper()
	_, err := f.orders.Create(context.Background(), orders.Order{
		OrderNumber: number,
		CustomerID:  "cust-1",
		Items:       []orders.Item{orders.NewItem(productID, "SHIRT-M", "v-m", "Shirt", 2, 100000)},
		OrderTotal:  200000,
		Status:      status,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (f *fixture) order(t *testing.T, number string) orders.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), number)
	if err != nil || o == nil {
		t.Fatalf("get order: %v %v", o, err)
	}
	return *o
}

var pendingPending = orders.Status{OrderStatus: orders.OrderPending, PaymentStatus: orders.PaymentPending}

func TestCancel_RestoresVariantStock(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ORD1", "p-shirt", pendingPending)

	resp, err := f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ord1", CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if resp.OrderStatus != "cancelled" || !resp.InventoryRestored || resp.AlreadyCancelled || !resp.ClearCart || !resp.ClearPendingOrders {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.CancelledAt.IsZero() {
		t.Fatal("expected cancelledAt")
	}

	o := f.order(t, "ORD1")
	if o.Status.OrderStatus != orders.OrderCancelled || o.Status.PaymentStatus != orders.PaymentPending || o.CancelledAt == nil {
		t.Fatalf("unexpected order: %+v", o)
	}
	if len(o.Items) != 1 {
		t.Fatal("items must survive cancellation")
	}

	var p inventory.Product
	if _, err := f.db.Load("products", "p-shirt", &p); err != nil {
		t.Fatalf("load product: %v", err)
	}
	if p.Variants[0].Stock != 2 || p.Variants[1].Stock != 0 || p.Status != inventory.StatusActive {
		t.Fatalf("unexpected product after restore: %+v", p)
	}
	if len(f.events.types) != 1 || f.events.types[0] != EventOrderCancelled {
		t.Fatalf("expected order.cancelled event, got %v", f.events.types)
	}
}

func TestCancel_AlreadyCancelledDoesNotRestoreAgain(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ORD1", "p-shirt", pendingPending)
	req := CancelRequest{OrderNumber: "ORD1", CustomerID: "cust-1"}

	if _, err := f.controller.Cancel(context.Background(), req); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	resp, err := f.controller.Cancel(context.Background(), req)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if !resp.AlreadyCancelled || resp.OrderStatus != "cancelled" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if f.restorer.calls != 1 {
		t.Fatalf("restoration ran %d times", f.restorer.calls)
	}

	var p inventory.Product
	f.db.Load("products", "p-shirt", &p)
	if p.Variants[0].Stock != 2 {
		t.Fatalf("stock restored twice: %d", p.Variants[0].Stock)
	}
}

func TestCancel_PaidOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ORD1", "p-shirt", orders.Status{OrderStatus: orders.OrderConfirmed, PaymentStatus: orders.PaymentPaid})

	_, err := f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ORD1", CustomerID: "cust-1"})
	if apperr.KindOf(err) != apperr.KindConflict || apperr.Message(err) != MsgPaymentProcessed {
		t.Fatalf("expected conflict, got %v", err)
	}
	if apperr.HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", apperr.HTTPStatus(err))
	}
	if f.restorer.calls != 0 {
		t.Fatal("restoration must not run")
	}
}

func TestCancel_OtherCustomerSeesNotFound(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ORD1", "p-shirt", pendingPending)

	_, err := f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ORD1", CustomerID: "cust-2"})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if o := f.order(t, "ORD1"); o.Status.OrderStatus != orders.OrderPending {
		t.Fatalf("order changed: %+v", o.Status)
	}

	_, err = f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ORDNOPE", CustomerID: "cust-1"})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancel_RestoreFailureKeepsCancellation(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ORD1", "p-deleted", pendingPending)

	resp, err := f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ORD1", CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if resp.InventoryRestored {
		t.Fatal("expected inventoryRestored=false")
	}
	if o := f.order(t, "ORD1"); o.Status.OrderStatus != orders.OrderCancelled {
		t.Fatalf("cancellation rolled back: %+v", o.Status)
	}

	var rec compensation.Record
	ok, err := f.db.Load("compensations", compensation.InventoryActionID("ORD1", 0), &rec)
	if err != nil || !ok {
		t.Fatalf("expected compensation record: %v %v", ok, err)
	}
	if rec.Status != compensation.StatusFailed || rec.LastError == "" {
		t.Fatalf("unexpected compensation record: %+v", rec)
	}
}

func TestCancel_FollowsStatusGraph(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ORDSHIP", "p-shirt", orders.Status{OrderStatus: orders.OrderShipped, PaymentStatus: orders.PaymentPending})
	f.seedOrder(t, "ORDDONE", "p-shirt", orders.Status{OrderStatus: orders.OrderDelivered, PaymentStatus: orders.PaymentPending})

	if _, err := f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ORDSHIP", CustomerID: "cust-1"}); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("shipped order must not cancel, got %v", err)
	}
	if o := f.order(t, "ORDSHIP"); o.Status.OrderStatus != orders.OrderShipped {
		t.Fatalf("shipped order was modified: %+v", o.Status)
	}
	if _, err := f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ORDDONE", CustomerID: "cust-1"}); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("delivered order must not cancel, got %v", err)
	}
}

func TestCancel_RequiresCustomerID(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.Cancel(context.Background(), CancelRequest{OrderNumber: "ORD1"})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
