package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/aws/dynamotest"
	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
	"github.com/imrishuroy/go-order-reconciler/internal/customers"
	"github.com/imrishuroy/go-order-reconciler/internal/logging"
	"github.com/imrishuroy/go-order-reconciler/internal/orderlock"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
)

type recordedEvent struct {
	eventType string
	body      interface{}
}

type fakePublisher struct{ events []recordedEvent }

func (p *fakePublisher) PublishJSON(ctx context.Context, eventType string, v interface{}, attributes map[string]string) error {
	p.events = append(p.events, recordedEvent{eventType, v})
	return nil
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, orderNumber string) (string, error) {
	return "", orderlock.ErrBusy
}

func (busyLocker) Release(ctx context.Context, orderNumber, token string) error { return nil }

// conflictOnce fails the first Replace as if a concurrent writer won.
type conflictOnce struct {
	*orders.Store
	replaced int
}

func (c *conflictOnce) Replace(ctx context.Context, o orders.Order) (orders.Order, error) {
	c.replaced++
	if c.replaced == 1 {
		return orders.Order{}, orders.ErrVersionConflict
	}
	return c.Store.Replace(ctx, o)
}

type env struct {
	orders    *orders.Store
	customers *customers.Store
	events    *fakePublisher
	adapter   *Adapter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dynamotest.New(map[string]string{
		"orders":        "order_number",
		"customers":     "email",
		"compensations": "action_id",
	})
	e := &env{
		orders:    orders.NewStore(db, "orders"),
		customers: customers.NewStore(db, "customers"),
		events:    &fakePublisher{},
	}
	runner := compensation.NewRunner(compensation.NewStore(db, "compensations"), nil, logging.Discard())
	runner.Handle(compensation.KindCustomerCredit, e.customers.CreditHandler())
	e.adapter = NewAdapter(e.orders, runner, e.events, orderlock.Noop{}, testMerchant, testSecret, logging.Discard())

	ctx := context.Background()
	if _, _, err := e.customers.Upsert(ctx, customers.Profile{Email: "a@example.com", Name: "A", Phone: "0771234567"}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	e.seedOrder(t, "ORD1", orders.Status{OrderStatus: orders.OrderPending, PaymentStatus: orders.PaymentPending})
	return e
}

func (e *env) seedOrder(t *testing.T, number string, status orders.Status) {
	t.Helper()
	_, err := e.orders.Create(context.Background(), orders.Order{
		OrderNumber:   number,
		ID:            1,
		Customer:      orders.CustomerSnapshot{Name: "A", Email: "a@example.com", Phone: "0771234567"},
		Items:         []orders.Item{orders.NewItem("p1", "SKU-1", "", "Mug", 2, 100000)},
		OrderSubtotal: 200000,
		ShippingCost:  50000,
		OrderTotal:    250000,
		Currency:      "LKR",
		Status:        status,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func (e *env) order(t *testing.T, number string) orders.Order {
	t.Helper()
	o, err := e.orders.Get(context.Background(), number)
	if err != nil || o == nil {
		t.Fatalf("get order %s: %v %v", number, o, err)
	}
	return *o
}

func (e *env) stats(t *testing.T) customers.Stats {
	t.Helper()
	c, err := e.customers.Get(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	return c.Stats
}

func TestReconcile_Paid(t *testing.T) {
	e := newEnv(t)

	res, err := e.adapter.Reconcile(context.Background(), signed("ORD1", "pay-1", "2500.00", "2"))
	if err != nil || res != ResultApplied {
		t.Fatalf("reconcile: %v %v", res, err)
	}

	o := e.order(t, "ORD1")
	if o.Status.PaymentStatus != orders.PaymentPaid || o.Status.OrderStatus != orders.OrderConfirmed {
		t.Fatalf("unexpected status: %+v", o.Status)
	}
	g := o.Gateway
	if g.PaymentID != "pay-1" || g.StatusCode != "2" || g.CardLast4 != "1292" || g.Amount != 250000 {
		t.Fatalf("unexpected gateway info: %+v", g)
	}
	if s := e.stats(t); s.OrderCount != 1 || s.TotalSpent != 250000 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if len(e.events.events) != 1 || e.events.events[0].eventType != EventPaymentUpdated {
		t.Fatalf("expected one payment event, got %+v", e.events.events)
	}
}

func TestReconcile_DuplicateDeliveryIsNoop(t *testing.T) {
	e := newEnv(t)
	n := signed("ORD1", "pay-1", "2500.00", "2")

	if _, err := e.adapter.Reconcile(context.Background(), n); err != nil {
		t.Fatalf("first: %v", err)
	}
	first := e.order(t, "ORD1")

	res, err := e.adapter.Reconcile(context.Background(), n)
	if err != nil || res != ResultDuplicate {
		t.Fatalf("second: %v %v", res, err)
	}
	second := e.order(t, "ORD1")
	if second.Version != first.Version || second.Status != first.Status {
		t.Fatalf("duplicate changed the order: %+v -> %+v", first, second)
	}
	if s := e.stats(t); s.OrderCount != 1 || s.TotalSpent != 250000 {
		t.Fatalf("duplicate credited again: %+v", s)
	}
}

func TestReconcile_InvalidSignature(t *testing.T) {
	e := newEnv(t)
	n := signed("ORD1", "pay-1", "2500.00", "2")
	n.Amount = n.Amount.Add(n.Amount)

	_, err := e.adapter.Reconcile(context.Background(), n)
	if apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if o := e.order(t, "ORD1"); o.Status.PaymentStatus != orders.PaymentPending || o.Version != 1 {
		t.Fatalf("order must be untouched: %+v", o)
	}
}

func TestReconcile_WrongMerchant(t *testing.T) {
	e := newEnv(t)
	n := signed("ORD1", "pay-1", "2500.00", "2")
	n.MerchantID = "999"
	n.Signature = Sign(n.MerchantID, n.OrderNumber, n.Amount, n.Currency, n.StatusCode, testSecret)

	if _, err := e.adapter.Reconcile(context.Background(), n); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestReconcile_UnknownOrder(t *testing.T) {
	e := newEnv(t)

	_, err := e.adapter.Reconcile(context.Background(), signed("ORDMISSING", "pay-1", "10.00", "2"))
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReconcile_LatePendingAfterPaidIsIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.adapter.Reconcile(ctx, signed("ORD1", "pay-1", "2500.00", "2")); err != nil {
		t.Fatalf("paid: %v", err)
	}
	res, err := e.adapter.Reconcile(ctx, signed("ORD1", "pay-1", "2500.00", "0"))
	if err != nil || res != ResultIgnored {
		t.Fatalf("late pending: %v %v", res, err)
	}
	if o := e.order(t, "ORD1"); o.Status.PaymentStatus != orders.PaymentPaid || o.Gateway.StatusCode != "2" {
		t.Fatalf("paid order regressed: %+v", o)
	}
}

func TestReconcile_CancelledByGateway(t *testing.T) {
	e := newEnv(t)

	if _, err := e.adapter.Reconcile(context.Background(), signed("ORD1", "pay-1", "2500.00", "-1")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	o := e.order(t, "ORD1")
	if o.Status.PaymentStatus != orders.PaymentFailed || o.Status.OrderStatus != orders.OrderCancelled {
		t.Fatalf("unexpected status: %+v", o.Status)
	}
	if s := e.stats(t); s.OrderCount != 0 {
		t.Fatalf("failed payment must not credit: %+v", s)
	}
}

func TestReconcile_UnknownCodeIsFailure(t *testing.T) {
	e := newEnv(t)

	if _, err := e.adapter.Reconcile(context.Background(), signed("ORD1", "pay-1", "2500.00", "9")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	o := e.order(t, "ORD1")
	if o.Status.PaymentStatus != orders.PaymentFailed || o.Status.OrderStatus != orders.OrderPending {
		t.Fatalf("unexpected status: %+v", o.Status)
	}
}

func TestReconcile_PaidOnCancelledOrderKeepsCancelled(t *testing.T) {
	e := newEnv(t)
	e.seedOrder(t, "ORD2", orders.Status{OrderStatus: orders.OrderCancelled, PaymentStatus: orders.PaymentPending})

	if _, err := e.adapter.Reconcile(context.Background(), signed("ORD2", "pay-2", "2500.00", "2")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	o := e.order(t, "ORD2")
	if o.Status.PaymentStatus != orders.PaymentPaid || o.Status.OrderStatus != orders.OrderCancelled {
		t.Fatalf("unexpected status: %+v", o.Status)
	}
}

func TestReconcile_CreditFailureDoesNotFail(t *testing.T) {
	e := newEnv(t)
	e.seedOrder(t, "ORD3", orders.Status{OrderStatus: orders.OrderPending, PaymentStatus: orders.PaymentPending})
	o := e.order(t, "ORD3")
	o.Customer.Email = "nobody@example.com"
	if _, err := e.orders.Replace(context.Background(), o); err != nil {
		t.Fatalf("replace: %v", err)
	}

	res, err := e.adapter.Reconcile(context.Background(), signed("ORD3", "pay-3", "2500.00", "2"))
	if err != nil || res != ResultApplied {
		t.Fatalf("reconcile must succeed without customer: %v %v", res, err)
	}
	if got := e.order(t, "ORD3"); got.Status.PaymentStatus != orders.PaymentPaid {
		t.Fatalf("payment not applied: %+v", got.Status)
	}
}

func TestReconcile_RetriesVersionConflict(t *testing.T) {
	e := newEnv(t)
	store := &conflictOnce{Store: e.orders}
	e.adapter.orders = store

	if _, err := e.adapter.Reconcile(context.Background(), signed("ORD1", "pay-1", "2500.00", "2")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if store.replaced != 2 {
		t.Fatalf("expected a retry after conflict, replaced=%d", store.replaced)
	}
	if o := e.order(t, "ORD1"); o.Status.PaymentStatus != orders.PaymentPaid {
		t.Fatalf("payment not applied: %+v", o.Status)
	}
}

func TestReconcile_LockBusy(t *testing.T) {
	e := newEnv(t)
	e.adapter.locker = busyLocker{}

	_, err := e.adapter.Reconcile(context.Background(), signed("ORD1", "pay-1", "2500.00", "2"))
	if apperr.KindOf(err) != apperr.KindUnavailable || !errors.Is(err, orderlock.ErrBusy) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
