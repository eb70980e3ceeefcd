// Package intake turns validated order requests into pending orders.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/customers"
	"github.com/imrishuroy/go-order-reconciler/internal/idempotency"
	"github.com/imrishuroy/go-order-reconciler/internal/metrics"
	"github.com/imrishuroy/go-order-reconciler/internal/money"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/imrishuroy/go-order-reconciler/internal/payments"
	"github.com/sirupsen/logrus"
)

// EventOrderCreated is published after an order is stored.
const EventOrderCreated = "order.created"

// numberAttempts bounds retries on an order number collision.
const numberAttempts = 3

// ErrRequestInProgress is returned when another request with the same
// Idempotency-Key has not finished yet.
var ErrRequestInProgress = errors.New("request with this idempotency key is in progress")

type OrderStore interface {
	NextID(ctx context.Context) (int64, error)
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
	Create(ctx context.Context, order orders.Order) (orders.Order, error)
	CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order orders.Order, ttlWindow time.Duration) (orders.Order, error)
}

type CustomerDirectory interface {
	Upsert(ctx context.Context, p customers.Profile) (customers.Customer, bool, error)
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, eventType string, v interface{}, attributes map[string]string) error
}

// Gateway is the merchant configuration used to build the checkout hash.
type Gateway struct {
	MerchantID string
	Secret     string
}

// Request is a validated order request. Amounts are minor units.
type Request struct {
	Customer            customers.Profile
	Items               []orders.Item
	Subtotal            int64
	Shipping            int64
	Discount            int64
	Total               int64
	SpecialInstructions string
	OrderSource         string
	IdempotencyKey      string
}

// Response is returned to the client, and replayed for a repeated
// Idempotency-Key.
type Response struct {
	OrderNumber string      `json:"orderNumber"`
	ID          int64       `json:"id"`
	Status      string      `json:"status"`
	Total       json.Number `json:"total"`
	Currency    string      `json:"currency"`
	CreatedAt   time.Time   `json:"createdAt"`
	Checkout    *Checkout   `json:"checkout,omitempty"`

	Replayed bool `json:"-"`
}

// Checkout holds what the storefront posts to the gateway's checkout page.
type Checkout struct {
	MerchantID string `json:"merchantId"`
	OrderID    string `json:"orderId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Hash       string `json:"hash"`
}

type Service struct {
	orders      OrderStore
	customers   CustomerDirectory
	idempotency *idempotency.Store
	events      EventPublisher
	gateway     Gateway
	currency    string
	log         logrus.FieldLogger
	nowFunc     func() time.Time
}

func NewService(orderStore OrderStore, directory CustomerDirectory, idem *idempotency.Store, events EventPublisher, gateway Gateway, currency string, log logrus.FieldLogger) *Service {
	return &Service{
		orders:      orderStore,
		customers:   directory,
		idempotency: idem,
		events:      events,
		gateway:     gateway,
		currency:    currency,
		log:         log,
		nowFunc:     time.Now,
	}
}

// CreateOrder upserts the customer and stores a pending order. It does not
// touch inventory.
func (s *Service) CreateOrder(ctx context.Context, req Request) (Response, error) {
	if err := validate(req); err != nil {
		return Response{}, err
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if resp, ok, err := s.replay(ctx, req.IdempotencyKey); ok || err != nil {
			return resp, err
		}
	}

	cust, created, err := s.customers.Upsert(ctx, req.Customer)
	if err != nil {
		return Response{}, apperr.Internal("upsert customer", err)
	}
	log := s.log.WithFields(logrus.Fields{
		"customer_id":      cust.CustomerID,
		"customer_created": created,
	})

	id, err := s.orders.NextID(ctx)
	if err != nil {
		return Response{}, apperr.Internal("allocate order id", err)
	}

	var saved orders.Order
	for attempt := 0; ; attempt++ {
		if attempt == numberAttempts {
			return Response{}, apperr.Internal("allocate order number", orders.ErrOrderExists)
		}
		number, err := orders.NewOrderNumber(s.nowFunc())
		if err != nil {
			return Response{}, apperr.Internal("generate order number", err)
		}
		order := s.buildOrder(req, cust, id, number)

		if req.IdempotencyKey != "" && s.idempotency != nil {
			rec := s.idempotency.NewRecord(req.IdempotencyKey, number)
			saved, err = s.orders.CreateWithIdempotencyTransaction(ctx, s.idempotency.TableName(), rec, order, s.idempotency.TTL())
		} else {
			saved, err = s.orders.Create(ctx, order)
		}
		if errors.Is(err, orders.ErrOrderExists) {
			log.WithField("order_number", number).Warn("order number collision, regenerating")
			continue
		}
		if errors.Is(err, orders.ErrIdempotencyKeyExists) {
			resp, _, rerr := s.replay(ctx, req.IdempotencyKey)
			return resp, rerr
		}
		if err != nil {
			return Response{}, apperr.Internal("store order", err)
		}
		break
	}

	log = log.WithField("order_number", saved.OrderNumber)
	log.WithField("total", saved.OrderTotal).Info("order created")
	metrics.OrdersCreated.Inc()

	resp := s.response(saved)
	s.publish(ctx, saved, log)

	if req.IdempotencyKey != "" && s.idempotency != nil {
		s.markDone(ctx, req.IdempotencyKey, resp, log)
	}
	return resp, nil
}

// markDone stores resp for replay. Failure only costs a later rebuild from
// the order itself.
func (s *Service) markDone(ctx context.Context, key string, resp Response, log logrus.FieldLogger) {
	body, err := json.Marshal(resp)
	if err == nil {
		err = s.idempotency.MarkDone(ctx, key, string(body), http.StatusCreated)
	}
	if err != nil {
		log.WithError(err).Warn("store idempotent response")
	}
}

// replay returns the stored outcome for key. ok is false when no request
// used the key yet.
func (s *Service) replay(ctx context.Context, key string) (Response, bool, error) {
	rec, err := s.idempotency.Get(ctx, key)
	if err != nil {
		return Response{}, false, apperr.Internal("load idempotency record", err)
	}
	if rec == nil {
		return Response{}, false, nil
	}
	switch rec.Status {
	case idempotency.StatusDone:
		var resp Response
		if err := json.Unmarshal([]byte(rec.ResponseBody), &resp); err != nil {
			return Response{}, true, apperr.Internal("decode idempotent response", err)
		}
		resp.Replayed = true
		return resp, true, nil
	case idempotency.StatusInProgress:
		// The order and the record are written together, so an existing order
		// means the first request finished but could not store its response.
		o, err := s.orders.Get(ctx, rec.OrderNumber)
		if err != nil {
			return Response{}, true, apperr.Internal("load order", err)
		}
		if o == nil {
			return Response{OrderNumber: rec.OrderNumber}, true, ErrRequestInProgress
		}
		resp := s.response(*o)
		s.markDone(ctx, key, resp, s.log.WithField("order_number", o.OrderNumber))
		resp.Replayed = true
		return resp, true, nil
	default:
		return Response{}, true, apperr.Internal("unexpected idempotency status "+rec.Status, nil)
	}
}

func (s *Service) buildOrder(req Request, cust customers.Customer, id int64, number string) orders.Order {
	snapshot := orders.CustomerSnapshot{
		Name:           req.Customer.Name,
		Email:          customers.NormalizeEmail(req.Customer.Email),
		Phone:          req.Customer.Phone,
		SecondaryPhone: req.Customer.SecondaryPhone,
	}
	if req.Customer.Address != nil {
		snapshot.DeliveryAddress = req.Customer.Address.Text
	}
	items := make([]orders.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = orders.NewItem(it.ProductID, it.ProductSKU, it.VariantID, it.Title, it.Quantity, it.UnitPrice)
	}
	return orders.Order{
		OrderNumber:   number,
		ID:            id,
		CustomerID:    cust.CustomerID,
		Customer:      snapshot,
		Items:         items,
		OrderSubtotal: req.Subtotal,
		ShippingCost:  req.Shipping,
		Discount:      req.Discount,
		OrderTotal:    orders.Total(req.Subtotal, req.Shipping, req.Discount),
		Currency:      s.currency,
		Status: orders.Status{
			OrderStatus:   orders.OrderPending,
			PaymentStatus: orders.PaymentPending,
		},
		PaymentMethod:       orders.DefaultPaymentMethod,
		Notification:        orders.Notification{TemplateSent: false},
		SpecialInstructions: strings.TrimSpace(req.SpecialInstructions),
		OrderSource:         req.OrderSource,
		IdempotencyKey:      req.IdempotencyKey,
	}
}

func (s *Service) response(o orders.Order) Response {
	resp := Response{
		OrderNumber: o.OrderNumber,
		ID:          o.ID,
		Status:      string(o.Status.OrderStatus),
		Total:       json.Number(money.Format(o.OrderTotal)),
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt,
	}
	if s.gateway.MerchantID != "" && s.gateway.Secret != "" {
		amount := money.Decimal(o.OrderTotal)
		resp.Checkout = &Checkout{
			MerchantID: s.gateway.MerchantID,
			OrderID:    o.OrderNumber,
			Amount:     amount.StringFixed(2),
			Currency:   o.Currency,
			Hash:       payments.CheckoutHash(s.gateway.MerchantID, o.OrderNumber, amount, o.Currency, s.gateway.Secret),
		}
	}
	return resp
}

// OrderCreatedEvent is the body of an order.created message.
type OrderCreatedEvent struct {
	OrderNumber string `json:"order_number"`
	ID          int64  `json:"id"`
	CustomerID  string `json:"customer_id"`
	Total       string `json:"total"`
	Currency    string `json:"currency"`
	Items       int    `json:"items"`
}

func (s *Service) publish(ctx context.Context, o orders.Order, log logrus.FieldLogger) {
	if s.events == nil {
		return
	}
	evt := OrderCreatedEvent{
		OrderNumber: o.OrderNumber,
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		Total:       money.Format(o.OrderTotal),
		Currency:    o.Currency,
		Items:       len(o.Items),
	}
	if err := s.events.PublishJSON(ctx, EventOrderCreated, evt, map[string]string{"order_number": o.OrderNumber}); err != nil {
		log.WithError(err).Warn(fmt.Sprintf("publish %s", EventOrderCreated))
	}
}

// validate checks what the service relies on regardless of the transport.
func validate(req Request) error {
	fields := map[string]string{}
	if strings.TrimSpace(req.Customer.Name) == "" {
		fields["customer.fullName"] = "required"
	}
	if customers.NormalizeEmail(req.Customer.Email) == "" {
		fields["customer.email"] = "required"
	}
	if strings.TrimSpace(req.Customer.Phone) == "" {
		fields["customer.phone"] = "required"
	}
	if len(req.Items) == 0 {
		fields["items"] = "at least one item is required"
	}
	for i, it := range req.Items {
		if it.ProductID == "" {
			fields[fmt.Sprintf("items[%d].product.id", i)] = "required"
		}
		if it.Quantity <= 0 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be greater than 0"
		}
		if it.UnitPrice < 0 {
			fields[fmt.Sprintf("items[%d].price", i)] = "must not be negative"
		}
	}
	if req.Subtotal < 0 || req.Shipping < 0 || req.Discount < 0 {
		fields["pricing"] = "amounts must not be negative"
	}
	if req.Total != orders.Total(req.Subtotal, req.Shipping, req.Discount) {
		fields["pricing.total"] = "must equal subtotal + shipping - discount"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid order request", fields)
	}
	return nil
}
