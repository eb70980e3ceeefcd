// Package tracking answers customer order lookups without exposing
// internal or payment data.
package tracking

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/customers"
	"github.com/imrishuroy/go-order-reconciler/internal/money"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/sirupsen/logrus"
)

type OrderReader interface {
	Get(ctx context.Context, orderNumber string) (*orders.Order, error)
}

type Request struct {
	OrderNumber string
	Email       string
	Phone       string
	CustomerID  string
}

type Response struct {
	Found bool       `json:"found"`
	Order *OrderView `json:"order,omitempty"`
}

// OrderView is the customer-safe projection of an order. Recipient details
// are only filled when the caller proved who they are.
type OrderView struct {
	OrderNumber   string      `json:"orderNumber"`
	OrderStatus   string      `json:"orderStatus"`
	PaymentStatus string      `json:"paymentStatus"`
	Items         []ItemView  `json:"items"`
	Subtotal      json.Number `json:"subtotal"`
	Shipping      json.Number `json:"shipping"`
	Discount      json.Number `json:"discount"`
	Total         json.Number `json:"total"`
	Currency      string      `json:"currency"`
	PaymentMethod string      `json:"paymentMethod"`
	CreatedAt     time.Time   `json:"createdAt"`
	CancelledAt   *time.Time  `json:"cancelledAt,omitempty"`

	CustomerName    string `json:"customerName,omitempty"`
	DeliveryAddress string `json:"deliveryAddress,omitempty"`
	CardNumber      string `json:"cardNumber,omitempty"`
}

type ItemView struct {
	Title     string      `json:"title,omitempty"`
	SKU       string      `json:"sku,omitempty"`
	Quantity  int         `json:"quantity"`
	UnitPrice json.Number `json:"unitPrice"`
	Subtotal  json.Number `json:"subtotal"`
}

type Service struct {
	orders OrderReader
	log    logrus.FieldLogger
}

func NewService(store OrderReader, log logrus.FieldLogger) *Service {
	return &Service{orders: store, log: log}
}

// Track looks up an order. When an email, phone or customer id is given it
// must match the order, otherwise the order is reported as not found.
func (s *Service) Track(ctx context.Context, req Request) (Response, error) {
	number := orders.NormalizeOrderNumber(req.OrderNumber)
	if number == "" {
		return Response{}, apperr.Validation("orderNumber is required", map[string]string{"orderNumber": "required"})
	}
	o, err := s.orders.Get(ctx, number)
	if err != nil {
		return Response{}, apperr.Internal("load order", err)
	}
	if o == nil {
		return Response{Found: false}, nil
	}

	verified := false
	if req.Email != "" || req.Phone != "" || req.CustomerID != "" {
		if !matches(*o, req) {
			s.log.WithField("order_number", number).Info("tracking identity mismatch")
			return Response{Found: false}, nil
		}
		verified = true
	}
	view := project(*o, verified)
	return Response{Found: true, Order: &view}, nil
}

// matches applies the identity check: email compared after normalisation,
// phone as a substring of the stored number, customer id exactly.
func matches(o orders.Order, req Request) bool {
	if email := customers.NormalizeEmail(req.Email); email != "" && email == customers.NormalizeEmail(o.Customer.Email) {
		return true
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" && o.Customer.Phone != "" && strings.Contains(o.Customer.Phone, phone) {
		return true
	}
	if id := strings.TrimSpace(req.CustomerID); id != "" && id == o.CustomerID {
		return true
	}
	return false
}

func project(o orders.Order, verified bool) OrderView {
	items := make([]ItemView, len(o.Items))
	for i, it := range o.Items {
		items[i] = ItemView{
			Title:     it.Title,
			SKU:       it.ProductSKU,
			Quantity:  it.Quantity,
			UnitPrice: amount(it.UnitPrice),
			Subtotal:  amount(it.Subtotal),
		}
	}
	v := OrderView{
		OrderNumber:   o.OrderNumber,
		OrderStatus:   string(o.Status.OrderStatus),
		PaymentStatus: string(o.Status.PaymentStatus),
		Items:         items,
		Subtotal:      amount(o.OrderSubtotal),
		Shipping:      amount(o.ShippingCost),
		Discount:      amount(o.Discount),
		Total:         amount(o.OrderTotal),
		Currency:      o.Currency,
		PaymentMethod: o.PaymentMethod,
		CreatedAt:     o.CreatedAt,
		CancelledAt:   o.CancelledAt,
	}
	if verified {
		v.CustomerName = o.Customer.Name
		v.DeliveryAddress = o.Customer.DeliveryAddress
		v.CardNumber = o.Gateway.MaskedCard()
	}
	return v
}

func amount(cents int64) json.Number {
	return json.Number(money.Format(cents))
}
