package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-order-reconciler/internal/apperr"
	"github.com/imrishuroy/go-order-reconciler/internal/customers"
	"github.com/imrishuroy/go-order-reconciler/internal/intake"
	"github.com/imrishuroy/go-order-reconciler/internal/lifecycle"
	"github.com/imrishuroy/go-order-reconciler/internal/money"
	"github.com/imrishuroy/go-order-reconciler/internal/orders"
	"github.com/imrishuroy/go-order-reconciler/internal/tracking"
	"github.com/imrishuroy/go-order-reconciler/internal/validation"
	"github.com/shopspring/decimal"
)

// createOrder handles POST /orders. Idempotency-Key is optional.
func (h *handler) createOrder(c *gin.Context) {
	var body validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &body, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	req, err := toIntakeRequest(body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	resp, err := h.cfg.Intake.CreateOrder(c.Request.Context(), req)
	if errors.Is(err, intake.ErrRequestInProgress) {
		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "request already in progress"})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	if resp.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.Header("Location", fmt.Sprintf("/orders/track?orderNumber=%s", resp.OrderNumber))
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": resp})
}

// toIntakeRequest converts the wire DTO to minor units. A variant SKU wins
// over the product SKU since it identifies the stock that was sold.
func toIntakeRequest(body validation.CreateOrderRequest) (intake.Request, error) {
	fields := map[string]string{}
	cents := func(field string, d *decimal.Decimal) int64 {
		if d == nil {
			return 0
		}
		v, err := money.Cents(*d)
		if err != nil {
			fields[field] = "must have at most two decimal places"
		}
		return v
	}

	req := intake.Request{
		Customer: customers.Profile{
			Email:          body.Customer.Email,
			Name:           strings.TrimSpace(body.Customer.FullName),
			Phone:          strings.TrimSpace(body.Customer.Phone),
			SecondaryPhone: strings.TrimSpace(body.Customer.SecondaryPhone),
			Language:       body.Customer.Language,
			MarketingOptIn: body.Customer.MarketingOptIn,
		},
		Subtotal:            cents("pricing.subtotal", body.Pricing.Subtotal),
		Shipping:            cents("pricing.shipping", body.Pricing.Shipping),
		Discount:            cents("pricing.discount", body.Pricing.Discount),
		Total:               cents("pricing.total", body.Pricing.Total),
		SpecialInstructions: body.SpecialInstructions,
		OrderSource:         body.OrderSource,
	}
	if addr := strings.TrimSpace(body.Customer.Address); addr != "" {
		req.Customer.Address = &customers.Address{Text: addr, Type: body.Customer.AddressType}
	}

	req.Items = make([]orders.Item, len(body.Items))
	for i, it := range body.Items {
		item := orders.Item{
			ProductID:  it.Product.ID,
			ProductSKU: it.Product.SKU,
			Title:      it.Product.Title,
			Quantity:   it.Quantity,
			UnitPrice:  cents(fmt.Sprintf("items[%d].price", i), it.Price),
		}
		if it.Variant != nil {
			item.VariantID = it.Variant.ID
			if it.Variant.SKU != "" {
				item.ProductSKU = it.Variant.SKU
			}
		}
		req.Items[i] = item
	}

	if len(fields) > 0 {
		return intake.Request{}, apperr.Validation("validation failed", fields)
	}
	return req, nil
}

// cancelOrder handles PATCH /orders/cancel/:orderNumber.
func (h *handler) cancelOrder(c *gin.Context) {
	var body validation.CancelOrderRequest
	if err := validation.BindAndValidate(c, &body, h.v); err != nil {
		return
	}

	resp, err := h.cfg.Lifecycle.Cancel(c.Request.Context(), lifecycle.CancelRequest{
		OrderNumber: c.Param("orderNumber"),
		CustomerID:  body.CustomerID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	msg := "Order cancelled successfully"
	if resp.AlreadyCancelled {
		msg = "Order was already cancelled"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "data": resp})
}

// trackOrder handles GET (query) and POST (JSON) /orders/track.
func (h *handler) trackOrder(c *gin.Context) {
	var body validation.TrackOrderRequest
	bind := validation.BindAndValidate
	if c.Request.Method == http.MethodGet {
		bind = validation.BindQueryAndValidate
	}
	if err := bind(c, &body, h.v); err != nil {
		return
	}

	resp, err := h.cfg.Tracking.Track(c.Request.Context(), tracking.Request{
		OrderNumber: strings.TrimSpace(body.OrderNumber),
		Email:       body.Email,
		Phone:       body.Phone,
		CustomerID:  body.CustomerID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	// A miss is still a successful lookup; data.found tells the caller.
	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}
