package orders

import "time"

// DefaultPaymentMethod is recorded on every new order; the gateway may
// report the concrete method later.
const DefaultPaymentMethod = "payhere"

// Order is the document stored in the orders table. Amounts are minor units.
type Order struct {
	OrderNumber string `dynamodbav:"order_number"` // PK
	ID          int64  `dynamodbav:"id"`
	CustomerID  string `dynamodbav:"customer_id"`

	Customer CustomerSnapshot `dynamodbav:"customer"`
	Items    []Item           `dynamodbav:"items"`

	OrderSubtotal int64  `dynamodbav:"order_subtotal"`
	ShippingCost  int64  `dynamodbav:"shipping_cost"`
	Discount      int64  `dynamodbav:"discount"`
	OrderTotal    int64  `dynamodbav:"order_total"`
	Currency      string `dynamodbav:"currency"`

	Status        Status       `dynamodbav:"status"`
	PaymentMethod string       `dynamodbav:"payment_method"`
	Gateway       GatewayInfo  `dynamodbav:"gateway"`
	Notification  Notification `dynamodbav:"notification"`

	SpecialInstructions string `dynamodbav:"special_instructions,omitempty"`
	OrderSource         string `dynamodbav:"order_source,omitempty"`
	IdempotencyKey      string `dynamodbav:"idempotency_key,omitempty"`

	CancelledAt *time.Time `dynamodbav:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `dynamodbav:"created_at"`
	UpdatedAt   time.Time  `dynamodbav:"updated_at"`
	Version     int64      `dynamodbav:"version"`
}

// CustomerSnapshot is the denormalised customer data captured at order time.
type CustomerSnapshot struct {
	Name            string `dynamodbav:"name"`
	Email           string `dynamodbav:"email"`
	Phone           string `dynamodbav:"phone"`
	SecondaryPhone  string `dynamodbav:"secondary_phone,omitempty"`
	DeliveryAddress string `dynamodbav:"delivery_address,omitempty"`
}

// Item is an order line. An empty VariantID means the base product.
type Item struct {
	ProductID  string `dynamodbav:"product_id"`
	ProductSKU string `dynamodbav:"product_sku,omitempty"`
	VariantID  string `dynamodbav:"variant_id,omitempty"`
	Title      string `dynamodbav:"title,omitempty"`
	Quantity   int    `dynamodbav:"quantity"`
	UnitPrice  int64  `dynamodbav:"unit_price"`
	Subtotal   int64  `dynamodbav:"subtotal"`
}

// Status holds both status dimensions of an order.
type Status struct {
	OrderStatus   OrderStatus   `dynamodbav:"order_status"`
	PaymentStatus PaymentStatus `dynamodbav:"payment_status"`
}

// GatewayInfo is the last payment-gateway notification applied to the order.
// Only the last four card digits are ever stored.
type GatewayInfo struct {
	PaymentID  string     `dynamodbav:"payment_id,omitempty"`
	StatusCode string     `dynamodbav:"status_code,omitempty"`
	Method     string     `dynamodbav:"method,omitempty"`
	CardLast4  string     `dynamodbav:"card_last4,omitempty"`
	CardHolder string     `dynamodbav:"card_holder,omitempty"`
	CardExpiry string     `dynamodbav:"card_expiry,omitempty"`
	Amount     int64      `dynamodbav:"amount,omitempty"`
	UpdatedAt  *time.Time `dynamodbav:"updated_at,omitempty"`
}

// MaskedCard renders the stored card digits for display, or "" if none.
func (g GatewayInfo) MaskedCard() string {
	if g.CardLast4 == "" {
		return ""
	}
	return "************" + g.CardLast4
}

// Notification tracks the customer message template for the order.
type Notification struct {
	TemplateSent bool `dynamodbav:"template_sent"`
}

// NewItem builds a line item, deriving its subtotal.
func NewItem(productID, sku, variantID, title string, quantity int, unitPrice int64) Item {
	return Item{
		ProductID:  productID,
		ProductSKU: sku,
		VariantID:  variantID,
		Title:      title,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		Subtotal:   unitPrice * int64(quantity),
	}
}

// Total returns subtotal + shipping - discount.
func Total(subtotal, shipping, discount int64) int64 {
	return subtotal + shipping - discount
}
