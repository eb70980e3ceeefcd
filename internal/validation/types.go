package validation

import "github.com/shopspring/decimal"

// CustomerInput identifies the buyer of a new order.
type CustomerInput struct {
	FullName       string `json:"fullName" validate:"required,max=200"`
	Email          string `json:"email" validate:"required,email"`
	Phone          string `json:"phone" validate:"required,max=32"`
	SecondaryPhone string `json:"secondaryPhone,omitempty" validate:"omitempty,max=32"`
	Address        string `json:"address,omitempty" validate:"omitempty,max=500"`
	AddressType    string `json:"addressType,omitempty" validate:"omitempty,oneof=home work other"`
	Language       string `json:"language,omitempty" validate:"omitempty,oneof=en si ta"`
	MarketingOptIn *bool  `json:"marketingOptIn,omitempty"`
}

type ProductRef struct {
	ID    string `json:"id" validate:"required"`
	SKU   string `json:"sku,omitempty"`
	Title string `json:"title,omitempty"`
}

// VariantRef is the purchased variant. ID is preferred for later stock
// restoration; SKU is kept for orders placed before variant ids existed.
type VariantRef struct {
	ID   string `json:"id,omitempty"`
	SKU  string `json:"sku,omitempty"`
	Name string `json:"name,omitempty"`
}

// Item represents a single order line item.
type Item struct {
	Product  ProductRef       `json:"product"`
	Variant  *VariantRef      `json:"variant,omitempty"`
	Quantity int              `json:"quantity" validate:"required,min=1"`
	Price    *decimal.Decimal `json:"price,omitempty"` // unit price, optional
}

// Pricing is computed upstream and only checked for consistency here.
type Pricing struct {
	Subtotal *decimal.Decimal `json:"subtotal" validate:"required"`
	Shipping *decimal.Decimal `json:"shipping,omitempty"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
	Total    *decimal.Decimal `json:"total" validate:"required"`
}

// CreateOrderRequest is the payload for POST /orders
type CreateOrderRequest struct {
	Customer            CustomerInput `json:"customer"`
	Items               []Item        `json:"items" validate:"required,min=1,dive"`
	Pricing             Pricing       `json:"pricing"`
	SpecialInstructions string        `json:"specialInstructions,omitempty" validate:"max=1000"`
	OrderSource         string        `json:"orderSource,omitempty" validate:"max=50"`
}

// CancelOrderRequest is the payload for PATCH /orders/cancel/:orderNumber
type CancelOrderRequest struct {
	Action     string `json:"action" validate:"required,eq=cancel"`
	CustomerID string `json:"customerId" validate:"required"`
}

// TrackOrderRequest is accepted as query parameters or as a JSON body.
type TrackOrderRequest struct {
	OrderNumber string `json:"orderNumber" form:"orderNumber" validate:"required,max=64"`
	Email       string `json:"email,omitempty" form:"email" validate:"omitempty,email"`
	Phone       string `json:"phone,omitempty" form:"phone" validate:"omitempty,max=32"`
	CustomerID  string `json:"customerId,omitempty" form:"customerId"`
}

// PaymentNotification is the gateway's form-encoded webhook body.
type PaymentNotification struct {
	MerchantID     string `form:"merchant_id" validate:"required"`
	OrderID        string `form:"order_id" validate:"required"`
	PaymentID      string `form:"payment_id" validate:"required"`
	Amount         string `form:"payhere_amount" validate:"required"`
	Currency       string `form:"payhere_currency" validate:"required"`
	StatusCode     string `form:"status_code" validate:"required"`
	MD5Sig         string `form:"md5sig" validate:"required"`
	Method         string `form:"method"`
	CardNo         string `form:"card_no"`
	CardHolderName string `form:"card_holder_name"`
	CardExpiry     string `form:"card_expiry"`
	Custom1        string `form:"custom_1"`
	Custom2        string `form:"custom_2"`
}
