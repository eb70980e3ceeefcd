package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// New returns a configured validator with custom struct-level validation registered.
// Field errors are reported under their JSON names.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})

	// the pricing block must agree with itself and with the item prices
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)
	p := req.Pricing

	allPriced := len(req.Items) > 0
	sum := decimal.Zero
	for _, it := range req.Items {
		if it.Price == nil {
			allPriced = false
			continue
		}
		if it.Price.IsNegative() {
			sl.ReportError(it.Price, "price", "Price", "gte", "0")
			continue
		}
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	if p.Subtotal == nil || p.Total == nil {
		return // reported by the required tags
	}
	shipping := orZero(p.Shipping)
	discount := orZero(p.Discount)

	if p.Subtotal.IsNegative() {
		sl.ReportError(p.Subtotal, "subtotal", "Subtotal", "gte", "0")
	}
	if shipping.IsNegative() {
		sl.ReportError(p.Shipping, "shipping", "Shipping", "gte", "0")
	}
	if discount.IsNegative() {
		sl.ReportError(p.Discount, "discount", "Discount", "gte", "0")
	}
	if allPriced && !sum.Equal(*p.Subtotal) {
		sl.ReportError(p.Subtotal, "subtotal", "Subtotal", "subtotal_matches_items", sum.StringFixed(2))
	}
	if want := p.Subtotal.Add(shipping).Sub(discount); !want.Equal(*p.Total) {
		sl.ReportError(p.Total, "total", "Total", "total_matches_pricing", want.StringFixed(2))
	}
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
