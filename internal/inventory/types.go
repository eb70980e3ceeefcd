// Package inventory restores catalog stock consumed by cancelled orders.
// Products belong to the catalog; this package only reads them and writes
// back stock counts and availability, attribute by attribute.
package inventory

const (
	StatusActive     = "active"
	StatusOutOfStock = "out-of-stock"
)

// Product is the stock-bearing part of a catalog product document. Other
// catalog attributes are never read or written here.
type Product struct {
	ProductID string    `dynamodbav:"product_id"` // PK
	Status    string    `dynamodbav:"status"`
	Inventory *Stock    `dynamodbav:"inventory,omitempty"`
	Variants  []Variant `dynamodbav:"variants,omitempty"`
}

type Stock struct {
	Stock int `dynamodbav:"stock"`
}

type Variant struct {
	VariantID string `dynamodbav:"variant_id"`
	SKU       string `dynamodbav:"sku"`
	Stock     int    `dynamodbav:"stock"`
}

// Restock is an in-place stock increment planned from a product as read.
// The write is conditioned on the product still looking that way.
type Restock struct {
	ProductID string
	// Variant is the index into Variants, or -1 for base stock.
	Variant   int
	// VariantID or SKU, whichever matched, pins Variant to the same entry.
	VariantID string
	SKU       string
	Quantity  int
	// NoBase is set when the product has no inventory attribute yet.
	NoBase    bool
	// Activate flips an out-of-stock product back to active.
	Activate  bool
}

// planRestock targets the matching variant, or base stock when the product
// has no variants. A variant is matched by id when one is given, by exact
// SKU otherwise. It reports false when no variant matches.
func (p *Product) planRestock(variantID, sku string, qty int) (Restock, bool) {
	r := Restock{
		ProductID: p.ProductID,
		Variant:   -1,
		Quantity:  qty,
		// qty is positive, so the product has stock afterwards
		Activate: p.Status == StatusOutOfStock,
	}
	if len(p.Variants) == 0 {
		r.NoBase = p.Inventory == nil
		return r, true
	}

	for i, v := range p.Variants {
		if variantID != "" && v.VariantID == variantID {
			r.Variant, r.VariantID = i, variantID
			return r, true
		}
		if variantID == "" && sku != "" && v.SKU == sku {
			r.Variant, r.SKU = i, sku
			return r, true
		}
	}
	return Restock{}, false
}
