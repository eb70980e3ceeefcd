package customers

import (
	"strings"
	"time"
)

// Defaults applied to newly created customers.
const (
	DefaultChannel  = "whatsapp"
	DefaultLanguage = "en"

	// creditedPaymentsCap bounds the payment ids remembered for stats dedup.
	creditedPaymentsCap = 50
)

// Customer is the document stored in the customers table, keyed by email.
type Customer struct {
	Email          string      `dynamodbav:"email"` // PK
	CustomerID     string      `dynamodbav:"customer_id"`
	Name           string      `dynamodbav:"name"`
	PrimaryPhone   string      `dynamodbav:"primary_phone"`
	SecondaryPhone string      `dynamodbav:"secondary_phone,omitempty"`
	Addresses      []Address   `dynamodbav:"addresses,omitempty"`
	Preferences    Preferences `dynamodbav:"preferences"`
	Stats          Stats       `dynamodbav:"stats"`
	Flags          Flags       `dynamodbav:"flags"`

	// CreditedPayments holds the most recent payment ids already counted in Stats.
	CreditedPayments []string `dynamodbav:"credited_payments,omitempty"`

	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	Version   int64     `dynamodbav:"version"`
}

type Address struct {
	Text      string `dynamodbav:"text"`
	Type      string `dynamodbav:"type"`
	IsDefault bool   `dynamodbav:"is_default"`
}

type Preferences struct {
	Language       string `dynamodbav:"language"`
	MarketingOptIn bool   `dynamodbav:"marketing_opt_in"`
	Channel        string `dynamodbav:"channel"`
}

type Stats struct {
	OrderCount  int64      `dynamodbav:"order_count"`
	TotalSpent  int64      `dynamodbav:"total_spent"`
	LastOrderAt *time.Time `dynamodbav:"last_order_at,omitempty"`
}

type Flags struct {
	Active   bool `dynamodbav:"active"`
	Verified bool `dynamodbav:"verified"`
}

// Profile is the customer data supplied with an order.
type Profile struct {
	Email          string
	Name           string
	Phone          string
	SecondaryPhone string
	Address        *Address
	Language       string
	MarketingOptIn *bool
}

// NormalizeEmail is the key policy for the directory: surrounding space is
// dropped and the address is lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// merge applies p onto c and reports whether anything changed.
func (c *Customer) merge(p Profile) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&c.Name, p.Name)
	set(&c.PrimaryPhone, p.Phone)
	set(&c.SecondaryPhone, p.SecondaryPhone)
	set(&c.Preferences.Language, p.Language)
	if p.MarketingOptIn != nil && c.Preferences.MarketingOptIn != *p.MarketingOptIn {
		c.Preferences.MarketingOptIn = *p.MarketingOptIn
		changed = true
	}
	if p.Address != nil && c.mergeAddress(*p.Address) {
		changed = true
	}
	return changed
}

// mergeAddress adds a unless an address with the same text and type exists.
// The first address is the default; a new default address demotes the others.
func (c *Customer) mergeAddress(a Address) bool {
	a.Text = strings.TrimSpace(a.Text)
	if a.Text == "" {
		return false
	}
	for _, existing := range c.Addresses {
		if existing.Text == a.Text && existing.Type == a.Type {
			return false
		}
	}
	if len(c.Addresses) == 0 {
		a.IsDefault = true
	}
	if a.IsDefault {
		for i := range c.Addresses {
			c.Addresses[i].IsDefault = false
		}
	}
	c.Addresses = append(c.Addresses, a)
	return true
}

// credit adds a paid order to the aggregate stats unless paymentID was
// already counted. It reports whether the stats changed.
func (c *Customer) credit(paymentID string, amount int64, at time.Time) bool {
	for _, id := range c.CreditedPayments {
		if id == paymentID {
			return false
		}
	}
	c.Stats.OrderCount++
	c.Stats.TotalSpent += amount
	at = at.UTC()
	c.Stats.LastOrderAt = &at
	c.CreditedPayments = append(c.CreditedPayments, paymentID)
	if n := len(c.CreditedPayments); n > creditedPaymentsCap {
		c.CreditedPayments = c.CreditedPayments[n-creditedPaymentsCap:]
	}
	return true
}
