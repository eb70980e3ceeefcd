package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
)

// CreditHandler applies customer.credit compensations. The credit itself is
// deduplicated by payment id, so a retried action never counts twice.
func (s *Store) CreditHandler() compensation.Handler {
	return func(ctx context.Context, rec compensation.Record) error {
		p := rec.Payload
		at := s.nowFunc()
		if p.PaidAt != nil {
			at = *p.PaidAt
		}
		_, err := s.CreditPayment(ctx, p.Email, p.PaymentID, p.Amount, at)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("credit %s: %w", p.Email, compensation.ErrPermanent)
		}
		return err
	}
}
