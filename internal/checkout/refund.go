package checkout

import (
	"context"
	"fmt"
	"log"

	"github.com/PortNumber53/show-association/backend/internal/models"
)

// RefundResult reports an admin refund.
type RefundResult struct {
	Payment  *models.Payment `json:"payment"`
	RefundID string          `json:"refund_id"`
	// ReconciliationPending is set when the provider refunded the money but the
	// local records could not all be updated; a refund_cascade job finishes them.
	ReconciliationPending bool `json:"reconciliation_pending"`
}

// RefundPayment fully refunds a succeeded payment and cascades the refund to
// its entries or fee purchases. Memberships are never revoked here.
func (s *Service) RefundPayment(ctx context.Context, paymentID int64) (*RefundResult, error) {
	p, err := s.payments.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PaymentStatusSucceeded {
		return nil, fmt.Errorf("%w (payment %d is %s)", ErrRefundNotAllowed, p.ID, p.Status)
	}
	if p.StripePaymentIntentID == nil || *p.StripePaymentIntentID == "" {
		return nil, ErrMissingPaymentIntent
	}

	refundID, err := s.provider.CreateRefund(ctx, *p.StripePaymentIntentID, fmt.Sprintf("refund-%d", p.ID))
	if err != nil {
		log.Printf("[refund] provider refund for payment %d failed: %v", p.ID, err)
		return nil, &ProviderError{Op: "create refund", Err: err}
	}
	log.Printf("[refund] payment %d refunded at provider (%s)", p.ID, refundID)

	result := &RefundResult{Payment: p, RefundID: refundID}
	if err := s.CascadeRefund(ctx, p); err != nil {
		log.Printf("[refund] CRITICAL: payment %d refunded at provider but local update failed: %v", p.ID, err)
		s.enqueueRefundCascade(ctx, p.ID)
		result.ReconciliationPending = true
	}
	return result, nil
}

// CascadeRefund records a provider-side refund locally: the payment becomes
// refunded, then its entries or fee purchases follow. p.Status is updated in
// place.
func (s *Service) CascadeRefund(ctx context.Context, p *models.Payment) error {
	if p.Status != models.PaymentStatusRefunded {
		if _, err := s.payments.MarkPaymentRefunded(ctx, p.ID); err != nil {
			return err
		}
		p.Status = models.PaymentStatusRefunded
	}
	return s.syncDependents(ctx, p, Intent{PaymentType: p.PaymentType})
}
