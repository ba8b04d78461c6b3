package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
)

// ReconcileCheckout repairs a checkout whose best-effort writes failed. It
// records the pending payment when no row exists, then brings entries and fee
// purchases in line with whatever status the payment has reached.
func (s *Service) ReconcileCheckout(ctx context.Context, payload models.JSONB) error {
	sessionID := payload.String("session_id")
	if sessionID == "" {
		return errors.New("reconcile_checkout: missing session_id")
	}
	intent, err := ParseIntent(metadataFromPayload(payload["metadata"]))
	if err != nil {
		return fmt.Errorf("reconcile_checkout: %w", err)
	}
	amount, _ := payload.Int64("amount_cents")

	p, err := s.payments.GetPaymentBySessionID(ctx, sessionID)
	if errors.Is(err, store.ErrPaymentNotFound) {
		p = &models.Payment{
			AmountCents:     amount,
			Currency:        s.currency,
			PaymentType:     intent.PaymentType,
			Status:          models.PaymentStatusPending,
			StripeSessionID: sessionID,
		}
		if intent.MemberID != 0 {
			p.MemberID = &intent.MemberID
		} else {
			p.GuestName = &intent.GuestName
			p.GuestEmail = &intent.GuestEmail
		}
		if err := s.payments.CreatePayment(ctx, p); err != nil {
			if !errors.Is(err, store.ErrPaymentExists) {
				return err
			}
			if p, err = s.payments.GetPaymentBySessionID(ctx, sessionID); err != nil {
				return err
			}
		} else {
			log.Printf("[reconcile] recorded pending payment %d for session %s", p.ID, sessionID)
		}
	} else if err != nil {
		return err
	}

	return s.syncDependents(ctx, p, intent)
}

// RetryActivation re-runs a membership activation that failed during
// fulfillment. Jobs queued before the term was recorded use the tier's
// current duration.
func (s *Service) RetryActivation(ctx context.Context, payload models.JSONB) error {
	memberID, ok := payload.Int64("member_id")
	if !ok {
		return errors.New("activate_membership: missing member_id")
	}
	slug := payload.String("membership_slug")
	if slug == "" {
		return errors.New("activate_membership: missing membership_slug")
	}
	start, err := time.Parse(time.DateOnly, payload.String("start"))
	if err != nil {
		return fmt.Errorf("activate_membership: invalid start: %w", err)
	}
	term, err := ParseTerm(payload.String("duration_months"))
	if err != nil {
		return fmt.Errorf("activate_membership: %w", err)
	}
	return s.ActivateMembership(ctx, MembershipGrant{
		MemberID:   memberID,
		Slug:       slug,
		Term:       term,
		Start:      start,
		CustomerID: payload.String("customer_id"),
	})
}

// RetryRefundCascade finishes the local side of a provider refund.
func (s *Service) RetryRefundCascade(ctx context.Context, payload models.JSONB) error {
	paymentID, ok := payload.Int64("payment_id")
	if !ok {
		return errors.New("refund_cascade: missing payment_id")
	}
	p, err := s.payments.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}
	return s.CascadeRefund(ctx, p)
}

// RetryReleaseEntries returns reserved entries of a checkout that never got a
// session back to draft.
func (s *Service) RetryReleaseEntries(ctx context.Context, payload models.JSONB) error {
	ids, err := int64Slice(payload["entry_ids"])
	if err != nil {
		return fmt.Errorf("release_entries: %w", err)
	}
	_, err = s.entries.ReleaseReservedEntries(ctx, ids)
	return err
}

func int64Slice(v interface{}) ([]int64, error) {
	switch vals := v.(type) {
	case []int64:
		return vals, nil
	case []interface{}:
		out := make([]int64, 0, len(vals))
		for _, raw := range vals {
			n, ok := models.JSONB{"v": raw}.Int64("v")
			if !ok {
				return nil, fmt.Errorf("invalid id %v", raw)
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of ids, got %T", v)
}
