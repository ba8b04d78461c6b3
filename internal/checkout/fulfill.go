package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/stripe"
)

// HandleEvent applies a verified webhook event. Unknown event types are ignored.
func (s *Service) HandleEvent(ctx context.Context, ev *stripe.Event) error {
	switch ev.Type {
	case stripe.EventCheckoutCompleted, stripe.EventCheckoutAsyncSucceeded:
		return s.HandleCheckoutCompleted(ctx, ev.Session)
	case stripe.EventCheckoutExpired, stripe.EventCheckoutAsyncFailed:
		return s.HandleCheckoutExpired(ctx, ev.Session)
	default:
		log.Printf("[webhook] ignoring event %s (%s)", ev.ID, ev.Type)
		return nil
	}
}

// HandleCheckoutCompleted marks the session's payment succeeded and applies its
// domain effect. Only the delivery that performs the pending to succeeded
// transition, or inserts the payment when none was recorded, applies effects;
// every other delivery of the same session is a no-op. A session completed
// with a delayed payment method stays pending until its async result arrives.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	if sess == nil || sess.ID == "" {
		return errors.New("checkout completed event without session")
	}
	if !sessionPaid(sess) {
		log.Printf("[webhook] session %s completed with payment_status %q; waiting for async payment", sess.ID, sess.PaymentStatus)
		return nil
	}

	existing, err := s.payments.GetPaymentBySessionID(ctx, sess.ID)
	switch {
	case err == nil && existing.Status != models.PaymentStatusPending:
		log.Printf("[webhook] session %s already %s; skipping", sess.ID, existing.Status)
		return nil
	case err != nil && !errors.Is(err, store.ErrPaymentNotFound):
		return err
	}

	intent, intentErr := ParseIntent(sess.Metadata)

	p, changed, err := s.payments.MarkPaymentSucceeded(ctx, sess.ID, sess.PaymentIntentID)
	if err != nil {
		return err
	}
	if !changed {
		if intentErr != nil {
			log.Printf("[webhook] CRITICAL: session %s paid with unreadable metadata: %v", sess.ID, intentErr)
			return &FulfillmentError{SessionID: sess.ID, Err: intentErr}
		}
		p, changed, err = s.insertSucceeded(ctx, sess, intent)
		if err != nil {
			return err
		}
		if !changed {
			log.Printf("[webhook] session %s handled by a concurrent delivery; skipping", sess.ID)
			return nil
		}
	}

	log.Printf("[webhook] payment %d (%s) succeeded for session %s", p.ID, p.PaymentType, sess.ID)
	if intentErr != nil {
		// the stored row still links entries and fee purchases by payment id
		log.Printf("[webhook] session %s metadata unreadable, using payment row only: %v", sess.ID, intentErr)
		intent = Intent{PaymentType: p.PaymentType}
		if p.MemberID != nil {
			intent.MemberID = *p.MemberID
		}
	}
	return s.applyEffects(ctx, p, intent, sess)
}

func sessionPaid(sess *stripe.CheckoutSession) bool {
	switch sess.PaymentStatus {
	case stripe.PaymentStatusPaid, stripe.PaymentStatusNoPaymentRequired:
		return true
	}
	return false
}

// insertSucceeded is the fallback for a session whose pending row was never
// written. The bool is false when another delivery inserted the row first.
func (s *Service) insertSucceeded(ctx context.Context, sess *stripe.CheckoutSession, intent Intent) (*models.Payment, bool, error) {
	p := &models.Payment{
		AmountCents:     sess.AmountTotal,
		Currency:        s.currency,
		PaymentType:     intent.PaymentType,
		Status:          models.PaymentStatusSucceeded,
		StripeSessionID: sess.ID,
	}
	if sess.PaymentIntentID != "" {
		pi := sess.PaymentIntentID
		p.StripePaymentIntentID = &pi
	}
	if intent.MemberID != 0 {
		p.MemberID = &intent.MemberID
	} else {
		p.GuestName = &intent.GuestName
		p.GuestEmail = &intent.GuestEmail
	}
	desc := "Recorded from provider notification"
	p.Description = &desc

	if err := s.payments.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrPaymentExists) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("insert succeeded payment: %w", err)
	}
	log.Printf("[webhook] no pending payment for session %s; recorded payment %d from metadata", sess.ID, p.ID)
	return p, true, nil
}

func (s *Service) applyEffects(ctx context.Context, p *models.Payment, intent Intent, sess *stripe.CheckoutSession) error {
	if p.PaymentType.IsMembership() {
		memberID := intent.MemberID
		if memberID == 0 && p.MemberID != nil {
			memberID = *p.MemberID
		}
		if intent.MembershipSlug == "" || memberID == 0 {
			err := errors.New("membership purchase without member or tier")
			log.Printf("[webhook] CRITICAL: payment %d: %v", p.ID, err)
			return &FulfillmentError{PaymentID: p.ID, SessionID: sess.ID, Err: err}
		}
		grant := MembershipGrant{
			MemberID:   memberID,
			Slug:       intent.MembershipSlug,
			Term:       intent.Term,
			Start:      s.now(),
			CustomerID: sess.CustomerID,
		}
		if err := s.ActivateMembership(ctx, grant); err != nil {
			log.Printf("[webhook] CRITICAL: payment %d succeeded but membership activation for member %d failed: %v", p.ID, memberID, err)
			s.enqueueActivation(ctx, p.ID, grant)
			return &FulfillmentError{PaymentID: p.ID, SessionID: sess.ID, Err: err}
		}
		return nil
	}

	if err := s.syncDependents(ctx, p, intent); err != nil {
		log.Printf("[webhook] fulfilling payment %d failed: %v", p.ID, err)
		s.enqueueReconcile(ctx, sess.ID, p.AmountCents, intent)
	}
	return nil
}

// MembershipGrant is a paid membership to write to the member.
type MembershipGrant struct {
	MemberID   int64
	Slug       string
	Term       Term
	Start      time.Time
	CustomerID string
}

// ActivateMembership grants the tier bought on g.Start to the member. The
// expiry is the start date plus the term sold at checkout, falling back to the
// tier's current duration for sessions that did not record one. Running it
// twice with the same grant writes the same row, and a grant that would
// shorten a membership the member already holds is skipped.
func (s *Service) ActivateMembership(ctx context.Context, g MembershipGrant) error {
	term := g.Term
	if !term.Known() {
		tier, err := s.catalog.GetMembershipTypeBySlug(ctx, g.Slug)
		if err != nil {
			return fmt.Errorf("look up membership type %q: %w", g.Slug, err)
		}
		term = TermOf(tier)
	}
	day := models.DateOnly(g.Start)
	activation := models.MembershipActivation{
		MemberID:         g.MemberID,
		MembershipType:   g.Slug,
		Start:            day,
		Expiry:           term.ExpiryFrom(day),
		StripeCustomerID: g.CustomerID,
	}
	err := s.members.ActivateMembership(ctx, activation)
	if errors.Is(err, store.ErrMembershipSuperseded) {
		log.Printf("[checkout] member %d already holds a longer membership; %s from %s not applied",
			g.MemberID, g.Slug, day.Format(time.DateOnly))
		return nil
	}
	if err != nil {
		return err
	}
	if activation.Expiry == nil {
		log.Printf("[checkout] member %d activated on %s (lifetime)", g.MemberID, g.Slug)
	} else {
		log.Printf("[checkout] member %d activated on %s until %s", g.MemberID, g.Slug, activation.Expiry.Format(time.DateOnly))
	}
	return nil
}

// syncDependents brings a payment's entries and fee purchases in line with the
// payment status. Every branch is a guarded update, so repeating it is safe.
func (s *Service) syncDependents(ctx context.Context, p *models.Payment, intent Intent) error {
	switch p.PaymentType {
	case models.PaymentTypeEntryFees:
		var (
			n   int64
			err error
		)
		switch p.Status {
		case models.PaymentStatusPending:
			n, err = s.entries.AttachPayment(ctx, intent.EntryIDs, p.ID)
		case models.PaymentStatusSucceeded:
			n, err = s.entries.ConfirmEntries(ctx, p.ID, intent.EntryIDs)
		case models.PaymentStatusFailed:
			n, err = s.entries.ReleaseEntries(ctx, p.ID, intent.EntryIDs)
		case models.PaymentStatusRefunded:
			n, err = s.entries.RefundEntriesForPayment(ctx, p.ID)
		}
		if err != nil {
			return err
		}
		log.Printf("[checkout] payment %d %s: %d entries updated", p.ID, p.Status, n)

	case models.PaymentTypeAdditionalFees:
		switch p.Status {
		case models.PaymentStatusPending:
			return s.ensureFeePurchases(ctx, p, intent, models.FeePurchaseStatusPending)
		case models.PaymentStatusSucceeded:
			n, err := s.payments.FulfillFeePurchases(ctx, p.ID)
			if err != nil {
				return err
			}
			if n == 0 {
				return s.ensureFeePurchases(ctx, p, intent, models.FeePurchaseStatusFulfilled)
			}
		case models.PaymentStatusFailed:
			if _, err := s.payments.CancelFeePurchases(ctx, p.ID); err != nil {
				return err
			}
		case models.PaymentStatusRefunded:
			if _, err := s.payments.RefundFeePurchases(ctx, p.ID); err != nil {
				return err
			}
		}

	default:
		if p.Status == models.PaymentStatusRefunded && p.PaymentType.IsMembership() {
			log.Printf("[checkout] payment %d refunded; membership left unchanged pending admin decision", p.ID)
		}
	}
	return nil
}

// HandleCheckoutExpired fails the pending payment of an abandoned session, or
// of one whose delayed payment failed, and returns its entries to draft.
func (s *Service) HandleCheckoutExpired(ctx context.Context, sess *stripe.CheckoutSession) error {
	if sess == nil || sess.ID == "" {
		return errors.New("checkout expired event without session")
	}
	intent, intentErr := ParseIntent(sess.Metadata)

	p, changed, err := s.payments.MarkPaymentFailed(ctx, sess.ID)
	if err != nil {
		return err
	}
	if !changed {
		if _, err := s.payments.GetPaymentBySessionID(ctx, sess.ID); err == nil {
			return nil
		}
		// never recorded: only the reservation needs undoing
		if intentErr == nil && intent.PaymentType == models.PaymentTypeEntryFees {
			if _, err := s.entries.ReleaseReservedEntries(ctx, intent.EntryIDs); err != nil {
				log.Printf("[webhook] releasing entries of expired session %s failed: %v", sess.ID, err)
				s.enqueue(ctx, JobReleaseEntries, models.JobPriorityHigh, models.JSONB{
					"member_id": intent.MemberID,
					"entry_ids": intent.EntryIDs,
				})
			}
		}
		return nil
	}

	log.Printf("[webhook] session %s closed unpaid; payment %d failed", sess.ID, p.ID)
	if intentErr != nil {
		intent = Intent{PaymentType: p.PaymentType}
	}
	if err := s.syncDependents(ctx, p, intent); err != nil {
		log.Printf("[webhook] releasing dependents of payment %d failed: %v", p.ID, err)
		s.enqueueReconcile(ctx, sess.ID, p.AmountCents, intent)
	}
	return nil
}
