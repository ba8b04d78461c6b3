// Package checkout builds payment sessions for memberships, show entries and
// additional fees, records them as pending payments, applies webhook
// fulfillment, and runs admin refunds with their cascades.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/stripe"
	"github.com/PortNumber53/show-association/backend/internal/validate"
)

// Provider is the payment provider API used by checkout.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req stripe.SessionRequest) (*stripe.Session, error)
	CreateRefund(ctx context.Context, paymentIntentID, idempotencyKey string) (string, error)
	CreateCustomer(ctx context.Context, email, name string, memberID int64) (string, error)
}

// MemberStore reads and updates member rows.
type MemberStore interface {
	GetMemberByID(ctx context.Context, id int64) (*models.Member, error)
	SetStripeCustomerID(ctx context.Context, memberID int64, customerID string) error
	ActivateMembership(ctx context.Context, a models.MembershipActivation) error
}

// CatalogStore reads priced catalog items.
type CatalogStore interface {
	GetMembershipTypeBySlug(ctx context.Context, slug string) (*models.MembershipType, error)
	GetFeeTypesByIDs(ctx context.Context, ids []int64) ([]models.FeeType, error)
}

// EntryStore moves show entries through checkout.
type EntryStore interface {
	GetEntriesByIDs(ctx context.Context, ids []int64) ([]models.ShowEntry, error)
	ReserveEntries(ctx context.Context, memberID int64, entryIDs []int64) ([]int64, error)
	ReleaseReservedEntries(ctx context.Context, entryIDs []int64) (int64, error)
	AttachPayment(ctx context.Context, entryIDs []int64, paymentID int64) (int64, error)
	ConfirmEntries(ctx context.Context, paymentID int64, entryIDs []int64) (int64, error)
	RefundEntriesForPayment(ctx context.Context, paymentID int64) (int64, error)
	ReleaseEntries(ctx context.Context, paymentID int64, entryIDs []int64) (int64, error)
}

// PaymentStore records payments and fee purchases.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	MarkPaymentSucceeded(ctx context.Context, sessionID, paymentIntentID string) (*models.Payment, bool, error)
	MarkPaymentFailed(ctx context.Context, sessionID string) (*models.Payment, bool, error)
	MarkPaymentRefunded(ctx context.Context, id int64) (bool, error)
	CreateFeePurchases(ctx context.Context, purchases []models.FeePurchase) error
	CountFeePurchasesForPayment(ctx context.Context, paymentID int64) (int, error)
	FulfillFeePurchases(ctx context.Context, paymentID int64) (int64, error)
	RefundFeePurchases(ctx context.Context, paymentID int64) (int64, error)
	CancelFeePurchases(ctx context.Context, paymentID int64) (int64, error)
}

// JobQueue accepts reconciliation jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Deps wires a Service.
type Deps struct {
	Members  MemberStore
	Catalog  CatalogStore
	Entries  EntryStore
	Payments PaymentStore
	Jobs     JobQueue
	Provider Provider
	// BaseURL is the public web app origin used for redirect URLs.
	BaseURL  string
	Currency string
}

// Service implements the checkout and fulfillment flows.
type Service struct {
	members  MemberStore
	catalog  CatalogStore
	entries  EntryStore
	payments PaymentStore
	jobs     JobQueue
	provider Provider
	baseURL  string
	currency string
	now      func() time.Time
}

// NewService creates a checkout Service.
func NewService(d Deps) *Service {
	currency := strings.ToLower(d.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		members:  d.Members,
		catalog:  d.Catalog,
		entries:  d.Entries,
		payments: d.Payments,
		jobs:     d.Jobs,
		provider: d.Provider,
		baseURL:  strings.TrimRight(d.BaseURL, "/"),
		currency: currency,
		now:      time.Now,
	}
}

// Result is a created checkout session.
type Result struct {
	SessionID   string `json:"session_id"`
	URL         string `json:"url"`
	AmountCents int64  `json:"amount_cents"`
}

// FeeItemRequest is one fee type and quantity to buy.
type FeeItemRequest struct {
	FeeTypeID int64 `json:"fee_type_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,min=1"`
}

// Guest identifies a purchaser without a member account.
type Guest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=254"`
}

type entryCheckoutRequest struct {
	EntryIDs []int64 `json:"entry_ids" validate:"min=1,max=20,unique,dive,gt=0"`
}

type feeCheckoutRequest struct {
	Items []FeeItemRequest `json:"items" validate:"min=1,max=20,dive"`
}

// Total sums unit price times quantity over line items, in cents.
func Total(items []stripe.LineItem) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitAmountCents * it.Quantity
	}
	return total
}

func (s *Service) redirectURLs(guest bool) (success, cancel string) {
	if guest {
		return s.baseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}", s.baseURL + "/checkout/cancel"
	}
	return s.baseURL + "/portal/checkout/success?session_id={CHECKOUT_SESSION_ID}", s.baseURL + "/portal/checkout/cancel"
}

// CreateMembershipCheckout starts a checkout for the membership tier slug.
func (s *Service) CreateMembershipCheckout(ctx context.Context, memberID int64, slug string) (*Result, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, invalid("membership_slug is required")
	}

	member, err := s.members.GetMemberByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.MembershipStatus == models.MembershipStatusSuspended {
		return nil, invalid("membership is suspended; contact the association office")
	}

	tier, err := s.catalog.GetMembershipTypeBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrMembershipTypeNotFound) {
			return nil, invalid("membership type %q is not available", slug)
		}
		return nil, err
	}
	if !tier.IsActive || tier.PriceCents <= 0 {
		return nil, invalid("membership type %q is not available", slug)
	}

	paymentType := models.PaymentTypeMembershipDues
	if member.HasHeldMembership() {
		paymentType = models.PaymentTypeMembershipRenewal
	}

	intent := Intent{PaymentType: paymentType, MemberID: member.ID, MembershipSlug: tier.Slug, Term: TermOf(tier)}
	items := []stripe.LineItem{{Name: tier.Name, UnitAmountCents: tier.PriceCents, Quantity: 1}}

	res, err := s.startSession(ctx, member, nil, intent, items)
	if err != nil {
		return nil, err
	}

	s.recordPending(ctx, res, intent, tier.Name+" membership", nil)
	return res, nil
}

// CreateEntryCheckout starts one checkout covering the member's draft entries.
// Entries are reserved before the session is created and released again when
// the provider call fails.
func (s *Service) CreateEntryCheckout(ctx context.Context, memberID int64, entryIDs []int64) (*Result, error) {
	if err := validate.Struct(entryCheckoutRequest{EntryIDs: entryIDs}); err != nil {
		return nil, err
	}

	member, err := s.members.GetMemberByID(ctx, memberID)
	if err != nil {
		return nil, err
	}

	entries, err := s.entries.GetEntriesByIDs(ctx, entryIDs)
	if err != nil {
		return nil, err
	}
	if len(entries) != len(entryIDs) {
		return nil, ErrEntriesUnavailable
	}

	byID := make(map[int64]models.ShowEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	showID := entries[0].ShowID
	items := make([]stripe.LineItem, 0, len(entryIDs))
	for _, id := range entryIDs {
		e := byID[id]
		if e.MemberID != member.ID || !e.IsDraft() || e.ShowID != showID || len(e.Classes) == 0 {
			return nil, ErrEntriesUnavailable
		}
		var amount int64
		for _, c := range e.Classes {
			amount += c.FeeCents
		}
		if amount <= 0 {
			return nil, ErrEntriesUnavailable
		}
		items = append(items, stripe.LineItem{
			Name:            fmt.Sprintf("Show entry: %s / %s", e.HorseName, e.RiderName),
			UnitAmountCents: amount,
			Quantity:        1,
		})
	}

	reserved, err := s.entries.ReserveEntries(ctx, member.ID, entryIDs)
	if err != nil {
		return nil, err
	}
	if len(reserved) != len(entryIDs) {
		s.releaseReserved(ctx, member.ID, reserved)
		return nil, ErrEntriesUnavailable
	}

	intent := Intent{PaymentType: models.PaymentTypeEntryFees, MemberID: member.ID, ShowID: showID, EntryIDs: entryIDs}
	res, err := s.startSession(ctx, member, nil, intent, items)
	if err != nil {
		s.releaseReserved(ctx, member.ID, reserved)
		return nil, err
	}

	s.recordPending(ctx, res, intent, fmt.Sprintf("Show entry fees (%d entries)", len(entryIDs)), nil)
	return res, nil
}

// CreateFeeCheckout starts a checkout for additional fee items. Exactly one of
// memberID (non-zero) or guest identifies the purchaser.
func (s *Service) CreateFeeCheckout(ctx context.Context, memberID int64, guest *Guest, items []FeeItemRequest) (*Result, error) {
	if err := validate.Struct(feeCheckoutRequest{Items: items}); err != nil {
		return nil, err
	}

	var member *models.Member
	intent := Intent{PaymentType: models.PaymentTypeAdditionalFees}
	if memberID != 0 {
		m, err := s.members.GetMemberByID(ctx, memberID)
		if err != nil {
			return nil, err
		}
		member = m
		intent.MemberID = m.ID
	} else {
		if guest == nil {
			return nil, invalid("name and email are required")
		}
		g := Guest{Name: strings.TrimSpace(guest.Name), Email: strings.TrimSpace(guest.Email)}
		if err := validate.Struct(g); err != nil {
			return nil, err
		}
		guest = &g
		intent.GuestName = g.Name
		intent.GuestEmail = g.Email
		intent.GuestReference = uuid.New().String()
	}

	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, it := range items {
		if seen[it.FeeTypeID] {
			return nil, invalid("fee type %d is listed more than once", it.FeeTypeID)
		}
		seen[it.FeeTypeID] = true
		ids = append(ids, it.FeeTypeID)
	}

	feeTypes, err := s.catalog.GetFeeTypesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.FeeType, len(feeTypes))
	for _, f := range feeTypes {
		byID[f.ID] = f
	}

	lines := make([]stripe.LineItem, 0, len(items))
	for _, it := range items {
		f, ok := byID[it.FeeTypeID]
		if !ok || !f.IsActive {
			return nil, invalid("fee type %d is not available", it.FeeTypeID)
		}
		if it.Quantity > f.MaxQuantity {
			return nil, invalid("quantity for %s must be between 1 and %d", f.Name, f.MaxQuantity)
		}
		intent.FeeItems = append(intent.FeeItems, FeeLine{
			FeeTypeID:      f.ID,
			Name:           f.Name,
			Quantity:       it.Quantity,
			UnitPriceCents: f.PriceCents,
		})
		lines = append(lines, stripe.LineItem{Name: f.Name, UnitAmountCents: f.PriceCents, Quantity: int64(it.Quantity)})
	}

	res, err := s.startSession(ctx, member, guest, intent, lines)
	if err != nil {
		return nil, err
	}

	s.recordPending(ctx, res, intent, "Additional fees", guest)
	return res, nil
}

// startSession creates the provider session. Members pay as a provider
// customer; guests by email.
func (s *Service) startSession(ctx context.Context, member *models.Member, guest *Guest, intent Intent, items []stripe.LineItem) (*Result, error) {
	success, cancel := s.redirectURLs(member == nil)
	req := stripe.SessionRequest{
		Currency:   s.currency,
		LineItems:  items,
		SuccessURL: success,
		CancelURL:  cancel,
		Metadata:   intent.Metadata(),
	}
	if member != nil {
		req.CustomerEmail = member.Email
		req.CustomerID = s.ensureCustomer(ctx, member)
	} else if guest != nil {
		req.CustomerEmail = guest.Email
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		log.Printf("[checkout] create session for %s failed: %v", intent.PaymentType, err)
		return nil, &ProviderError{Op: "create checkout session", Err: err}
	}
	return &Result{SessionID: sess.ID, URL: sess.URL, AmountCents: Total(items)}, nil
}

// ensureCustomer returns the member's provider customer id, creating and
// storing one when missing. Failures fall back to paying by email.
func (s *Service) ensureCustomer(ctx context.Context, member *models.Member) string {
	if member.StripeCustomerID != nil && *member.StripeCustomerID != "" {
		return *member.StripeCustomerID
	}
	id, err := s.provider.CreateCustomer(ctx, member.Email, member.FullName(), member.ID)
	if err != nil {
		log.Printf("[checkout] create customer for member %d failed, paying by email: %v", member.ID, err)
		return ""
	}
	if err := s.members.SetStripeCustomerID(ctx, member.ID, id); err != nil {
		log.Printf("[checkout] store customer id for member %d failed: %v", member.ID, err)
	}
	member.StripeCustomerID = &id
	return id
}

func (s *Service) releaseReserved(ctx context.Context, memberID int64, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if _, err := s.entries.ReleaseReservedEntries(ctx, ids); err != nil {
		log.Printf("[checkout] release reserved entries %v failed: %v", ids, err)
		s.enqueue(ctx, JobReleaseEntries, models.JobPriorityHigh, models.JSONB{
			"member_id": memberID,
			"entry_ids": ids,
		})
	}
}

// recordPending writes the pending payment and links entries or fee purchases
// to it. Failures never fail the checkout; they queue a reconcile_checkout job
// carrying the full intent.
func (s *Service) recordPending(ctx context.Context, res *Result, intent Intent, description string, guest *Guest) {
	p := &models.Payment{
		AmountCents:     res.AmountCents,
		Currency:        s.currency,
		PaymentType:     intent.PaymentType,
		Status:          models.PaymentStatusPending,
		StripeSessionID: res.SessionID,
		Description:     &description,
	}
	if intent.MemberID != 0 {
		p.MemberID = &intent.MemberID
	} else if guest != nil {
		p.GuestName = &guest.Name
		p.GuestEmail = &guest.Email
	}

	if err := s.payments.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrPaymentExists) {
			return
		}
		log.Printf("[checkout] record pending payment for session %s failed: %v", res.SessionID, err)
		s.enqueueReconcile(ctx, res.SessionID, res.AmountCents, intent)
		return
	}

	if err := s.linkPending(ctx, p, intent); err != nil {
		log.Printf("[checkout] link pending payment %d failed: %v", p.ID, err)
		s.enqueueReconcile(ctx, res.SessionID, res.AmountCents, intent)
	}
}

// linkPending attaches a pending payment's entries or fee purchases.
func (s *Service) linkPending(ctx context.Context, p *models.Payment, intent Intent) error {
	switch p.PaymentType {
	case models.PaymentTypeEntryFees:
		if _, err := s.entries.AttachPayment(ctx, intent.EntryIDs, p.ID); err != nil {
			return err
		}
	case models.PaymentTypeAdditionalFees:
		return s.ensureFeePurchases(ctx, p, intent, models.FeePurchaseStatusPending)
	}
	return nil
}

// ensureFeePurchases inserts the fee purchase rows of a payment from the
// intent, unless rows already exist.
func (s *Service) ensureFeePurchases(ctx context.Context, p *models.Payment, intent Intent, status models.FeePurchaseStatus) error {
	n, err := s.payments.CountFeePurchasesForPayment(ctx, p.ID)
	if err != nil {
		return err
	}
	if n > 0 || len(intent.FeeItems) == 0 {
		return nil
	}

	names := map[int64]string{}
	missing := make([]int64, 0, len(intent.FeeItems))
	for _, f := range intent.FeeItems {
		if f.Name == "" {
			missing = append(missing, f.FeeTypeID)
		}
	}
	if len(missing) > 0 {
		if types, err := s.catalog.GetFeeTypesByIDs(ctx, missing); err == nil {
			for _, t := range types {
				names[t.ID] = t.Name
			}
		}
	}

	paymentID := p.ID
	purchases := make([]models.FeePurchase, 0, len(intent.FeeItems))
	for _, f := range intent.FeeItems {
		name := f.Name
		if name == "" {
			name = names[f.FeeTypeID]
		}
		if name == "" {
			name = fmt.Sprintf("Fee #%d", f.FeeTypeID)
		}
		fp := models.FeePurchase{
			PaymentID:      &paymentID,
			FeeTypeID:      f.FeeTypeID,
			FeeName:        name,
			Quantity:       f.Quantity,
			UnitPriceCents: f.UnitPriceCents,
			TotalCents:     f.UnitPriceCents * int64(f.Quantity),
			Status:         status,
		}
		if intent.MemberID != 0 {
			memberID := intent.MemberID
			fp.MemberID = &memberID
		} else {
			name, email := intent.GuestName, intent.GuestEmail
			fp.GuestName, fp.GuestEmail = &name, &email
		}
		if intent.GuestReference != "" {
			ref := intent.GuestReference
			fp.GuestReference = &ref
		}
		purchases = append(purchases, fp)
	}
	return s.payments.CreateFeePurchases(ctx, purchases)
}
