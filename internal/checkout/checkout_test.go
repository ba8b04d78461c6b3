package checkout

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/stripe"
	"github.com/PortNumber53/show-association/backend/internal/validate"
)

const testMemberID = int64(9)

type fixture struct {
	db       *memDB
	provider *fakeProvider
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()
	db.members[testMemberID] = &models.Member{
		ID:               testMemberID,
		Email:            "ada@example.com",
		FirstName:        "Ada",
		LastName:         "Rider",
		Role:             models.MemberRoleMember,
		MembershipStatus: models.MembershipStatusPending,
	}
	twelve := 12
	db.tiers["annual"] = &models.MembershipType{ID: 1, Slug: "annual", Name: "Annual", PriceCents: 7500, DurationMonths: &twelve, IsActive: true}
	db.tiers["lifetime"] = &models.MembershipType{ID: 2, Slug: "lifetime", Name: "Lifetime", PriceCents: 50000, IsActive: true}
	db.tiers["retired"] = &models.MembershipType{ID: 3, Slug: "retired", Name: "Old", PriceCents: 1000, DurationMonths: &twelve}
	db.feeTypes[4] = &models.FeeType{ID: 4, Name: "Stall", PriceCents: 4000, MaxQuantity: 4, IsActive: true}
	db.feeTypes[5] = &models.FeeType{ID: 5, Name: "Shavings", PriceCents: 1200, MaxQuantity: 10, IsActive: true}
	db.feeTypes[6] = &models.FeeType{ID: 6, Name: "Camping", PriceCents: 3500, MaxQuantity: 2}

	provider := &fakeProvider{}
	svc := NewService(Deps{
		Members:  db,
		Catalog:  db,
		Entries:  db,
		Payments: db,
		Jobs:     db,
		Provider: provider,
		BaseURL:  "https://members.example.org/",
		Currency: "USD",
	})
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC) }
	return &fixture{db: db, provider: provider, svc: svc}
}

func (f *fixture) addDraft(id, showID int64, fees ...int64) {
	e := &models.ShowEntry{ID: id, ShowID: showID, MemberID: testMemberID, HorseName: "Horse", RiderName: "Ada", Status: models.EntryStatusDraft}
	for i, fee := range fees {
		e.Classes = append(e.Classes, models.ShowEntryClass{ID: id*10 + int64(i), EntryID: id, ShowClassID: int64(i + 1), FeeCents: fee})
		e.TotalCents += fee
	}
	f.db.entries[id] = e
}

// complete simulates the provider's completion notification for a session.
func (f *fixture) complete(t *testing.T, sessionID string) error {
	t.Helper()
	return f.notify(t, sessionID, stripe.EventCheckoutCompleted, stripe.PaymentStatusPaid)
}

// notify delivers a checkout session event of the given type and payment status.
func (f *fixture) notify(t *testing.T, sessionID, eventType, paymentStatus string) error {
	t.Helper()
	var md map[string]string
	var amount int64
	for i, req := range f.provider.sessions {
		if sessionIDFor(i) == sessionID {
			md = req.Metadata
			amount = Total(req.LineItems)
		}
	}
	return f.svc.HandleEvent(context.Background(), &stripe.Event{
		ID:   "evt_" + eventType + "_" + sessionID,
		Type: eventType,
		Session: &stripe.CheckoutSession{
			ID:              sessionID,
			PaymentIntentID: "pi_" + sessionID,
			CustomerID:      "cus_9",
			AmountTotal:     amount,
			PaymentStatus:   paymentStatus,
			Metadata:        md,
		},
	})
}

func sessionIDFor(i int) string {
	return fmt.Sprintf("cs_test_%d", i+1)
}

func TestTotalMatchesSumOfUnitPriceTimesQuantity(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for n := 0; n < 200; n++ {
		var items []stripe.LineItem
		var want int64
		for i := 0; i < 1+r.Intn(20); i++ {
			unit := int64(1 + r.Intn(100000))
			qty := int64(1 + r.Intn(10))
			items = append(items, stripe.LineItem{UnitAmountCents: unit, Quantity: qty})
			want += unit * qty
		}
		require.Equal(t, want, Total(items))
	}
}

func TestMembershipPurchaseActivatesTwelveMonths(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)
	assert.Equal(t, int64(7500), res.AmountCents)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", res.URL)

	req := f.provider.lastSession()
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, "cus_9", req.CustomerID)
	assert.Equal(t, "https://members.example.org/portal/checkout/success?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, "https://members.example.org/portal/checkout/cancel", req.CancelURL)
	assert.Equal(t, "membership_dues", req.Metadata["payment_type"])
	assert.Equal(t, "annual", req.Metadata["membership_slug"])
	assert.Equal(t, "12", req.Metadata["duration_months"])
	assert.Equal(t, "9", req.Metadata["member_id"])

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)

	require.NoError(t, f.complete(t, res.SessionID))

	p, err = f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, int64(7500), p.AmountCents)
	require.NotNil(t, p.StripePaymentIntentID)

	m := f.db.members[testMemberID]
	assert.Equal(t, models.MembershipStatusActive, m.MembershipStatus)
	require.NotNil(t, m.MembershipExpiry)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *m.MembershipExpiry)
	require.NotNil(t, m.StripeCustomerID)
	assert.Equal(t, "cus_9", *m.StripeCustomerID)
}

func TestLifetimeMembershipHasNoExpiry(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "lifetime")
	require.NoError(t, err)
	require.NoError(t, f.complete(t, res.SessionID))

	m := f.db.members[testMemberID]
	assert.Equal(t, models.MembershipStatusActive, m.MembershipStatus)
	assert.Nil(t, m.MembershipExpiry)
}

func TestRenewalPaymentTypeForPreviousMembers(t *testing.T) {
	f := newFixture(t)
	f.db.members[testMemberID].MembershipStatus = models.MembershipStatusExpired

	_, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)
	assert.Equal(t, "membership_renewal", f.provider.lastSession().Metadata["payment_type"])
}

func TestMembershipCheckoutRejectsUnavailableTier(t *testing.T) {
	f := newFixture(t)
	for _, slug := range []string{"retired", "platinum", " "} {
		_, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, slug)
		var verr *validate.Error
		require.True(t, errors.As(err, &verr), "slug %q: %v", slug, err)
	}
	assert.Empty(t, f.provider.sessions)
}

func TestDuplicateCompletionActivatesOnce(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)

	require.NoError(t, f.complete(t, res.SessionID))
	require.NoError(t, f.complete(t, res.SessionID))

	assert.Equal(t, 1, f.db.activations)
	assert.Equal(t, 1, f.db.paymentCount())
}

func TestTwoEntriesCheckedOutTogether(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	f.addDraft(2, 7, 7500, 7500)

	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, int64(25000), res.AmountCents)

	req := f.provider.lastSession()
	require.Len(t, req.LineItems, 2)
	assert.Equal(t, int64(10000), req.LineItems[0].UnitAmountCents)
	assert.Equal(t, int64(15000), req.LineItems[1].UnitAmountCents)
	assert.Equal(t, "7", req.Metadata["show_id"])
	assert.Equal(t, "1,2", req.Metadata["entry_ids"])

	require.Equal(t, 1, f.db.paymentCount())
	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), p.AmountCents)
	assert.Equal(t, models.PaymentTypeEntryFees, p.PaymentType)
	assert.Equal(t, models.EntryStatusPendingPayment, f.db.entryStatus(1))
	assert.Equal(t, models.EntryStatusPendingPayment, f.db.entryStatus(2))

	require.NoError(t, f.complete(t, res.SessionID))
	assert.Equal(t, models.EntryStatusConfirmed, f.db.entryStatus(1))
	assert.Equal(t, models.EntryStatusConfirmed, f.db.entryStatus(2))
}

func TestRepeatedEntryCheckoutIsRejected(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)

	_, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)

	_, err = f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.ErrorIs(t, err, ErrEntriesUnavailable)
	assert.Equal(t, "entries not available for checkout", err.Error())
	assert.Len(t, f.provider.sessions, 1)
}

func TestEntryCheckoutPreconditions(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	f.addDraft(2, 8, 10000)
	f.addDraft(3, 7)
	f.addDraft(4, 7, 5000)
	f.db.entries[4].MemberID = 99

	cases := map[string][]int64{
		"missing entry":   {1, 404},
		"different shows": {1, 2},
		"no classes":      {3},
		"other member":    {4},
	}
	for name, ids := range cases {
		_, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, ids)
		assert.ErrorIs(t, err, ErrEntriesUnavailable, name)
	}
	assert.Equal(t, models.EntryStatusDraft, f.db.entryStatus(1))

	_, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, nil)
	var verr *validate.Error
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1, 1})
	assert.True(t, errors.As(err, &verr))
}

func TestProviderFailureReleasesEntries(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	f.provider.sessionErr = errors.New("api down")

	_, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.True(t, strings.HasPrefix(err.Error(), "stripe: "))

	assert.Equal(t, models.EntryStatusDraft, f.db.entryStatus(1))
	assert.Equal(t, 0, f.db.paymentCount())
}

func TestPendingRecordFailureStillReturnsURLAndQueuesReconcile(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	f.db.failCreatePayment = true

	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)
	assert.NotEmpty(t, res.URL)
	assert.Equal(t, 0, f.db.paymentCount())

	jobs := f.db.jobsOfType(JobReconcileCheckout)
	require.Len(t, jobs, 1)
	assert.Equal(t, res.SessionID, jobs[0].Payload.String("session_id"))

	// the webhook reconstructs the payment from metadata
	f.db.failCreatePayment = false
	require.NoError(t, f.complete(t, res.SessionID))

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, int64(10000), p.AmountCents)
	assert.Equal(t, models.EntryStatusConfirmed, f.db.entryStatus(1))
	require.NotNil(t, f.db.entries[1].PaymentID)
	assert.Equal(t, p.ID, *f.db.entries[1].PaymentID)
	require.NotNil(t, p.MemberID)
	assert.Equal(t, testMemberID, *p.MemberID)

	// the queued reconcile job is then a no-op
	require.NoError(t, f.svc.ReconcileCheckout(context.Background(), jobs[0].Payload))
	assert.Equal(t, 1, f.db.paymentCount())
}

func TestReconcileCheckoutRecordsPendingPayment(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	f.db.failAttach = true

	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)
	jobs := f.db.jobsOfType(JobReconcileCheckout)
	require.Len(t, jobs, 1)
	assert.Nil(t, f.db.entries[1].PaymentID)

	f.db.failAttach = false
	require.NoError(t, f.svc.ReconcileCheckout(context.Background(), jobs[0].Payload))

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, f.db.entries[1].PaymentID)
	assert.Equal(t, p.ID, *f.db.entries[1].PaymentID)
}

func TestActivationFailureIsRaisedAndQueued(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)

	f.db.failActivate = true
	err = f.complete(t, res.SessionID)
	var ferr *FulfillmentError
	require.True(t, errors.As(err, &ferr))

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)

	jobs := f.db.jobsOfType(JobActivateMembership)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobPriorityCritical, jobs[0].Priority)
	assert.Equal(t, "2024-01-01", jobs[0].Payload.String("start"))

	assert.Equal(t, "12", jobs[0].Payload.String("duration_months"))

	// retried a day later, after the tier was lengthened, the expiry still
	// counts the sold term from the purchase date
	f.db.failActivate = false
	twentyFour := 24
	f.db.tiers["annual"].DurationMonths = &twentyFour
	f.svc.now = func() time.Time { return time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC) }
	require.NoError(t, f.svc.RetryActivation(context.Background(), jobs[0].Payload))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *f.db.members[testMemberID].MembershipExpiry)
}

func TestDelayedActivationKeepsNewerMembership(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)

	f.db.failActivate = true
	require.Error(t, f.complete(t, first.SessionID))
	jobs := f.db.jobsOfType(JobActivateMembership)
	require.Len(t, jobs, 1)

	// the member buys again before the queued activation runs
	f.db.failActivate = false
	f.svc.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	second, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)
	require.NoError(t, f.complete(t, second.SessionID))

	m := f.db.members[testMemberID]
	require.NotNil(t, m.MembershipExpiry)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *m.MembershipExpiry)

	require.NoError(t, f.svc.RetryActivation(context.Background(), jobs[0].Payload))
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *m.MembershipExpiry)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *m.MembershipStart)
	assert.Equal(t, 1, f.db.activations)
}

func TestLifetimeMembershipNotShortenedByAnnualActivation(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "lifetime")
	require.NoError(t, err)
	require.NoError(t, f.complete(t, res.SessionID))

	err = f.svc.ActivateMembership(context.Background(), MembershipGrant{
		MemberID: testMemberID,
		Slug:     "annual",
		Term:     Term{Months: 12},
		Start:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	m := f.db.members[testMemberID]
	assert.Nil(t, m.MembershipExpiry)
	assert.Equal(t, "lifetime", *m.MembershipType)
}

func TestMembershipActivatedFromMetadataWhenNoPendingRow(t *testing.T) {
	f := newFixture(t)
	f.db.failCreatePayment = true

	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)
	assert.Equal(t, 0, f.db.paymentCount())

	f.db.failCreatePayment = false
	require.NoError(t, f.complete(t, res.SessionID))

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, models.PaymentTypeMembershipDues, p.PaymentType)
	assert.Equal(t, int64(7500), p.AmountCents)
	require.NotNil(t, p.MemberID)
	assert.Equal(t, testMemberID, *p.MemberID)

	m := f.db.members[testMemberID]
	assert.Equal(t, models.MembershipStatusActive, m.MembershipStatus)
	require.NotNil(t, m.MembershipExpiry)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *m.MembershipExpiry)
	assert.Equal(t, 1, f.db.activations)
	assert.Empty(t, f.db.jobsOfType(JobActivateMembership))
}

func TestUnpaidCompletionWaitsForAsyncPayment(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)

	require.NoError(t, f.notify(t, res.SessionID, stripe.EventCheckoutCompleted, stripe.PaymentStatusUnpaid))

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, models.EntryStatusPendingPayment, f.db.entryStatus(1))

	require.NoError(t, f.notify(t, res.SessionID, stripe.EventCheckoutAsyncSucceeded, stripe.PaymentStatusPaid))

	p, err = f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, models.EntryStatusConfirmed, f.db.entryStatus(1))
}

func TestUnpaidMembershipCompletionDoesNotActivate(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)

	require.NoError(t, f.notify(t, res.SessionID, stripe.EventCheckoutCompleted, stripe.PaymentStatusUnpaid))

	assert.Equal(t, models.MembershipStatusPending, f.db.members[testMemberID].MembershipStatus)
	assert.Equal(t, 0, f.db.activations)
}

func TestAsyncPaymentFailureReleasesEntries(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)

	require.NoError(t, f.notify(t, res.SessionID, stripe.EventCheckoutCompleted, stripe.PaymentStatusUnpaid))
	require.NoError(t, f.notify(t, res.SessionID, stripe.EventCheckoutAsyncFailed, stripe.PaymentStatusUnpaid))

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, models.EntryStatusDraft, f.db.entryStatus(1))
}

func TestRefundPreconditionsCheckedBeforeProvider(t *testing.T) {
	f := newFixture(t)
	pi := "pi_1"
	f.db.payments[1] = &models.Payment{ID: 1, Status: models.PaymentStatusPending, PaymentType: models.PaymentTypeEntryFees, StripePaymentIntentID: &pi}
	f.db.payments[2] = &models.Payment{ID: 2, Status: models.PaymentStatusRefunded, PaymentType: models.PaymentTypeEntryFees, StripePaymentIntentID: &pi}
	f.db.payments[3] = &models.Payment{ID: 3, Status: models.PaymentStatusSucceeded, PaymentType: models.PaymentTypeEntryFees}

	_, err := f.svc.RefundPayment(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRefundNotAllowed)
	_, err = f.svc.RefundPayment(context.Background(), 2)
	assert.ErrorIs(t, err, ErrRefundNotAllowed)
	_, err = f.svc.RefundPayment(context.Background(), 3)
	assert.ErrorIs(t, err, ErrMissingPaymentIntent)
	_, err = f.svc.RefundPayment(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrPaymentNotFound)

	assert.Empty(t, f.provider.refunds)
}

func TestRefundCascadesToEntries(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	f.addDraft(2, 7, 15000)
	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1, 2})
	require.NoError(t, err)
	require.NoError(t, f.complete(t, res.SessionID))

	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)

	out, err := f.svc.RefundPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, out.ReconciliationPending)
	assert.Equal(t, []string{"refund-" + strconv.FormatInt(p.ID, 10)}, f.provider.refundKeys)

	p, err = f.db.GetPaymentByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, models.EntryStatusRefunded, f.db.entryStatus(1))
	assert.Equal(t, models.EntryStatusRefunded, f.db.entryStatus(2))
}

func TestRefundLeavesMembershipActive(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateMembershipCheckout(context.Background(), testMemberID, "annual")
	require.NoError(t, err)
	require.NoError(t, f.complete(t, res.SessionID))
	p, err := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)

	_, err = f.svc.RefundPayment(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, models.MembershipStatusActive, f.db.members[testMemberID].MembershipStatus)
	p, _ = f.db.GetPaymentByID(context.Background(), p.ID)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
}

func TestRefundCascadeFailureQueuesJob(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)
	require.NoError(t, f.complete(t, res.SessionID))
	p, _ := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)

	f.db.failRefundEntries = true
	out, err := f.svc.RefundPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, out.ReconciliationPending)
	assert.Equal(t, models.EntryStatusConfirmed, f.db.entryStatus(1))

	jobs := f.db.jobsOfType(JobRefundCascade)
	require.Len(t, jobs, 1)

	f.db.failRefundEntries = false
	require.NoError(t, f.svc.RetryRefundCascade(context.Background(), jobs[0].Payload))
	assert.Equal(t, models.EntryStatusRefunded, f.db.entryStatus(1))
	assert.Len(t, f.provider.refunds, 1)
}

func TestRefundProviderErrorLeavesPaymentSucceeded(t *testing.T) {
	f := newFixture(t)
	pi := "pi_1"
	f.db.payments[1] = &models.Payment{ID: 1, Status: models.PaymentStatusSucceeded, PaymentType: models.PaymentTypeAdditionalFees, StripePaymentIntentID: &pi}
	f.provider.refundErr = errors.New("charge already refunded")

	_, err := f.svc.RefundPayment(context.Background(), 1)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.PaymentStatusSucceeded, f.db.payments[1].Status)
}

func TestFeeCheckoutForGuest(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateFeeCheckout(context.Background(), 0, &Guest{Name: " Grace ", Email: "grace@example.com"},
		[]FeeItemRequest{{FeeTypeID: 4, Quantity: 2}, {FeeTypeID: 5, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(2*4000+3*1200), res.AmountCents)

	req := f.provider.lastSession()
	assert.Equal(t, "grace@example.com", req.CustomerEmail)
	assert.Empty(t, req.CustomerID)
	assert.Equal(t, "https://members.example.org/checkout/success?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, "4:2:4000,5:3:1200", req.Metadata["fee_items"])
	assert.Equal(t, "Grace", req.Metadata["guest_name"])
	assert.NotEmpty(t, req.Metadata["guest_reference"])
	assert.Zero(t, f.provider.customers)

	require.Len(t, f.db.purchases, 2)
	assert.Equal(t, models.FeePurchaseStatusPending, f.db.purchases[0].Status)
	assert.Equal(t, int64(8000), f.db.purchases[0].TotalCents)

	require.NoError(t, f.complete(t, res.SessionID))
	for _, fp := range f.db.purchases {
		assert.Equal(t, models.FeePurchaseStatusFulfilled, fp.Status)
	}
}

func TestFeeCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	guest := &Guest{Name: "Grace", Email: "grace@example.com"}
	cases := map[string][]FeeItemRequest{
		"over max quantity": {{FeeTypeID: 4, Quantity: 5}},
		"zero quantity":     {{FeeTypeID: 4, Quantity: 0}},
		"inactive":          {{FeeTypeID: 6, Quantity: 1}},
		"unknown":           {{FeeTypeID: 77, Quantity: 1}},
		"duplicate":         {{FeeTypeID: 4, Quantity: 1}, {FeeTypeID: 4, Quantity: 1}},
		"empty":             {},
	}
	for name, items := range cases {
		_, err := f.svc.CreateFeeCheckout(context.Background(), 0, guest, items)
		var verr *validate.Error
		assert.True(t, errors.As(err, &verr), name)
	}

	_, err := f.svc.CreateFeeCheckout(context.Background(), 0, &Guest{Name: "Grace", Email: "not-an-email"},
		[]FeeItemRequest{{FeeTypeID: 4, Quantity: 1}})
	var verr *validate.Error
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, f.provider.sessions)
}

func TestFeesReconstructedFromMetadataWhenNoRows(t *testing.T) {
	f := newFixture(t)
	f.db.failCreatePayment = true
	res, err := f.svc.CreateFeeCheckout(context.Background(), testMemberID, nil, []FeeItemRequest{{FeeTypeID: 5, Quantity: 2}})
	require.NoError(t, err)
	require.Empty(t, f.db.purchases)

	f.db.failCreatePayment = false
	require.NoError(t, f.complete(t, res.SessionID))

	require.Len(t, f.db.purchases, 1)
	fp := f.db.purchases[0]
	assert.Equal(t, models.FeePurchaseStatusFulfilled, fp.Status)
	assert.Equal(t, "Shavings", fp.FeeName)
	assert.Equal(t, int64(2400), fp.TotalCents)
	require.NotNil(t, fp.MemberID)
	assert.Equal(t, testMemberID, *fp.MemberID)
}

func TestExpiredSessionReleasesEntries(t *testing.T) {
	f := newFixture(t)
	f.addDraft(1, 7, 10000)
	res, err := f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)

	err = f.svc.HandleEvent(context.Background(), &stripe.Event{
		Type:    stripe.EventCheckoutExpired,
		Session: &stripe.CheckoutSession{ID: res.SessionID, Metadata: f.provider.lastSession().Metadata},
	})
	require.NoError(t, err)

	p, _ := f.db.GetPaymentBySessionID(context.Background(), res.SessionID)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.Equal(t, models.EntryStatusDraft, f.db.entryStatus(1))
	assert.Nil(t, f.db.entries[1].PaymentID)

	// the released entry can be checked out again
	_, err = f.svc.CreateEntryCheckout(context.Background(), testMemberID, []int64{1})
	require.NoError(t, err)
}

func TestUnknownEventIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.HandleEvent(context.Background(), &stripe.Event{ID: "evt_x", Type: "invoice.paid"}))
}

func TestParseIntentRejectsBadMetadata(t *testing.T) {
	bad := []map[string]string{
		{},
		{"payment_type": "membership_dues", "guest_email": "a@b.c", "membership_slug": "annual"},
		{"payment_type": "entry_fees", "member_id": "9", "show_id": "x", "entry_ids": "1"},
		{"payment_type": "additional_fees", "member_id": "9", "fee_items": "4:2"},
		{"payment_type": "entry_fees", "member_id": "abc"},
		{"payment_type": "membership_dues", "member_id": "9", "membership_slug": "annual", "duration_months": "0"},
	}
	for _, md := range bad {
		_, err := ParseIntent(md)
		assert.Error(t, err, "%v", md)
	}
}
