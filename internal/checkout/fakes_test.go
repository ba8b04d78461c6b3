package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/stripe"
)

// memDB is an in-memory stand-in for the Postgres stores. Status transitions
// use the same guards as the SQL in internal/store.
type memDB struct {
	mu          sync.Mutex
	members     map[int64]*models.Member
	tiers       map[string]*models.MembershipType
	feeTypes    map[int64]*models.FeeType
	entries     map[int64]*models.ShowEntry
	payments    map[int64]*models.Payment
	purchases   []*models.FeePurchase
	jobs        []*models.Job
	nextID      int64
	activations int

	failCreatePayment bool
	failActivate      bool
	failRefundEntries bool
	failAttach        bool
}

func newMemDB() *memDB {
	return &memDB{
		members:  map[int64]*models.Member{},
		tiers:    map[string]*models.MembershipType{},
		feeTypes: map[int64]*models.FeeType{},
		entries:  map[int64]*models.ShowEntry{},
		payments: map[int64]*models.Payment{},
		nextID:   1000,
	}
}

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

// --- members ---

func (db *memDB) GetMemberByID(_ context.Context, id int64) (*models.Member, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.members[id]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (db *memDB) SetStripeCustomerID(_ context.Context, id int64, cus string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.members[id]
	if !ok {
		return store.ErrMemberNotFound
	}
	m.StripeCustomerID = &cus
	return nil
}

func (db *memDB) ActivateMembership(_ context.Context, a models.MembershipActivation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failActivate {
		return errors.New("connection reset")
	}
	m, ok := db.members[a.MemberID]
	if !ok {
		return store.ErrMemberNotFound
	}
	if m.MembershipStatus == models.MembershipStatusActive && a.Expiry != nil &&
		(m.MembershipExpiry == nil || m.MembershipExpiry.After(*a.Expiry)) {
		return store.ErrMembershipSuperseded
	}
	slug := a.MembershipType
	start := a.Start
	m.MembershipType = &slug
	m.MembershipStatus = models.MembershipStatusActive
	m.MembershipStart = &start
	m.MembershipExpiry = a.Expiry
	if a.StripeCustomerID != "" {
		cus := a.StripeCustomerID
		m.StripeCustomerID = &cus
	}
	db.activations++
	return nil
}

// --- catalog ---

func (db *memDB) GetMembershipTypeBySlug(_ context.Context, slug string) (*models.MembershipType, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tiers[slug]
	if !ok {
		return nil, store.ErrMembershipTypeNotFound
	}
	cp := *t
	return &cp, nil
}

func (db *memDB) GetFeeTypesByIDs(_ context.Context, ids []int64) ([]models.FeeType, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.FeeType
	for _, id := range ids {
		if f, ok := db.feeTypes[id]; ok {
			out = append(out, *f)
		}
	}
	return out, nil
}

// --- entries ---

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (db *memDB) GetEntriesByIDs(_ context.Context, ids []int64) ([]models.ShowEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.ShowEntry
	for _, id := range ids {
		if e, ok := db.entries[id]; ok {
			cp := *e
			out = append(out, cp)
		}
	}
	return out, nil
}

func (db *memDB) ReserveEntries(_ context.Context, memberID int64, ids []int64) ([]int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var reserved []int64
	for _, id := range ids {
		e, ok := db.entries[id]
		if ok && e.MemberID == memberID && e.Status == models.EntryStatusDraft {
			e.Status = models.EntryStatusPendingPayment
			reserved = append(reserved, id)
		}
	}
	return reserved, nil
}

func (db *memDB) ReleaseReservedEntries(_ context.Context, ids []int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, id := range ids {
		e, ok := db.entries[id]
		if ok && e.PaymentID == nil && e.Status == models.EntryStatusPendingPayment {
			e.Status = models.EntryStatusDraft
			n++
		}
	}
	return n, nil
}

func (db *memDB) AttachPayment(_ context.Context, ids []int64, paymentID int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failAttach {
		return 0, errors.New("deadlock detected")
	}
	var n int64
	for _, id := range ids {
		e, ok := db.entries[id]
		if ok && e.PaymentID == nil && (e.Status == models.EntryStatusDraft || e.Status == models.EntryStatusPendingPayment) {
			pid := paymentID
			e.PaymentID = &pid
			n++
		}
	}
	return n, nil
}

func (db *memDB) linkedOrListed(e *models.ShowEntry, paymentID int64, ids []int64) bool {
	if e.PaymentID != nil {
		return *e.PaymentID == paymentID
	}
	return contains(ids, e.ID)
}

func (db *memDB) ConfirmEntries(_ context.Context, paymentID int64, ids []int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, e := range db.entries {
		if db.linkedOrListed(e, paymentID, ids) &&
			(e.Status == models.EntryStatusDraft || e.Status == models.EntryStatusPendingPayment) {
			pid := paymentID
			e.PaymentID = &pid
			e.Status = models.EntryStatusConfirmed
			n++
		}
	}
	return n, nil
}

func (db *memDB) RefundEntriesForPayment(_ context.Context, paymentID int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failRefundEntries {
		return 0, errors.New("statement timeout")
	}
	var n int64
	for _, e := range db.entries {
		if e.PaymentID != nil && *e.PaymentID == paymentID && e.Status != models.EntryStatusRefunded {
			e.Status = models.EntryStatusRefunded
			n++
		}
	}
	return n, nil
}

func (db *memDB) ReleaseEntries(_ context.Context, paymentID int64, ids []int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, e := range db.entries {
		if db.linkedOrListed(e, paymentID, ids) && e.Status == models.EntryStatusPendingPayment {
			e.Status = models.EntryStatusDraft
			e.PaymentID = nil
			n++
		}
	}
	return n, nil
}

// --- payments ---

func (db *memDB) CreatePayment(_ context.Context, p *models.Payment) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.failCreatePayment {
		return errors.New("too many connections")
	}
	for _, existing := range db.payments {
		if existing.StripeSessionID == p.StripeSessionID {
			return store.ErrPaymentExists
		}
	}
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	p.ID = db.id()
	p.CreatedAt = time.Now()
	cp := *p
	db.payments[p.ID] = &cp
	return nil
}

func (db *memDB) GetPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (db *memDB) bySession(sessionID string) *models.Payment {
	for _, p := range db.payments {
		if p.StripeSessionID == sessionID {
			return p
		}
	}
	return nil
}

func (db *memDB) GetPaymentBySessionID(_ context.Context, sessionID string) (*models.Payment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p := db.bySession(sessionID)
	if p == nil {
		return nil, store.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (db *memDB) MarkPaymentSucceeded(_ context.Context, sessionID, pi string) (*models.Payment, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p := db.bySession(sessionID)
	if p == nil || p.Status != models.PaymentStatusPending {
		return nil, false, nil
	}
	p.Status = models.PaymentStatusSucceeded
	if pi != "" {
		p.StripePaymentIntentID = &pi
	}
	cp := *p
	return &cp, true, nil
}

func (db *memDB) MarkPaymentFailed(_ context.Context, sessionID string) (*models.Payment, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p := db.bySession(sessionID)
	if p == nil || p.Status != models.PaymentStatusPending {
		return nil, false, nil
	}
	p.Status = models.PaymentStatusFailed
	cp := *p
	return &cp, true, nil
}

func (db *memDB) MarkPaymentRefunded(_ context.Context, id int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.payments[id]
	if !ok || p.Status != models.PaymentStatusSucceeded {
		return false, nil
	}
	p.Status = models.PaymentStatusRefunded
	now := time.Now()
	p.RefundedAt = &now
	return true, nil
}

func (db *memDB) CreateFeePurchases(_ context.Context, purchases []models.FeePurchase) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range purchases {
		purchases[i].ID = db.id()
		cp := purchases[i]
		db.purchases = append(db.purchases, &cp)
	}
	return nil
}

func (db *memDB) CountFeePurchasesForPayment(_ context.Context, paymentID int64) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, fp := range db.purchases {
		if fp.PaymentID != nil && *fp.PaymentID == paymentID {
			n++
		}
	}
	return n, nil
}

func (db *memDB) setPurchases(paymentID int64, to models.FeePurchaseStatus, from ...models.FeePurchaseStatus) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var n int64
	for _, fp := range db.purchases {
		if fp.PaymentID == nil || *fp.PaymentID != paymentID {
			continue
		}
		for _, f := range from {
			if fp.Status == f {
				fp.Status = to
				n++
				break
			}
		}
	}
	return n
}

func (db *memDB) FulfillFeePurchases(_ context.Context, paymentID int64) (int64, error) {
	return db.setPurchases(paymentID, models.FeePurchaseStatusFulfilled, models.FeePurchaseStatusPending), nil
}

func (db *memDB) RefundFeePurchases(_ context.Context, paymentID int64) (int64, error) {
	return db.setPurchases(paymentID, models.FeePurchaseStatusRefunded,
		models.FeePurchaseStatusPending, models.FeePurchaseStatusFulfilled), nil
}

func (db *memDB) CancelFeePurchases(_ context.Context, paymentID int64) (int64, error) {
	return db.setPurchases(paymentID, models.FeePurchaseStatusCancelled, models.FeePurchaseStatusPending), nil
}

// --- jobs ---

func (db *memDB) Enqueue(_ context.Context, job *models.Job) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	job.ID = db.id()
	db.jobs = append(db.jobs, job)
	return nil
}

func (db *memDB) jobsOfType(jobType string) []*models.Job {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Job
	for _, j := range db.jobs {
		if j.JobType == jobType {
			out = append(out, j)
		}
	}
	return out
}

func (db *memDB) paymentCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.payments)
}

func (db *memDB) entryStatus(id int64) models.EntryStatus {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.entries[id].Status
}

// --- provider ---

type fakeProvider struct {
	mu         sync.Mutex
	sessions   []stripe.SessionRequest
	refunds    []string
	refundKeys []string
	customers  int
	sessionErr error
	refundErr  error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req stripe.SessionRequest) (*stripe.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.sessions = append(f.sessions, req)
	id := fmt.Sprintf("cs_test_%d", len(f.sessions))
	return &stripe.Session{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (f *fakeProvider) CreateRefund(_ context.Context, pi, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return "", f.refundErr
	}
	f.refunds = append(f.refunds, pi)
	f.refundKeys = append(f.refundKeys, key)
	return fmt.Sprintf("re_%d", len(f.refunds)), nil
}

func (f *fakeProvider) CreateCustomer(_ context.Context, _, _ string, memberID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return fmt.Sprintf("cus_%d", memberID), nil
}

func (f *fakeProvider) lastSession() stripe.SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}
