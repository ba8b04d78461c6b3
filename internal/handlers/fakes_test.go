package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/show-association/backend/internal/checkout"
	"github.com/PortNumber53/show-association/backend/internal/middleware"
	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/stripe"
)

// fakeCatalog is an in-memory catalog store.
type fakeCatalog struct {
	mu        sync.Mutex
	shows     map[int64]*models.Show
	classes   map[int64]models.ShowClass
	sponsors  []models.Sponsor
	fees      []models.FeeType
	tiers     []models.MembershipType
	listCalls int
	nextID    int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{shows: map[int64]*models.Show{}, classes: map[int64]models.ShowClass{}, nextID: 100}
}

func (c *fakeCatalog) ListShows(_ context.Context, publishedOnly bool) ([]models.Show, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	var out []models.Show
	for _, s := range c.shows {
		if publishedOnly && !s.IsPublished {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (c *fakeCatalog) GetShowByID(_ context.Context, id int64) (*models.Show, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shows[id]
	if !ok {
		return nil, store.ErrShowNotFound
	}
	cp := *s
	return &cp, nil
}

func (c *fakeCatalog) ListShowClasses(_ context.Context, showID int64, activeOnly bool) ([]models.ShowClass, error) {
	var out []models.ShowClass
	for _, cl := range c.classes {
		if cl.ShowID == showID && (!activeOnly || cl.IsActive) {
			out = append(out, cl)
		}
	}
	return out, nil
}

func (c *fakeCatalog) GetShowClassesByIDs(_ context.Context, showID int64, ids []int64) ([]models.ShowClass, error) {
	var out []models.ShowClass
	for _, id := range ids {
		if cl, ok := c.classes[id]; ok && cl.ShowID == showID {
			out = append(out, cl)
		}
	}
	return out, nil
}

func (c *fakeCatalog) ListSponsors(context.Context, bool) ([]models.Sponsor, error) {
	return c.sponsors, nil
}

func (c *fakeCatalog) ListMembershipTypes(context.Context, bool) ([]models.MembershipType, error) {
	return c.tiers, nil
}

func (c *fakeCatalog) ListFeeTypes(context.Context, bool) ([]models.FeeType, error) {
	return c.fees, nil
}

func (c *fakeCatalog) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *fakeCatalog) CreateShow(_ context.Context, sh *models.Show) error {
	sh.ID = c.id()
	c.shows[sh.ID] = sh
	return nil
}

func (c *fakeCatalog) UpdateShow(_ context.Context, sh *models.Show) error {
	if _, ok := c.shows[sh.ID]; !ok {
		return store.ErrShowNotFound
	}
	c.shows[sh.ID] = sh
	return nil
}

func (c *fakeCatalog) DeleteShow(_ context.Context, id int64) error {
	if _, ok := c.shows[id]; !ok {
		return store.ErrShowNotFound
	}
	delete(c.shows, id)
	return nil
}

func (c *fakeCatalog) CreateShowClass(_ context.Context, cl *models.ShowClass) error {
	cl.ID = c.id()
	c.classes[cl.ID] = *cl
	return nil
}

func (c *fakeCatalog) UpdateShowClass(_ context.Context, cl *models.ShowClass) error {
	if _, ok := c.classes[cl.ID]; !ok {
		return store.ErrShowClassNotFound
	}
	c.classes[cl.ID] = *cl
	return nil
}

func (c *fakeCatalog) DeleteShowClass(_ context.Context, id int64) error {
	delete(c.classes, id)
	return nil
}

func (c *fakeCatalog) CreateSponsor(_ context.Context, sp *models.Sponsor) error {
	sp.ID = c.id()
	c.sponsors = append(c.sponsors, *sp)
	return nil
}

func (c *fakeCatalog) UpdateSponsor(context.Context, *models.Sponsor) error { return nil }
func (c *fakeCatalog) DeleteSponsor(context.Context, int64) error          { return nil }

func (c *fakeCatalog) CreateFeeType(_ context.Context, f *models.FeeType) error {
	f.ID = c.id()
	c.fees = append(c.fees, *f)
	return nil
}

func (c *fakeCatalog) UpdateFeeType(context.Context, *models.FeeType) error { return nil }

func (c *fakeCatalog) DeleteFeeType(_ context.Context, id int64) error {
	if id == 4 {
		return store.ErrCatalogConflict
	}
	return nil
}

func (c *fakeCatalog) CreateMembershipType(_ context.Context, t *models.MembershipType) error {
	for _, existing := range c.tiers {
		if existing.Slug == t.Slug {
			return store.ErrCatalogConflict
		}
	}
	t.ID = c.id()
	c.tiers = append(c.tiers, *t)
	return nil
}

func (c *fakeCatalog) UpdateMembershipType(context.Context, *models.MembershipType) error { return nil }
func (c *fakeCatalog) DeleteMembershipType(context.Context, int64) error                { return nil }

// countingCache is a map cache that records invalidations.
type countingCache struct {
	mu            sync.Mutex
	values        map[string][]byte
	invalidations int
}

func newCountingCache() *countingCache {
	return &countingCache{values: map[string][]byte{}}
}

func (c *countingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *countingCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
		}
	}
	return nil
}

// fakeCheckout records checkout calls and returns a canned result or error.
type fakeCheckout struct {
	err       error
	memberID  int64
	guest     *checkout.Guest
	items     []checkout.FeeItemRequest
	slug      string
	entryIDs  []int64
	refunded  int64
	refundRes *checkout.RefundResult
}

var cannedResult = &checkout.Result{SessionID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1", AmountCents: 5000}

func (f *fakeCheckout) CreateFeeCheckout(_ context.Context, memberID int64, guest *checkout.Guest, items []checkout.FeeItemRequest) (*checkout.Result, error) {
	f.memberID, f.guest, f.items = memberID, guest, items
	if f.err != nil {
		return nil, f.err
	}
	return cannedResult, nil
}

func (f *fakeCheckout) CreateMembershipCheckout(_ context.Context, memberID int64, slug string) (*checkout.Result, error) {
	f.memberID, f.slug = memberID, slug
	if f.err != nil {
		return nil, f.err
	}
	return cannedResult, nil
}

func (f *fakeCheckout) CreateEntryCheckout(_ context.Context, memberID int64, ids []int64) (*checkout.Result, error) {
	f.memberID, f.entryIDs = memberID, ids
	if f.err != nil {
		return nil, f.err
	}
	return cannedResult, nil
}

func (f *fakeCheckout) RefundPayment(_ context.Context, id int64) (*checkout.RefundResult, error) {
	f.refunded = id
	if f.err != nil {
		return nil, f.err
	}
	return f.refundRes, nil
}

func (f *fakeCheckout) HandleEvent(context.Context, *stripe.Event) error {
	return f.err
}

// fakeEntries is an in-memory entry store.
type fakeEntries struct {
	entries map[int64]*models.ShowEntry
	nextID  int64
}

func newFakeEntries() *fakeEntries {
	return &fakeEntries{entries: map[int64]*models.ShowEntry{}, nextID: 500}
}

func (f *fakeEntries) GetEntry(_ context.Context, id int64) (*models.ShowEntry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, store.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEntries) ListEntriesForMember(_ context.Context, memberID int64) ([]models.ShowEntry, error) {
	var out []models.ShowEntry
	for _, e := range f.entries {
		if e.MemberID == memberID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEntries) ListEntriesForShow(_ context.Context, showID int64) ([]models.ShowEntry, error) {
	var out []models.ShowEntry
	for _, e := range f.entries {
		if e.ShowID == showID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeEntries) CreateDraftEntry(_ context.Context, e *models.ShowEntry) error {
	f.nextID++
	e.ID = f.nextID
	e.Status = models.EntryStatusDraft
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeEntries) UpdateDraftEntry(_ context.Context, e *models.ShowEntry) error {
	existing, ok := f.entries[e.ID]
	if !ok || existing.MemberID != e.MemberID || !existing.IsDraft() {
		return store.ErrEntryNotEditable
	}
	e.Status = models.EntryStatusDraft
	cp := *e
	f.entries[e.ID] = &cp
	return nil
}

func (f *fakeEntries) CancelDraftEntry(_ context.Context, memberID, entryID int64) error {
	e, ok := f.entries[entryID]
	if !ok || e.MemberID != memberID || !e.IsDraft() {
		return store.ErrEntryNotEditable
	}
	e.Status = models.EntryStatusCancelled
	return nil
}

var (
	rider = &models.Member{ID: 1, Email: "rider@example.com", FirstName: "Ada", LastName: "Rider", Role: models.MemberRoleMember}
	admin = &models.Member{ID: 2, Email: "office@example.com", Role: models.MemberRoleAdmin}
)

// do sends a request through router, optionally as member m.
func do(router http.Handler, method, path, body string, m *models.Member) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if m != nil {
		req = req.WithContext(middleware.WithMember(req.Context(), m))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type routeRegistrar interface {
	RegisterRoutes(chi.Router)
}

func mount(prefix string, h routeRegistrar) http.Handler {
	r := chi.NewRouter()
	if prefix == "" {
		h.RegisterRoutes(r)
		return r
	}
	r.Route(prefix, func(sub chi.Router) {
		h.RegisterRoutes(sub)
	})
	return r
}
