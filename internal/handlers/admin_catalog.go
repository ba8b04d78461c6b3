package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/show-association/backend/internal/cache"
	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/validate"
)

// CatalogAdminStore is the full catalog store used by the admin portal.
type CatalogAdminStore interface {
	CatalogReader

	CreateShow(ctx context.Context, sh *models.Show) error
	UpdateShow(ctx context.Context, sh *models.Show) error
	DeleteShow(ctx context.Context, id int64) error

	CreateShowClass(ctx context.Context, c *models.ShowClass) error
	UpdateShowClass(ctx context.Context, c *models.ShowClass) error
	DeleteShowClass(ctx context.Context, id int64) error

	CreateSponsor(ctx context.Context, sp *models.Sponsor) error
	UpdateSponsor(ctx context.Context, sp *models.Sponsor) error
	DeleteSponsor(ctx context.Context, id int64) error

	CreateFeeType(ctx context.Context, f *models.FeeType) error
	UpdateFeeType(ctx context.Context, f *models.FeeType) error
	DeleteFeeType(ctx context.Context, id int64) error

	CreateMembershipType(ctx context.Context, t *models.MembershipType) error
	UpdateMembershipType(ctx context.Context, t *models.MembershipType) error
	DeleteMembershipType(ctx context.Context, id int64) error
}

// CatalogAdminHandler serves catalog CRUD. Every write drops the cached public
// catalog.
type CatalogAdminHandler struct {
	Store CatalogAdminStore
	Cache cache.Cache
}

// NewCatalogAdminHandler creates a CatalogAdminHandler. A nil cache disables invalidation.
func NewCatalogAdminHandler(s CatalogAdminStore, c cache.Cache) *CatalogAdminHandler {
	if c == nil {
		c = cache.Noop{}
	}
	return &CatalogAdminHandler{Store: s, Cache: c}
}

// RegisterRoutes registers catalog routes on a router already scoped to /api/admin.
func (h *CatalogAdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/shows", h.ListShows())
	router.Post("/shows", h.CreateShow())
	router.Put("/shows/{id}", h.UpdateShow())
	router.Delete("/shows/{id}", h.DeleteShow())

	router.Get("/shows/{id}/classes", h.ListShowClasses())
	router.Post("/shows/{id}/classes", h.CreateShowClass())
	router.Put("/shows/{id}/classes/{classID}", h.UpdateShowClass())
	router.Delete("/shows/{id}/classes/{classID}", h.DeleteShowClass())

	router.Get("/sponsors", h.ListSponsors())
	router.Post("/sponsors", h.CreateSponsor())
	router.Put("/sponsors/{id}", h.UpdateSponsor())
	router.Delete("/sponsors/{id}", h.DeleteSponsor())

	router.Get("/fee-types", h.ListFeeTypes())
	router.Post("/fee-types", h.CreateFeeType())
	router.Put("/fee-types/{id}", h.UpdateFeeType())
	router.Delete("/fee-types/{id}", h.DeleteFeeType())

	router.Get("/membership-types", h.ListMembershipTypes())
	router.Post("/membership-types", h.CreateMembershipType())
	router.Put("/membership-types/{id}", h.UpdateMembershipType())
	router.Delete("/membership-types/{id}", h.DeleteMembershipType())
}

func (h *CatalogAdminHandler) invalidate(ctx context.Context) {
	cache.InvalidateCatalog(context.WithoutCancel(ctx), h.Cache)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// --- shows ---

type showRequest struct {
	Name          string     `json:"name" validate:"required,max=200"`
	Location      string     `json:"location" validate:"max=200"`
	StartDate     time.Time  `json:"start_date" validate:"required"`
	EndDate       time.Time  `json:"end_date" validate:"required"`
	EntryDeadline *time.Time `json:"entry_deadline"`
	Description   *string    `json:"description" validate:"omitempty,max=5000"`
	IsPublished   bool       `json:"is_published"`
}

func (req showRequest) toShow() (*models.Show, error) {
	if req.EndDate.Before(req.StartDate) {
		return nil, &validate.Error{Field: "end_date", Message: "end_date must not be before start_date"}
	}
	return &models.Show{
		Name:          strings.TrimSpace(req.Name),
		Location:      strings.TrimSpace(req.Location),
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		EntryDeadline: req.EntryDeadline,
		Description:   trimmedPtr(req.Description),
		IsPublished:   req.IsPublished,
	}, nil
}

// ListShows returns every show, published or not.
func (h *CatalogAdminHandler) ListShows() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shows, err := h.Store.ListShows(r.Context(), false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shows": nonNil(shows)})
	}
}

// CreateShow creates a show.
func (h *CatalogAdminHandler) CreateShow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req showRequest
		if !decodeValid(w, r, &req) {
			return
		}
		show, err := req.toShow()
		if err == nil {
			err = h.Store.CreateShow(r.Context(), show)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusCreated, show)
	}
}

// UpdateShow replaces a show's fields.
func (h *CatalogAdminHandler) UpdateShow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		var req showRequest
		if !decodeValid(w, r, &req) {
			return
		}
		show, err := req.toShow()
		if err == nil {
			show.ID = id
			err = h.Store.UpdateShow(r.Context(), show)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusOK, show)
	}
}

// DeleteShow removes a show that has no entries.
func (h *CatalogAdminHandler) DeleteShow() http.HandlerFunc {
	return h.deleteHandler("id", h.Store.DeleteShow)
}

// --- show classes ---

type showClassRequest struct {
	ClassNumber string  `json:"class_number" validate:"required,max=20"`
	Name        string  `json:"name" validate:"required,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	FeeCents    int64   `json:"fee_cents" validate:"gt=0"`
	IsActive    *bool   `json:"is_active"`
}

func (req showClassRequest) toClass(showID int64) *models.ShowClass {
	return &models.ShowClass{
		ShowID:      showID,
		ClassNumber: strings.TrimSpace(req.ClassNumber),
		Name:        strings.TrimSpace(req.Name),
		Description: trimmedPtr(req.Description),
		FeeCents:    req.FeeCents,
		IsActive:    boolOr(req.IsActive, true),
	}
}

// ListShowClasses returns every class of a show.
func (h *CatalogAdminHandler) ListShowClasses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		showID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		classes, err := h.Store.ListShowClasses(r.Context(), showID, false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"classes": nonNil(classes)})
	}
}

// CreateShowClass adds a class to a show.
func (h *CatalogAdminHandler) CreateShowClass() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		showID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		var req showClassRequest
		if !decodeValid(w, r, &req) {
			return
		}
		if _, err := h.Store.GetShowByID(r.Context(), showID); err != nil {
			writeError(w, r, err)
			return
		}
		class := req.toClass(showID)
		if err := h.Store.CreateShowClass(r.Context(), class); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusCreated, class)
	}
}

// UpdateShowClass replaces a class. Existing entries keep their snapshot fees.
func (h *CatalogAdminHandler) UpdateShowClass() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		showID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		classID, ok := parseIDParam(w, r, "classID")
		if !ok {
			return
		}
		var req showClassRequest
		if !decodeValid(w, r, &req) {
			return
		}
		class := req.toClass(showID)
		class.ID = classID
		if err := h.Store.UpdateShowClass(r.Context(), class); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusOK, class)
	}
}

// DeleteShowClass removes a class nobody has entered.
func (h *CatalogAdminHandler) DeleteShowClass() http.HandlerFunc {
	return h.deleteHandler("classID", h.Store.DeleteShowClass)
}

// --- sponsors ---

type sponsorRequest struct {
	Name       string  `json:"name" validate:"required,max=200"`
	Level      string  `json:"level" validate:"required,max=50"`
	WebsiteURL *string `json:"website_url" validate:"omitempty,url,max=500"`
	LogoURL    *string `json:"logo_url" validate:"omitempty,url,max=500"`
	IsActive   *bool   `json:"is_active"`
	SortOrder  int     `json:"sort_order" validate:"min=0"`
}

func (req sponsorRequest) toSponsor() *models.Sponsor {
	return &models.Sponsor{
		Name:       strings.TrimSpace(req.Name),
		Level:      strings.TrimSpace(req.Level),
		WebsiteURL: trimmedPtr(req.WebsiteURL),
		LogoURL:    trimmedPtr(req.LogoURL),
		IsActive:   boolOr(req.IsActive, true),
		SortOrder:  req.SortOrder,
	}
}

// ListSponsors returns every sponsor.
func (h *CatalogAdminHandler) ListSponsors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sponsors, err := h.Store.ListSponsors(r.Context(), false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sponsors": nonNil(sponsors)})
	}
}

// CreateSponsor creates a sponsor.
func (h *CatalogAdminHandler) CreateSponsor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sponsorRequest
		if !decodeValid(w, r, &req) {
			return
		}
		sp := req.toSponsor()
		if err := h.Store.CreateSponsor(r.Context(), sp); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusCreated, sp)
	}
}

// UpdateSponsor replaces a sponsor.
func (h *CatalogAdminHandler) UpdateSponsor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		var req sponsorRequest
		if !decodeValid(w, r, &req) {
			return
		}
		sp := req.toSponsor()
		sp.ID = id
		if err := h.Store.UpdateSponsor(r.Context(), sp); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusOK, sp)
	}
}

// DeleteSponsor removes a sponsor.
func (h *CatalogAdminHandler) DeleteSponsor() http.HandlerFunc {
	return h.deleteHandler("id", h.Store.DeleteSponsor)
}

// --- fee types ---

type feeTypeRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	PriceCents  int64   `json:"price_cents" validate:"gt=0"`
	MaxQuantity int     `json:"max_quantity" validate:"min=1,max=1000"`
	IsActive    *bool   `json:"is_active"`
}

func (req feeTypeRequest) toFeeType() *models.FeeType {
	return &models.FeeType{
		Name:        strings.TrimSpace(req.Name),
		Description: trimmedPtr(req.Description),
		PriceCents:  req.PriceCents,
		MaxQuantity: req.MaxQuantity,
		IsActive:    boolOr(req.IsActive, true),
	}
}

// ListFeeTypes returns every fee type.
func (h *CatalogAdminHandler) ListFeeTypes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fees, err := h.Store.ListFeeTypes(r.Context(), false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fee_types": nonNil(fees)})
	}
}

// CreateFeeType creates a fee type.
func (h *CatalogAdminHandler) CreateFeeType() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feeTypeRequest
		if !decodeValid(w, r, &req) {
			return
		}
		f := req.toFeeType()
		if err := h.Store.CreateFeeType(r.Context(), f); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusCreated, f)
	}
}

// UpdateFeeType replaces a fee type. Past purchases keep their unit price.
func (h *CatalogAdminHandler) UpdateFeeType() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		var req feeTypeRequest
		if !decodeValid(w, r, &req) {
			return
		}
		f := req.toFeeType()
		f.ID = id
		if err := h.Store.UpdateFeeType(r.Context(), f); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusOK, f)
	}
}

// DeleteFeeType removes a fee type nobody has bought.
func (h *CatalogAdminHandler) DeleteFeeType() http.HandlerFunc {
	return h.deleteHandler("id", h.Store.DeleteFeeType)
}

// --- membership types ---

type membershipTypeRequest struct {
	Slug           string  `json:"slug" validate:"required,max=100,excludesall= /?#"`
	Name           string  `json:"name" validate:"required,max=200"`
	Description    *string `json:"description" validate:"omitempty,max=2000"`
	PriceCents     int64   `json:"price_cents" validate:"gt=0"`
	DurationMonths *int    `json:"duration_months" validate:"omitempty,min=1,max=1200"`
	IsActive       *bool   `json:"is_active"`
	SortOrder      int     `json:"sort_order" validate:"min=0"`
}

func (req membershipTypeRequest) toMembershipType() *models.MembershipType {
	return &models.MembershipType{
		Slug:           strings.ToLower(strings.TrimSpace(req.Slug)),
		Name:           strings.TrimSpace(req.Name),
		Description:    trimmedPtr(req.Description),
		PriceCents:     req.PriceCents,
		DurationMonths: req.DurationMonths,
		IsActive:       boolOr(req.IsActive, true),
		SortOrder:      req.SortOrder,
	}
}

// ListMembershipTypes returns every tier.
func (h *CatalogAdminHandler) ListMembershipTypes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types, err := h.Store.ListMembershipTypes(r.Context(), false)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"membership_types": nonNil(types)})
	}
}

// CreateMembershipType creates a tier. A null duration makes it a lifetime tier.
func (h *CatalogAdminHandler) CreateMembershipType() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req membershipTypeRequest
		if !decodeValid(w, r, &req) {
			return
		}
		t := req.toMembershipType()
		if err := h.Store.CreateMembershipType(r.Context(), t); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusCreated, t)
	}
}

// UpdateMembershipType replaces a tier.
func (h *CatalogAdminHandler) UpdateMembershipType() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		var req membershipTypeRequest
		if !decodeValid(w, r, &req) {
			return
		}
		t := req.toMembershipType()
		t.ID = id
		if err := h.Store.UpdateMembershipType(r.Context(), t); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		writeJSON(w, http.StatusOK, t)
	}
}

// DeleteMembershipType removes a tier.
func (h *CatalogAdminHandler) DeleteMembershipType() http.HandlerFunc {
	return h.deleteHandler("id", h.Store.DeleteMembershipType)
}

func (h *CatalogAdminHandler) deleteHandler(param string, del func(ctx context.Context, id int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, param)
		if !ok {
			return
		}
		if err := del(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		h.invalidate(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}
