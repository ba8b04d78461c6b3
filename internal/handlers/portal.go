package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/show-association/backend/internal/checkout"
	"github.com/PortNumber53/show-association/backend/internal/middleware"
	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/validate"
)

// ProfileStore updates a member's own profile.
type ProfileStore interface {
	UpdateMemberProfile(ctx context.Context, id int64, firstName, lastName string, phone *string) (*models.Member, error)
}

// EntryStore is the member-facing side of show entries.
type EntryStore interface {
	GetEntry(ctx context.Context, id int64) (*models.ShowEntry, error)
	ListEntriesForMember(ctx context.Context, memberID int64) ([]models.ShowEntry, error)
	CreateDraftEntry(ctx context.Context, e *models.ShowEntry) error
	UpdateDraftEntry(ctx context.Context, e *models.ShowEntry) error
	CancelDraftEntry(ctx context.Context, memberID, entryID int64) error
}

// ShowLookup resolves the show and classes an entry is made against.
type ShowLookup interface {
	GetShowByID(ctx context.Context, id int64) (*models.Show, error)
	GetShowClassesByIDs(ctx context.Context, showID int64, ids []int64) ([]models.ShowClass, error)
}

// PaymentHistory lists a member's payments and fee purchases.
type PaymentHistory interface {
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error)
	ListFeePurchasesForMember(ctx context.Context, memberID int64) ([]models.FeePurchase, error)
}

// MemberCheckout starts the three member checkouts.
type MemberCheckout interface {
	FeeCheckout
	CreateMembershipCheckout(ctx context.Context, memberID int64, slug string) (*checkout.Result, error)
	CreateEntryCheckout(ctx context.Context, memberID int64, entryIDs []int64) (*checkout.Result, error)
}

// PortalHandler serves the member portal. Every route expects the member to be
// loaded into the request context by middleware.Identity.
type PortalHandler struct {
	Members  ProfileStore
	Entries  EntryStore
	Shows    ShowLookup
	Payments PaymentHistory
	Checkout MemberCheckout
	now      func() time.Time
}

// NewPortalHandler creates a PortalHandler.
func NewPortalHandler(members ProfileStore, entries EntryStore, shows ShowLookup, payments PaymentHistory, co MemberCheckout) *PortalHandler {
	return &PortalHandler{
		Members:  members,
		Entries:  entries,
		Shows:    shows,
		Payments: payments,
		Checkout: co,
		now:      time.Now,
	}
}

// RegisterRoutes registers the portal routes on a router already scoped to /api/portal.
func (h *PortalHandler) RegisterRoutes(router chi.Router) {
	router.Get("/profile", h.GetProfile())
	router.Put("/profile", h.UpdateProfile())
	router.Get("/entries", h.ListEntries())
	router.Post("/entries", h.CreateEntry())
	router.Put("/entries/{id}", h.UpdateEntry())
	router.Post("/entries/{id}/cancel", h.CancelEntry())
	router.Get("/payments", h.ListPayments())
	router.Get("/fee-purchases", h.ListFeePurchases())
	router.Post("/checkout/membership", h.MembershipCheckout())
	router.Post("/checkout/entries", h.EntryCheckout())
	router.Post("/checkout/fees", h.FeeCheckout())
}

// GetProfile returns the calling member.
func (h *PortalHandler) GetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := middleware.MemberFromContext(r.Context())
		if !ok {
			writeErrorText(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

type profileRequest struct {
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"required,max=100"`
	Phone     *string `json:"phone" validate:"omitempty,max=40"`
}

// UpdateProfile replaces the member's name and phone.
func (h *PortalHandler) UpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		var req profileRequest
		if !decodeValid(w, r, &req) {
			return
		}
		if req.Phone != nil {
			trimmed := strings.TrimSpace(*req.Phone)
			if trimmed == "" {
				req.Phone = nil
			} else {
				req.Phone = &trimmed
			}
		}

		m, err := h.Members.UpdateMemberProfile(r.Context(), memberID,
			strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName), req.Phone)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// ListEntries returns the member's show entries with their class snapshots.
func (h *PortalHandler) ListEntries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		entries, err := h.Entries.ListEntriesForMember(r.Context(), memberID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
	}
}

type entryRequest struct {
	ShowID    int64   `json:"show_id" validate:"required,gt=0"`
	HorseName string  `json:"horse_name" validate:"required,max=200"`
	RiderName string  `json:"rider_name" validate:"required,max=200"`
	ClassIDs  []int64 `json:"class_ids" validate:"min=1,max=50,unique,dive,gt=0"`
}

// snapshotEntry resolves the selected classes against the show and copies their
// current fees into the entry. Only active classes of a show that still accepts
// entries can be selected.
func (h *PortalHandler) snapshotEntry(ctx context.Context, e *models.ShowEntry, classIDs []int64) error {
	show, err := h.Shows.GetShowByID(ctx, e.ShowID)
	if err != nil {
		return err
	}
	if !show.AcceptsEntries(h.now()) {
		return &validate.Error{Field: "show_id", Message: "show is not accepting entries"}
	}

	classes, err := h.Shows.GetShowClassesByIDs(ctx, e.ShowID, classIDs)
	if err != nil {
		return err
	}
	if len(classes) != len(classIDs) {
		return &validate.Error{Field: "class_ids", Message: "one or more classes are not part of this show"}
	}
	for _, c := range classes {
		if !c.IsActive {
			return &validate.Error{Field: "class_ids", Message: "class " + c.ClassNumber + " is no longer offered"}
		}
	}

	e.Classes, e.TotalCents = models.SnapshotClasses(classes)
	return nil
}

// CreateEntry creates a draft entry.
func (h *PortalHandler) CreateEntry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		var req entryRequest
		if !decodeValid(w, r, &req) {
			return
		}

		entry := &models.ShowEntry{
			ShowID:    req.ShowID,
			MemberID:  memberID,
			HorseName: strings.TrimSpace(req.HorseName),
			RiderName: strings.TrimSpace(req.RiderName),
		}
		if err := h.snapshotEntry(r.Context(), entry, req.ClassIDs); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.Entries.CreateDraftEntry(r.Context(), entry); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

type entryUpdateRequest struct {
	HorseName string  `json:"horse_name" validate:"required,max=200"`
	RiderName string  `json:"rider_name" validate:"required,max=200"`
	ClassIDs  []int64 `json:"class_ids" validate:"min=1,max=50,unique,dive,gt=0"`
}

// UpdateEntry edits a draft entry and re-snapshots its classes.
func (h *PortalHandler) UpdateEntry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		var req entryUpdateRequest
		if !decodeValid(w, r, &req) {
			return
		}

		existing, err := h.Entries.GetEntry(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if existing.MemberID != memberID {
			writeError(w, r, store.ErrEntryNotFound)
			return
		}
		if !existing.IsDraft() {
			writeError(w, r, store.ErrEntryNotEditable)
			return
		}

		entry := &models.ShowEntry{
			ID:        id,
			ShowID:    existing.ShowID,
			MemberID:  memberID,
			HorseName: strings.TrimSpace(req.HorseName),
			RiderName: strings.TrimSpace(req.RiderName),
		}
		if err := h.snapshotEntry(r.Context(), entry, req.ClassIDs); err != nil {
			writeError(w, r, err)
			return
		}
		if err := h.Entries.UpdateDraftEntry(r.Context(), entry); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

// CancelEntry cancels a draft entry.
func (h *PortalHandler) CancelEntry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		if err := h.Entries.CancelDraftEntry(r.Context(), memberID, id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": models.EntryStatusCancelled})
	}
}

// ListPayments returns the member's payment history.
func (h *PortalHandler) ListPayments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		payments, err := h.Payments.ListPayments(r.Context(), models.PaymentFilter{
			MemberID: memberID,
			Limit:    queryInt(r, "limit", 50),
			Offset:   queryInt(r, "offset", 0),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payments": nonNil(payments)})
	}
}

// ListFeePurchases returns the additional fees the member bought.
func (h *PortalHandler) ListFeePurchases() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		purchases, err := h.Payments.ListFeePurchasesForMember(r.Context(), memberID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fee_purchases": nonNil(purchases)})
	}
}

type membershipCheckoutRequest struct {
	MembershipSlug string `json:"membership_slug" validate:"required,max=100"`
}

// MembershipCheckout starts a dues or renewal checkout.
func (h *PortalHandler) MembershipCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		var req membershipCheckoutRequest
		if !decodeValid(w, r, &req) {
			return
		}
		res, err := h.Checkout.CreateMembershipCheckout(r.Context(), memberID, strings.TrimSpace(req.MembershipSlug))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

type entryCheckoutRequest struct {
	EntryIDs []int64 `json:"entry_ids"`
}

// EntryCheckout starts a checkout for draft entries.
func (h *PortalHandler) EntryCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		var req entryCheckoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.Checkout.CreateEntryCheckout(r.Context(), memberID, req.EntryIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

type memberFeeCheckoutRequest struct {
	Items []checkout.FeeItemRequest `json:"items"`
}

// FeeCheckout starts an additional-fee checkout for the member.
func (h *PortalHandler) FeeCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID, ok := currentMember(w, r)
		if !ok {
			return
		}
		var req memberFeeCheckoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.Checkout.CreateFeeCheckout(r.Context(), memberID, nil, req.Items)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}
