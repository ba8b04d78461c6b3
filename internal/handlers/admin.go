package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/show-association/backend/internal/checkout"
	"github.com/PortNumber53/show-association/backend/internal/middleware"
	"github.com/PortNumber53/show-association/backend/internal/models"
)

const defaultAdminPageSize = 50

// MemberAdminStore is the member store as used by the admin portal.
type MemberAdminStore interface {
	GetMemberByID(ctx context.Context, id int64) (*models.Member, error)
	ListMembers(ctx context.Context, status models.MembershipStatus, limit, offset int) ([]models.Member, error)
	UpdateMembershipStatus(ctx context.Context, id int64, status models.MembershipStatus) error
	ListAuditEntries(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// PaymentAdminStore lists payments for the admin portal.
type PaymentAdminStore interface {
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, error)
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
}

// ShowEntryLister lists the entries of one show.
type ShowEntryLister interface {
	ListEntriesForShow(ctx context.Context, showID int64) ([]models.ShowEntry, error)
}

// Refunder runs admin refunds.
type Refunder interface {
	RefundPayment(ctx context.Context, paymentID int64) (*checkout.RefundResult, error)
}

// AdminHandler serves member, payment and entry administration.
type AdminHandler struct {
	Members  MemberAdminStore
	Payments PaymentAdminStore
	Entries  ShowEntryLister
	Refunds  Refunder
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(members MemberAdminStore, payments PaymentAdminStore, entries ShowEntryLister, refunds Refunder) *AdminHandler {
	return &AdminHandler{Members: members, Payments: payments, Entries: entries, Refunds: refunds}
}

// RegisterRoutes registers admin routes on a router already scoped to /api/admin.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/members", h.ListMembers())
	router.Get("/members/{id}", h.GetMember())
	router.Put("/members/{id}/status", h.UpdateMemberStatus())
	router.Get("/payments", h.ListPayments())
	router.Get("/payments/{id}", h.GetPayment())
	router.Post("/payments/{id}/refund", h.RefundPayment())
	router.Get("/shows/{id}/entries", h.ListShowEntries())
	router.Get("/audit-log", h.ListAuditLog())
}

// ListMembers returns members, optionally filtered by ?status=.
func (h *AdminHandler) ListMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.MembershipStatus(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			writeErrorText(w, http.StatusBadRequest, "invalid status")
			return
		}
		members, err := h.Members.ListMembers(r.Context(), status,
			queryInt(r, "limit", defaultAdminPageSize), queryInt(r, "offset", 0))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": nonNil(members)})
	}
}

// GetMember returns one member.
func (h *AdminHandler) GetMember() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		m, err := h.Members.GetMemberByID(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

type memberStatusRequest struct {
	Status models.MembershipStatus `json:"status" validate:"required,oneof=pending active expired suspended"`
}

// UpdateMemberStatus is the explicit admin decision to suspend, revoke or
// reinstate a membership.
func (h *AdminHandler) UpdateMemberStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		var req memberStatusRequest
		if !decodeValid(w, r, &req) {
			return
		}
		if err := h.Members.UpdateMembershipStatus(r.Context(), id, req.Status); err != nil {
			writeError(w, r, err)
			return
		}
		if admin, ok := middleware.MemberFromContext(r.Context()); ok {
			log.Printf("[admin] member %d set membership of %d to %s", admin.ID, id, req.Status)
		}
		m, err := h.Members.GetMemberByID(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// ListPayments returns payments, optionally filtered by ?status= and ?member_id=.
func (h *AdminHandler) ListPayments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.PaymentStatus(r.URL.Query().Get("status"))
		switch status {
		case "", models.PaymentStatusPending, models.PaymentStatusSucceeded,
			models.PaymentStatusFailed, models.PaymentStatusRefunded:
		default:
			writeErrorText(w, http.StatusBadRequest, "invalid status")
			return
		}
		payments, err := h.Payments.ListPayments(r.Context(), models.PaymentFilter{
			Status:   status,
			MemberID: int64(queryInt(r, "member_id", 0)),
			Limit:    queryInt(r, "limit", defaultAdminPageSize),
			Offset:   queryInt(r, "offset", 0),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payments": nonNil(payments)})
	}
}

// GetPayment returns one payment.
func (h *AdminHandler) GetPayment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		p, err := h.Payments.GetPaymentByID(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// RefundPayment fully refunds a succeeded payment.
func (h *AdminHandler) RefundPayment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		res, err := h.Refunds.RefundPayment(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ListShowEntries returns every entry of a show.
func (h *AdminHandler) ListShowEntries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		showID, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}
		entries, err := h.Entries.ListEntriesForShow(r.Context(), showID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
	}
}

// ListAuditLog returns recent admin requests.
func (h *AdminHandler) ListAuditLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := h.Members.ListAuditEntries(r.Context(), queryInt(r, "limit", 100))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": nonNil(entries)})
	}
}
