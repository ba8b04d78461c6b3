package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/show-association/backend/internal/cache"
	"github.com/PortNumber53/show-association/backend/internal/checkout"
	"github.com/PortNumber53/show-association/backend/internal/models"
	"github.com/PortNumber53/show-association/backend/internal/store"
)

// CatalogReader is the read side of the catalog store.
type CatalogReader interface {
	ListShows(ctx context.Context, publishedOnly bool) ([]models.Show, error)
	GetShowByID(ctx context.Context, id int64) (*models.Show, error)
	ListShowClasses(ctx context.Context, showID int64, activeOnly bool) ([]models.ShowClass, error)
	ListSponsors(ctx context.Context, activeOnly bool) ([]models.Sponsor, error)
	ListMembershipTypes(ctx context.Context, activeOnly bool) ([]models.MembershipType, error)
	ListFeeTypes(ctx context.Context, activeOnly bool) ([]models.FeeType, error)
}

// FeeCheckout starts additional-fee checkouts for members and guests.
type FeeCheckout interface {
	CreateFeeCheckout(ctx context.Context, memberID int64, guest *checkout.Guest, items []checkout.FeeItemRequest) (*checkout.Result, error)
}

// PublicHandler serves the unauthenticated catalog and guest checkout.
type PublicHandler struct {
	Catalog  CatalogReader
	Cache    cache.Cache
	Checkout FeeCheckout
}

// NewPublicHandler creates a PublicHandler. A nil cache disables caching.
func NewPublicHandler(catalog CatalogReader, c cache.Cache, co FeeCheckout) *PublicHandler {
	if c == nil {
		c = cache.Noop{}
	}
	return &PublicHandler{Catalog: catalog, Cache: c, Checkout: co}
}

// RegisterRoutes registers the public routes.
func (h *PublicHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/public/shows", h.ListShows())
	router.Get("/api/public/shows/{id}", h.GetShow())
	router.Get("/api/public/sponsors", h.ListSponsors())
	router.Get("/api/public/membership-types", h.ListMembershipTypes())
	router.Get("/api/public/fee-types", h.ListFeeTypes())
	router.Post("/api/public/checkout/fees", h.GuestFeeCheckout())
}

// ListShows returns published shows.
func (h *PublicHandler) ListShows() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shows, err := cache.Remember(r.Context(), h.Cache, cache.CatalogPrefix+"shows",
			func(ctx context.Context) ([]models.Show, error) {
				shows, err := h.Catalog.ListShows(ctx, true)
				return nonNil(shows), err
			})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shows": shows})
	}
}

// GetShow returns one published show with its active classes.
func (h *PublicHandler) GetShow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		key := cache.CatalogPrefix + "show:" + strconv.FormatInt(id, 10)
		show, err := cache.Remember(r.Context(), h.Cache, key, func(ctx context.Context) (*models.Show, error) {
			show, err := h.Catalog.GetShowByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if !show.IsPublished {
				return nil, store.ErrShowNotFound
			}
			classes, err := h.Catalog.ListShowClasses(ctx, id, true)
			if err != nil {
				return nil, err
			}
			show.Classes = nonNil(classes)
			return show, nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, show)
	}
}

// ListSponsors returns active sponsors.
func (h *PublicHandler) ListSponsors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sponsors, err := cache.Remember(r.Context(), h.Cache, cache.CatalogPrefix+"sponsors",
			func(ctx context.Context) ([]models.Sponsor, error) {
				sponsors, err := h.Catalog.ListSponsors(ctx, true)
				return nonNil(sponsors), err
			})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sponsors": sponsors})
	}
}

// ListMembershipTypes returns the tiers currently on sale.
func (h *PublicHandler) ListMembershipTypes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types, err := cache.Remember(r.Context(), h.Cache, cache.CatalogPrefix+"membership-types",
			func(ctx context.Context) ([]models.MembershipType, error) {
				types, err := h.Catalog.ListMembershipTypes(ctx, true)
				return nonNil(types), err
			})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"membership_types": types})
	}
}

// ListFeeTypes returns the fee items currently on sale.
func (h *PublicHandler) ListFeeTypes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fees, err := cache.Remember(r.Context(), h.Cache, cache.CatalogPrefix+"fee-types",
			func(ctx context.Context) ([]models.FeeType, error) {
				fees, err := h.Catalog.ListFeeTypes(ctx, true)
				return nonNil(fees), err
			})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fee_types": fees})
	}
}

type guestFeeCheckoutRequest struct {
	Name  string                    `json:"name"`
	Email string                    `json:"email"`
	Items []checkout.FeeItemRequest `json:"items"`
}

// GuestFeeCheckout starts an additional-fee checkout for a visitor without an
// account.
func (h *PublicHandler) GuestFeeCheckout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req guestFeeCheckoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.Checkout.CreateFeeCheckout(r.Context(), 0,
			&checkout.Guest{Name: req.Name, Email: req.Email}, req.Items)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
