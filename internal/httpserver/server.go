package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PortNumber53/show-association/backend/internal/cache"
	"github.com/PortNumber53/show-association/backend/internal/config"
	"github.com/PortNumber53/show-association/backend/internal/handlers"
	identity "github.com/PortNumber53/show-association/backend/internal/middleware"
	"github.com/PortNumber53/show-association/backend/internal/worker"
)

const maintenanceInterval = 24 * time.Hour

// MemberStore is everything the routes need from the member store.
type MemberStore interface {
	identity.MemberLoader
	identity.AuditStore
	handlers.ProfileStore
	handlers.MemberAdminStore
	handlers.MemberSyncStore
}

// EntryStore serves both the portal and the admin entry listing.
type EntryStore interface {
	handlers.EntryStore
	handlers.ShowEntryLister
}

// CatalogStore backs the public catalog, catalog administration and the
// portal's show lookups.
type CatalogStore interface {
	handlers.CatalogAdminStore
	handlers.ShowLookup
}

// PaymentStore serves payment history and admin payment views.
type PaymentStore interface {
	handlers.PaymentHistory
	handlers.PaymentAdminStore
}

// CheckoutService starts checkouts, applies webhook events and runs refunds.
type CheckoutService interface {
	handlers.MemberCheckout
	handlers.Refunder
	handlers.EventHandler
}

// Deps are the stores and services the router is built from. Worker is
// optional; without it the job endpoints report queue counts only.
type Deps struct {
	DB       handlers.Pinger
	Members  MemberStore
	Catalog  CatalogStore
	Entries  EntryStore
	Payments PaymentStore
	Jobs     handlers.JobStore
	Checkout CheckoutService
	Webhooks handlers.EventVerifier
	Cache    cache.Cache
	Worker   *worker.Worker
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer   *http.Server
	worker       *worker.Worker
	workerCtx    context.Context
	cancelWorker context.CancelFunc
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, d Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handlers.Health)
	if d.DB != nil {
		router.Get("/readyz", handlers.Ready(d.DB))
	}

	// Stripe authenticates itself with the signature header.
	router.Post("/api/webhooks/stripe", handlers.StripeWebhook(d.Webhooks, d.Checkout))

	handlers.NewPublicHandler(d.Catalog, d.Cache, d.Checkout).RegisterRoutes(router)

	router.Route("/api/internal", func(r chi.Router) {
		r.Use(identity.RequireInternalSecret(cfg.InternalAPISecret))
		r.Post("/members/sync", handlers.SyncMember(d.Members))
	})

	router.Route("/api/portal", func(r chi.Router) {
		r.Use(identity.Identity(cfg.InternalAPISecret, d.Members))
		handlers.NewPortalHandler(d.Members, d.Entries, d.Catalog, d.Payments, d.Checkout).RegisterRoutes(r)
	})

	var workerStats handlers.WorkerStats
	if d.Worker != nil {
		workerStats = d.Worker
	}

	router.Route("/api/admin", func(r chi.Router) {
		r.Use(identity.Identity(cfg.InternalAPISecret, d.Members))
		r.Use(identity.RequireAdmin)
		r.Use(identity.NewAuditTracker(d.Members).Middleware())

		handlers.NewAdminHandler(d.Members, d.Payments, d.Entries, d.Checkout).RegisterRoutes(r)
		handlers.NewCatalogAdminHandler(d.Catalog, d.Cache).RegisterRoutes(r)
		if d.Jobs != nil {
			handlers.NewJobHandler(d.Jobs, workerStats).RegisterRoutes(r)
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	return &Server{httpServer: srv, worker: d.Worker, workerCtx: workerCtx, cancelWorker: cancel}
}

// Start begins serving HTTP traffic and starts the worker with its daily
// maintenance loop.
func (s *Server) Start() error {
	if s.worker != nil {
		log.Println("[server] Starting job worker...")
		s.worker.Start(s.workerCtx)
		s.worker.RunDailyMaintenance(s.workerCtx, maintenanceInterval)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.worker != nil {
		log.Println("[server] Shutting down job worker...")
		if werr := s.worker.Stop(ctx); werr != nil {
			log.Printf("[server] Worker shutdown error: %v", werr)
		}
	}
	s.cancelWorker()
	return err
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
