package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/scoutreport/internal/api/middleware"
	"github.com/kiranshivaraju/scoutreport/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateReport   http.HandlerFunc
	ListReports    http.HandlerFunc
	GetReport      http.HandlerFunc
	ReportStatus   http.HandlerFunc
	DownloadReport http.HandlerFunc
	DeleteReport   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/reports", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateReport))
			r.Get("/", orNotImplemented(deps.ListReports))
			r.Get("/{id}", orNotImplemented(deps.GetReport))
			r.Get("/{id}/status", orNotImplemented(deps.ReportStatus))
			r.Get("/{id}/download", orNotImplemented(deps.DownloadReport))
			r.Delete("/{id}", orNotImplemented(deps.DeleteReport))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
