package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mwhitfield/bastion/internal/auth"
	"github.com/mwhitfield/bastion/internal/handlers"
	"github.com/mwhitfield/bastion/internal/middleware"
)

// Dependencies carries everything the router needs.
type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	AdminHandler  *handlers.AdminHandler
	TokenManager  *auth.TokenManager
	HealthHandler http.HandlerFunc
	Logger        *slog.Logger
}

// New builds the HTTP router.
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// No RealIP middleware here: it would trust X-Forwarded-For from anyone.
	// Handlers resolve the client IP through the trusted-proxy check instead.
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.SecureLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/health", deps.HealthHandler)

	r.Route("/auth", func(r chi.Router) {
		// Volumetric backstop; the blocking layer handles credential abuse.
		r.Use(middleware.LoginRateLimit(30, time.Minute))

		r.Post("/login", deps.AuthHandler.Login)
		r.Post("/register", deps.AuthHandler.Register)
		r.Get("/ip-status", deps.AuthHandler.IPStatus)

		r.Group(func(r chi.Router) {
			r.Use(deps.TokenManager.RequireAuth)
			r.Get("/me", deps.AuthHandler.Me)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(deps.TokenManager.RequireAuth)
		r.Use(auth.RequireRole("admin"))

		r.Get("/blocked-ips", deps.AdminHandler.ListBlockedIPs)
		r.Post("/blocked-ips", deps.AdminHandler.BlockIP)
		r.Get("/blocked-ips/{ip}", deps.AdminHandler.GetBlockedIP)
		r.Delete("/blocked-ips/{ip}", deps.AdminHandler.UnblockIP)
		r.Get("/stats", deps.AdminHandler.AttemptStats)
		r.Get("/attempts", deps.AdminHandler.RecentAttempts)
	})

	return r
}
