package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/custody/internal/model"
)

// Options configures the HTTP handler.
type Options struct {
	DB             *sql.DB
	JWTSecret      string
	SessionTTL     time.Duration
	CookieSecure   bool
	MetricsEnabled bool
}

// NewRouter builds the service handler: /health, optionally /metrics, and the
// JSON API under /api.
func NewRouter(opts Options) http.Handler {
	db := opts.DB

	authHandler := &AuthHandler{DB: db, JWTSecret: opts.JWTSecret, SessionTTL: opts.SessionTTL, CookieSecure: opts.CookieSecure}
	usersHandler := &UsersHandler{DB: db}
	evidenceHandler := &EvidenceHandler{DB: db}
	transfersHandler := &TransfersHandler{DB: db}
	lookupsHandler := &LookupsHandler{DB: db}
	signaturesHandler := &SignaturesHandler{DB: db}
	auditHandler := &AuditHandler{DB: db}

	requireAdmin := RequireRole(model.RoleAdmin)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(LoggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/health", Health(db))
	if opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		// Public: login.
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(opts.JWTSecret, db, opts.CookieSecure))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)
			r.Put("/auth/password", authHandler.ChangePassword)

			r.Route("/evidence", func(r chi.Router) {
				r.Get("/", evidenceHandler.List)
				r.Post("/", evidenceHandler.Create)
				r.Get("/export.xlsx", evidenceHandler.Export)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", evidenceHandler.Get)
					r.Put("/", evidenceHandler.Update)
					r.Patch("/", evidenceHandler.Update)
					r.With(RequireRole(model.RoleSupervisor)).Delete("/", evidenceHandler.Delete)
					r.Get("/history", evidenceHandler.History)
					r.Get("/custody.xlsx", evidenceHandler.CustodyReport)
					r.Get("/notes", evidenceHandler.ListNotes)
					r.Post("/notes", evidenceHandler.AddNote)
					r.Get("/photos", evidenceHandler.ListPhotos)
					r.Post("/photos", evidenceHandler.UploadPhoto)
					r.Get("/photos/{photoID}", evidenceHandler.GetPhoto)
				})
			})

			r.Route("/transfers", func(r chi.Router) {
				r.Get("/", transfersHandler.List)
				r.Post("/", transfersHandler.Create)
				r.Get("/{id}", transfersHandler.Get)
				r.Get("/{id}/receipt.xlsx", transfersHandler.Receipt)
				r.Put("/{id}", transfersHandler.Update)
				r.Delete("/{id}", transfersHandler.Delete)
			})

			// Lookups: read (all roles), write (admin).
			r.Route("/lookups/{kind}", func(r chi.Router) {
				r.Get("/", lookupsHandler.List)
				r.Get("/{id}", lookupsHandler.Get)
				r.With(requireAdmin).Post("/", lookupsHandler.Create)
				r.With(requireAdmin).Patch("/{id}", lookupsHandler.Update)
				r.With(requireAdmin).Delete("/{id}", lookupsHandler.Delete)
			})

			r.Route("/signatures", func(r chi.Router) {
				r.Get("/", signaturesHandler.List)
				r.Post("/", signaturesHandler.Create)
				r.Get("/{id}", signaturesHandler.Get)
			})

			// Admin only.
			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/users", usersHandler.List)
				r.Post("/users", usersHandler.Create)
				r.Get("/users/{id}", usersHandler.Get)
				r.Patch("/users/{id}", usersHandler.Update)
				r.Put("/users/{id}/password", usersHandler.ResetPassword)
				r.Delete("/users/{id}", usersHandler.Delete)

				r.Get("/audit", auditHandler.List)
			})
		})
	})

	return r
}
