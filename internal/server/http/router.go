package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Pinger reports whether a dependency answers. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterConfig struct {
	CORSOrigin string
	Health     Pinger
}

func corsOptions(origin string) cors.Options {
	opts := cors.Options{
		AllowedOrigins: []string{origin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}
	// Browsers refuse credentials with a wildcard origin.
	if origin != "" && origin != "*" {
		opts.AllowCredentials = true
	}
	return opts
}

// NewRouter mounts the user API under /api/v1/users.
func NewRouter(cfg RouterConfig, users *UserHandler, authn *Authenticator, logger logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(cors.Handler(corsOptions(cfg.CORSOrigin)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/healthz", healthz(cfg.Health))

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", wrap(logger, users.Register))
		r.Post("/login", wrap(logger, users.Login))
		r.Post("/refresh-token", wrap(logger, users.RefreshToken))

		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			r.Post("/logout", wrap(logger, users.Logout))
			r.Post("/change-password", wrap(logger, users.ChangePassword))
			r.Get("/current-user", wrap(logger, users.CurrentUser))
			r.Patch("/update-account", wrap(logger, users.UpdateAccount))
			r.Patch("/avatar", wrap(logger, users.UpdateAvatar))
			r.Patch("/cover-image", wrap(logger, users.UpdateCoverImage))
		})
	})

	return r
}

func healthz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.PingContext(ctx); err != nil {
				respondError(w, http.StatusServiceUnavailable, "Database unavailable", nil)
				return
			}
		}
		respond(w, http.StatusOK, map[string]string{"status": "ok"}, "OK")
	}
}
