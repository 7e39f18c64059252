// Package httptransport assembles the module handlers into one router and
// decides which middleware guards which route.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustcore/internal/audit"
	"trustcore/internal/platform/metrics"
	ratelimitmw "trustcore/internal/ratelimit/middleware"
	"trustcore/internal/ratelimit/models"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	adminmw "trustcore/pkg/platform/middleware/admin"
	authmw "trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/platform/middleware/metadata"
	"trustcore/pkg/platform/middleware/request"
	"trustcore/pkg/platform/middleware/requesttime"
)

// Registrar mounts a module's routes on a router group.
type Registrar interface {
	Register(r chi.Router)
}

// AuthRoutes is the session handler's split between routes that read the
// bearer themselves and routes that need an authenticated caller.
type AuthRoutes interface {
	RegisterPublic(r chi.Router)
	RegisterProtected(r chi.Router)
}

// AdminRoutes mounts operator endpoints.
type AdminRoutes interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	Audit     Registrar
	RateLimit AdminRoutes
	Auth      AuthRoutes
	Risk      Registrar
}

type Config struct {
	AdminToken string
	Limiter    *ratelimitmw.Middleware
	Validator  authmw.TokenValidator
	// Recorder receives action outcomes for the financial routes.
	Recorder audit.Recorder
	Checks   map[string]HealthCheck
	Logger   *slog.Logger
}

// NewRouter wires every public and operator endpoint.
func NewRouter(cfg Config, h Handlers) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(cfg.Checks, logger))
	r.Handle("/metrics", promhttp.Handler())

	requireAuth := authmw.RequireAuth(cfg.Validator, logger)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Limiter.RateLimit(models.ClassAuth))
		h.Auth.RegisterPublic(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(cfg.Limiter.RateLimit(models.ClassAuth))
		h.Auth.RegisterProtected(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(authmw.RequireFullSession(logger))
		r.Use(cfg.Limiter.RateLimit(models.ClassFinancial))
		if cfg.Recorder != nil {
			r.Use(audit.Track(cfg.Recorder, audit.EventActionCompleted, logger))
		}
		h.Risk.Register(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(cfg.AdminToken, logger))
		r.Use(cfg.Limiter.RateLimit(models.ClassRead))
		h.Audit.Register(r)
		h.RateLimit.RegisterAdmin(r)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	return r
}

func readiness(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{}
		ready := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				status[name] = "unavailable"
				ready = false
				continue
			}
			status[name] = "ok"
		}
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	}
}
