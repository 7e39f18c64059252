package httptransport

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/audit"
	auditmemory "trustcore/internal/audit/store/memory"
	"trustcore/internal/platform/logger"
	ratelimitmw "trustcore/internal/ratelimit/middleware"
	"trustcore/internal/ratelimit/models"
	ratelimitsvc "trustcore/internal/ratelimit/service"
	"trustcore/internal/ratelimit/store/window"
	dErrors "trustcore/pkg/domain-errors"
	adminmw "trustcore/pkg/platform/middleware/admin"
	authmw "trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/testutil"
)

type stubRoutes struct{}

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func (stubRoutes) Register(r chi.Router) {
	r.Get("/audit/events", ok)
	r.Post("/risk/transactions", ok)
}
func (stubRoutes) RegisterAdmin(r chi.Router)     { r.Get("/admin/rate-limit/status", ok) }
func (stubRoutes) RegisterPublic(r chi.Router)    { r.Post("/auth/login", ok) }
func (stubRoutes) RegisterProtected(r chi.Router) { r.Post("/auth/logout", ok) }

type staticValidator struct{}

func (staticValidator) ValidateBearer(_ context.Context, token string) (authmw.Identity, error) {
	switch token {
	case "good":
		return authmw.Identity{SubjectID: "alice", TokenID: "jti-1"}, nil
	case "held":
		return authmw.Identity{SubjectID: "bob", TokenID: "jti-2", Restricted: true}, nil
	}
	return authmw.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
}

func newRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *auditmemory.InMemoryStore) {
	t.Helper()
	log := logger.Discard()
	limits := map[models.EndpointClass]models.Limit{
		models.ClassAuth:      {RequestsPerWindow: 2, Window: time.Minute},
		models.ClassFinancial: {RequestsPerWindow: 5, Window: time.Minute},
		models.ClassRead:      {RequestsPerWindow: 5, Window: time.Minute},
	}
	limiter, err := ratelimitsvc.New(window.NewInMemoryStore(), limits, ratelimitsvc.WithLogger(log))
	require.NoError(t, err)

	store := auditmemory.NewInMemoryStore()
	trail := audit.New(store, nil, audit.WithLogger(log))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = trail.Run(ctx)
	}()
	t.Cleanup(func() {
		_ = trail.Close(context.Background())
		cancel()
		<-done
	})

	stubs := stubRoutes{}
	router := NewRouter(Config{
		AdminToken: "admin-secret",
		Limiter:    ratelimitmw.New(limiter, log),
		Validator:  staticValidator{},
		Recorder:   trail,
		Checks:     checks,
		Logger:     log,
	}, Handlers{Audit: stubs, RateLimit: stubs, Auth: stubs, Risk: stubs})
	return router, store
}

func TestRouterGuards(t *testing.T) {
	router, store := newRouter(t, nil)

	testutil.Given(t, "an anonymous caller", func(t *testing.T) {
		testutil.When(t, "they call a financial route", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/risk/transactions"))
			testutil.Then(t, "the bearer is demanded", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusUnauthorized)
				assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `error="invalid_token"`)
			})
		})

		testutil.When(t, "they call an operator route without the token", func(t *testing.T) {
			rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/audit/events"))
			testutil.Then(t, "it is refused", func(t *testing.T) {
				assert.NotEqual(t, http.StatusNoContent, rr.Code)
			})
		})
	})

	testutil.Given(t, "an authenticated caller", func(t *testing.T) {
		req := testutil.WithBearer(testutil.NewRequest(t, http.MethodPost, "/risk/transactions"), "good")
		rr := testutil.DoRequest(router, req)

		testutil.Then(t, "the financial route runs under the financial budget", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusNoContent)
			assert.Equal(t, "5", rr.Header().Get("X-RateLimit-Limit"))
		})
		testutil.Then(t, "the action outcome reaches the audit trail", func(t *testing.T) {
			assert.Eventually(t, func() bool {
				for _, e := range store.All() {
					if e.EventType == audit.EventActionCompleted && e.Actor() == "alice" {
						return true
					}
				}
				return false
			}, time.Second, 10*time.Millisecond)
		})
	})

	testutil.Given(t, "a session held for review", func(t *testing.T) {
		req := testutil.WithBearer(testutil.NewRequest(t, http.MethodPost, "/risk/transactions"), "held")
		rr := testutil.DoRequest(router, req)
		testutil.Then(t, "financial routes are refused", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusForbidden)
		})

		logout := testutil.WithBearer(testutil.NewRequest(t, http.MethodPost, "/auth/logout"), "held")
		rr = testutil.DoRequest(router, logout)
		testutil.Then(t, "session routes still work", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusNoContent)
		})
	})

	testutil.Given(t, "an operator", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/admin/rate-limit/status")
		req.Header.Set(adminmw.HeaderAdminToken, "admin-secret")
		rr := testutil.DoRequest(router, req)
		testutil.Then(t, "operator routes are reachable", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusNoContent)
		})
	})
}

func TestLoginIsOnTheAuthBudget(t *testing.T) {
	router, _ := newRouter(t, nil)

	for range 2 {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/auth/login"))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	}
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/auth/login"))
	testutil.AssertStatus(t, rr, http.StatusTooManyRequests)
	testutil.AssertRetryAfter(t, rr, 60)
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newRouter(t, map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/readyz"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(t, rr, "redis", "ok")
	testutil.AssertJSONContains(t, rr, "postgres", "unavailable")

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatus(t, rr, http.StatusOK)

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/nope"))
	testutil.AssertStatus(t, rr, http.StatusNotFound)
}
