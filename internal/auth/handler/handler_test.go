package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"trustcore/internal/auth/models"
	"trustcore/internal/auth/service"
	"trustcore/internal/auth/store/activity"
	"trustcore/internal/auth/store/lockout"
	"trustcore/internal/auth/store/revocation"
	"trustcore/internal/auth/store/user"
	"trustcore/internal/auth/token"
	"trustcore/internal/platform/logger"
	authmw "trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/testutil"
)

// HandlerSuite runs the real service over in-memory stores.
type HandlerSuite struct {
	suite.Suite
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	users := user.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	s.Require().NoError(err)
	s.Require().NoError(users.Save(context.Background(), &models.User{SubjectID: "alice", PasswordHash: string(hash)}))

	svc, err := service.New(
		token.NewManager("test-key", "trustcore", "trustcore-platform", 15*time.Minute, time.Hour),
		revocation.NewInMemoryTRL(nil),
		lockout.New(),
		users,
		service.Config{LockoutThreshold: 2, LockoutCooldown: time.Minute},
		service.WithLogger(logger.Discard()),
		service.WithActivityStore(activity.NewInMemoryStore()),
	)
	s.Require().NoError(err)

	h := New(svc, logger.Discard())
	r := chi.NewRouter()
	h.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(svc, logger.Discard()))
		h.RegisterProtected(r)
	})
	s.router = r
}

func (s *HandlerSuite) login() *models.TokenPair {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login",
		map[string]string{"subject_id": "alice", "password": "s3cret"}))
	s.Require().Equal(http.StatusOK, rr.Code)
	return testutil.UnmarshalResponse[models.TokenPair](s.T(), rr)
}

func (s *HandlerSuite) introspect(tok string) *models.IntrospectResponse {
	rr := testutil.DoRequest(s.router, testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/auth/introspect"), tok))
	s.Require().Equal(http.StatusOK, rr.Code)
	return testutil.UnmarshalResponse[models.IntrospectResponse](s.T(), rr)
}

func (s *HandlerSuite) TestLogin() {
	pair := s.login()
	s.NotEmpty(pair.AccessToken)
	s.NotEmpty(pair.RefreshToken)
	s.Equal("Bearer", pair.TokenType)

	s.Run("validation", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/auth/login", `{"subject_id":"alice"}`))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})
}

func (s *HandlerSuite) TestLockedLoginCarriesRetryAfter() {
	bad := map[string]string{"subject_id": "alice", "password": "nope"}
	for range 2 {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login", bad))
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	}
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/login",
		map[string]string{"subject_id": "alice", "password": "s3cret"}))
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	testutil.AssertRetryAfter(s.T(), rr, 60)
}

func (s *HandlerSuite) TestRefreshAndLogout() {
	pair := s.login()

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken}))
	s.Require().Equal(http.StatusOK, rr.Code)
	next := testutil.UnmarshalResponse[models.TokenPair](s.T(), rr)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/logout", map[string]string{"refresh_token": next.RefreshToken})
	rr = testutil.DoRequest(s.router, testutil.WithBearer(req, next.AccessToken))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	resp := s.introspect(next.AccessToken)
	s.False(resp.Active)
	s.Equal(models.SessionRevoked, resp.State)

	req = testutil.NewRequest(s.T(), http.MethodPost, "/auth/logout")
	rr = testutil.DoRequest(s.router, testutil.WithBearer(req, next.AccessToken))
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	s.Equal(`Bearer error="invalid_token"`, rr.Header().Get("WWW-Authenticate"))
}

func (s *HandlerSuite) TestRevoke() {
	pair := s.login()

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/revoke", map[string]string{"token": pair.RefreshToken})
	rr := testutil.DoRequest(s.router, testutil.WithBearer(req, pair.AccessToken))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/refresh",
		map[string]string{"refresh_token": pair.RefreshToken}))
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)

	s.Run("requires bearer", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/revoke", map[string]string{"token": "x"}))
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})
}

func (s *HandlerSuite) TestIntrospect() {
	pair := s.login()
	s.Equal(models.SessionIssued, s.introspect(pair.AccessToken).State)

	// any authenticated call activates the token
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/auth/revoke", map[string]string{"token": "garbage"})
	testutil.DoRequest(s.router, testutil.WithBearer(req, pair.AccessToken))

	resp := s.introspect(pair.AccessToken)
	s.True(resp.Active)
	s.Equal(models.SessionActive, resp.State)
	s.Equal("alice", resp.SubjectID)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/auth/introspect"))
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
}
