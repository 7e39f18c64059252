package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"trustcore/internal/audit"
	"trustcore/internal/auth/mocks"
	"trustcore/internal/auth/models"
	"trustcore/internal/auth/store/activity"
	"trustcore/internal/auth/store/lockout"
	"trustcore/internal/auth/store/revocation"
	"trustcore/internal/auth/store/user"
	"trustcore/internal/auth/token"
	"trustcore/internal/platform/logger"
	"trustcore/internal/risk"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/requestcontext"
)

const password = "correct horse battery"

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	recorder *mocks.MockAuditRecorder
	risk     *mocks.MockRiskEvaluator
	trl      *revocation.InMemoryTRL
	lockouts *lockout.InMemoryStore
	tokens   *token.Manager
	service  *Service
	now      time.Time
	events   []audit.EventType
	entries  []audit.Entry
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.recorder = mocks.NewMockAuditRecorder(s.ctrl)
	s.risk = mocks.NewMockRiskEvaluator(s.ctrl)
	s.now = time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)
	s.events = nil
	s.entries = nil

	s.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry audit.Entry) (*audit.Event, error) {
			s.events = append(s.events, entry.EventType)
			s.entries = append(s.entries, entry)
			return &audit.Event{EventType: entry.EventType}, nil
		}).AnyTimes()

	users := user.New()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	s.Require().NoError(err)
	s.Require().NoError(users.Save(context.Background(), &models.User{SubjectID: "alice", PasswordHash: string(hash)}))

	s.trl = revocation.NewInMemoryTRL(func() time.Time { return s.now })
	s.lockouts = lockout.New()
	s.tokens = token.NewManager("test-key", "trustcore", "trustcore-platform", 15*time.Minute, 24*time.Hour)
	s.service, err = New(s.tokens, s.trl, s.lockouts, users,
		Config{LockoutThreshold: 3, LockoutCooldown: 10 * time.Minute, FailureWindow: 5 * time.Minute},
		WithLogger(logger.Discard()),
		WithAuditRecorder(s.recorder),
		WithRiskEvaluator(s.risk),
		WithActivityStore(activity.NewInMemoryStore()),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) ctx() context.Context {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	return requestcontext.WithClientMetadata(ctx, "198.51.100.4", "Mozilla/5.0")
}

func (s *ServiceSuite) allowLogins() {
	s.risk.EXPECT().Evaluate(gomock.Any(), gomock.Any()).
		Return(&risk.Assessment{Decision: risk.DecisionAllow}, nil).AnyTimes()
}

func (s *ServiceSuite) login(pw string) (*models.TokenPair, error) {
	return s.service.Login(s.ctx(), models.LoginRequest{SubjectID: "alice", Password: pw})
}

func (s *ServiceSuite) TestLoginIssuesValidTokens() {
	s.risk.EXPECT().Evaluate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c risk.Context) (*risk.Assessment, error) {
			login, ok := c.(*risk.LoginContext)
			s.Require().True(ok)
			s.Equal("alice", login.SubjectID)
			s.Equal("198.51.100.4", login.IP)
			s.Equal("Mozilla/5.0", login.UserAgent)
			s.Equal(s.now, login.At)
			return &risk.Assessment{Decision: risk.DecisionAllow}, nil
		})

	pair, err := s.login(password)
	s.Require().NoError(err)
	s.Equal("Bearer", pair.TokenType)
	s.Equal(900, pair.ExpiresIn)
	s.Equal([]audit.EventType{audit.EventLoginSucceeded, audit.EventTokenIssued}, s.events)

	cred, err := s.service.Validate(s.ctx(), pair.AccessToken)
	s.Require().NoError(err)
	s.Equal("alice", cred.SubjectID)

	_, err = s.service.Validate(s.ctx(), pair.RefreshToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "refresh tokens are not bearer credentials")
}

func (s *ServiceSuite) TestTokenValidUntilExpiry() {
	pair, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)

	s.now = pair.AccessExpiresAt.Add(-time.Second)
	_, err = s.service.Validate(s.ctx(), pair.AccessToken)
	s.NoError(err)

	s.now = pair.AccessExpiresAt
	_, err = s.service.Validate(s.ctx(), pair.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestRejectedBearersAreRecorded() {
	pair, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)
	s.Require().NoError(s.service.Revoke(s.ctx(), pair.AccessTokenID, pair.AccessExpiresAt))

	for name, tc := range map[string]struct {
		raw    string
		reason string
		jti    string
	}{
		"missing": {raw: "", reason: "missing"},
		"forged":  {raw: "not-a-jwt", reason: "invalid"},
		"refresh": {raw: pair.RefreshToken, reason: "wrong_kind", jti: pair.RefreshTokenID},
		"revoked": {raw: pair.AccessToken, reason: "revoked", jti: pair.AccessTokenID},
	} {
		s.Run(name, func() {
			s.entries = nil
			_, err := s.service.ValidateBearer(s.ctx(), tc.raw)
			s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

			s.Require().Len(s.entries, 1)
			rejected := s.entries[0]
			s.Equal(audit.EventTokenRejected, rejected.EventType)
			s.Equal(audit.OutcomeFailure, rejected.Outcome)
			s.Equal(tc.reason, rejected.Payload["reason"])
			if tc.jti != "" {
				s.Equal(tc.jti, rejected.Payload["jti"])
				s.Equal("alice", rejected.ActorID)
			}
		})
	}

	s.Run("expired", func() {
		fresh, err := s.service.Issue(s.ctx(), "alice")
		s.Require().NoError(err)
		s.entries = nil
		s.now = fresh.AccessExpiresAt.Add(time.Second)
		_, err = s.service.Validate(s.ctx(), fresh.AccessToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Require().Len(s.entries, 1)
		s.Equal("expired", s.entries[0].Payload["reason"])
	})
}

func (s *ServiceSuite) TestLockout() {
	s.allowLogins()
	for range 2 {
		_, err := s.login("wrong")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	}
	_, err := s.login("wrong")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "the locking attempt itself is a plain failure")
	s.Contains(s.events, audit.EventAccountLocked)

	_, err = s.login(password)
	s.True(dErrors.HasCode(err, dErrors.CodeAccountLocked), "valid credentials are refused while locked")
	s.Equal(10*time.Minute, dErrors.RetryAfterOf(err))

	s.now = s.now.Add(10 * time.Minute)
	_, err = s.login(password)
	s.NoError(err, "lock clears after the cooldown")
}

func (s *ServiceSuite) TestSuccessResetsFailureCount() {
	s.allowLogins()
	for range 2 {
		_, _ = s.login("wrong")
	}
	_, err := s.login(password)
	s.Require().NoError(err)
	for range 2 {
		_, _ = s.login("wrong")
	}
	_, err = s.login(password)
	s.NoError(err)
}

func (s *ServiceSuite) TestUnknownSubjectLooksLikeBadPassword() {
	_, err := s.service.Login(s.ctx(), models.LoginRequest{SubjectID: "mallory", Password: "x"})
	s.Equal(errInvalidCredentials, err)
	_, err = s.login("wrong")
	s.Equal(errInvalidCredentials, err)
}

func (s *ServiceSuite) TestRiskVerdicts() {
	s.Run("block refuses the login", func() {
		s.risk.EXPECT().Evaluate(gomock.Any(), gomock.Any()).
			Return(&risk.Assessment{Decision: risk.DecisionBlock, Score: 95}, nil)
		pair, err := s.login(password)
		s.Nil(pair)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("review issues a restricted session", func() {
		s.risk.EXPECT().Evaluate(gomock.Any(), gomock.Any()).
			Return(&risk.Assessment{Decision: risk.DecisionReview, Score: 75}, nil)
		pair, err := s.login(password)
		s.Require().NoError(err)
		s.True(pair.Restricted)

		identity, err := s.service.ValidateBearer(s.ctx(), pair.AccessToken)
		s.Require().NoError(err)
		s.True(identity.Restricted)

		rotated, err := s.service.Refresh(s.ctx(), pair.RefreshToken)
		s.Require().NoError(err)
		s.True(rotated.Restricted, "refresh keeps the restriction")
	})
	s.Run("unrecorded verdict refuses the login", func() {
		s.risk.EXPECT().Evaluate(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeDependencyUnavailable, "audit down"))
		_, err := s.login(password)
		s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
	})
	// allowLogins matches every later call, so this runs last.
	s.Run("allow issues a full session", func() {
		s.allowLogins()
		pair, err := s.login(password)
		s.Require().NoError(err)
		s.False(pair.Restricted)
		identity, err := s.service.ValidateBearer(s.ctx(), pair.AccessToken)
		s.Require().NoError(err)
		s.False(identity.Restricted)
	})
}

func (s *ServiceSuite) TestRefreshRotates() {
	pair, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)

	s.now = s.now.Add(time.Minute)
	next, err := s.service.Refresh(s.ctx(), pair.RefreshToken)
	s.Require().NoError(err)
	s.NotEqual(pair.RefreshTokenID, next.RefreshTokenID)
	s.Contains(s.events, audit.EventTokenRefreshed)

	_, err = s.service.Refresh(s.ctx(), pair.RefreshToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "a rotated refresh token cannot be reused")
	s.Contains(s.events, audit.EventTokenRejected)

	_, err = s.service.Refresh(s.ctx(), next.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestRefreshDeniedWhileLocked() {
	pair, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)
	s.Require().NoError(s.lockouts.Lock(s.ctx(), "alice", time.Minute))

	_, err = s.service.Refresh(s.ctx(), pair.RefreshToken)
	s.True(dErrors.HasCode(err, dErrors.CodeAccountLocked))
}

func (s *ServiceSuite) TestLogoutRevokesBoth() {
	pair, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)

	s.Require().NoError(s.service.Logout(s.ctx(), pair.AccessToken, pair.RefreshToken))
	_, err = s.service.Validate(s.ctx(), pair.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	_, err = s.service.Refresh(s.ctx(), pair.RefreshToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestLogoutRejectsForeignRefreshToken() {
	mine, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)
	theirs, err := s.service.Issue(s.ctx(), "bob")
	s.Require().NoError(err)

	err = s.service.Logout(s.ctx(), mine.AccessToken, theirs.RefreshToken)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestRevokeToken() {
	pair, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)

	s.Run("other subjects may not revoke", func() {
		ctx := requestcontext.WithSubjectID(s.ctx(), "bob")
		err := s.service.RevokeToken(ctx, pair.AccessToken)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("garbage is a no-op", func() {
		s.NoError(s.service.RevokeToken(s.ctx(), "garbage"))
	})
	s.Run("owner revokes", func() {
		ctx := requestcontext.WithSubjectID(s.ctx(), "alice")
		s.Require().NoError(s.service.RevokeToken(ctx, pair.AccessToken))
		_, err := s.service.Validate(s.ctx(), pair.AccessToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
	s.Run("expired token needs no record", func() {
		s.now = pair.RefreshExpiresAt.Add(time.Second)
		s.NoError(s.service.Revoke(s.ctx(), pair.RefreshTokenID, pair.RefreshExpiresAt))
		revoked, err := s.trl.IsRevoked(s.ctx(), pair.RefreshTokenID)
		s.Require().NoError(err)
		s.False(revoked)
	})
}

func (s *ServiceSuite) TestIntrospectStates() {
	pair, err := s.service.Issue(s.ctx(), "alice")
	s.Require().NoError(err)

	state := func() models.SessionState {
		_, st, err := s.service.Introspect(s.ctx(), pair.AccessToken)
		s.Require().NoError(err)
		return st
	}

	s.Equal(models.SessionIssued, state())
	_, err = s.service.Validate(s.ctx(), pair.AccessToken)
	s.Require().NoError(err)
	s.Equal(models.SessionActive, state())

	s.Require().NoError(s.lockouts.Lock(s.ctx(), "alice", time.Minute))
	s.Equal(models.SessionLockedOut, state())

	s.Require().NoError(s.service.Revoke(s.ctx(), pair.AccessTokenID, pair.AccessExpiresAt))
	s.Equal(models.SessionRevoked, state(), "revoked outranks locked_out")

	s.now = pair.AccessExpiresAt
	s.Equal(models.SessionExpired, state(), "expired outranks revoked")

	_, _, err = s.service.Introspect(s.ctx(), "forged")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

// FailClosedSuite drives the service with a failing revocation list.
type FailClosedSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	trl     *mocks.MockRevocationList
	service *Service
	tokens  *token.Manager
}

func TestFailClosedSuite(t *testing.T) {
	suite.Run(t, new(FailClosedSuite))
}

func (s *FailClosedSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.trl = mocks.NewMockRevocationList(s.ctrl)
	s.tokens = token.NewManager("test-key", "trustcore", "trustcore-platform", time.Minute, time.Hour)
	var err error
	s.service, err = New(s.tokens, s.trl, lockout.New(), user.New(), Config{}, WithLogger(logger.Discard()))
	s.Require().NoError(err)
}

func (s *FailClosedSuite) TestRevocationLookupFailureRejects() {
	raw, _, err := s.tokens.Mint(context.Background(), "alice", models.TokenKindAccess)
	s.Require().NoError(err)
	s.trl.EXPECT().IsRevoked(gomock.Any(), gomock.Any()).Return(false, errors.New("connection refused"))

	_, err = s.service.ValidateBearer(context.Background(), raw)
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
}

func (s *FailClosedSuite) TestRevocationWriteFailureSurfaces() {
	raw, _, err := s.tokens.Mint(context.Background(), "alice", models.TokenKindAccess)
	s.Require().NoError(err)
	s.trl.EXPECT().RevokeToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("timeout"))

	err = s.service.RevokeToken(context.Background(), raw)
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
}

func (s *FailClosedSuite) TestUnrecordedIssuanceFails() {
	recorder := mocks.NewMockAuditRecorder(s.ctrl)
	s.service.recorder = recorder
	recorder.EXPECT().Record(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeCapacityExceeded, "audit queue full"))

	pair, err := s.service.Issue(context.Background(), "alice")
	s.Nil(pair)
	s.True(dErrors.HasCode(err, dErrors.CodeDependencyUnavailable))
}
