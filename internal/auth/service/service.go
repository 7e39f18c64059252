// Package service implements credential issuance, validation, revocation
// and password login with lockout.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trustcore/internal/audit"
	"trustcore/internal/auth/models"
	"trustcore/internal/auth/ports"
	"trustcore/internal/auth/token"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/requestcontext"
)

// Config holds the lockout policy.
type Config struct {
	LockoutThreshold int
	LockoutCooldown  time.Duration
	FailureWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutCooldown <= 0 {
		c.LockoutCooldown = 15 * time.Minute
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 15 * time.Minute
	}
	return c
}

type Service struct {
	tokens      *token.Manager
	revocations ports.RevocationList
	lockouts    ports.LockoutStore
	users       ports.UserStore
	activity    ports.ActivityStore
	risk        ports.RiskEvaluator
	recorder    ports.AuditRecorder
	cfg         Config
	logger      *slog.Logger
	// dummyHash keeps unknown-subject logins as slow as wrong passwords.
	dummyHash []byte
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditRecorder(recorder ports.AuditRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithRiskEvaluator scores logins that passed the password check.
func WithRiskEvaluator(risk ports.RiskEvaluator) Option {
	return func(s *Service) {
		s.risk = risk
	}
}

func WithActivityStore(activity ports.ActivityStore) Option {
	return func(s *Service) {
		s.activity = activity
	}
}

func New(
	tokens *token.Manager,
	revocations ports.RevocationList,
	lockouts ports.LockoutStore,
	users ports.UserStore,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	if tokens == nil || revocations == nil || lockouts == nil || users == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "token manager, revocation list, lockout store and user store are required")
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("trustcore-dummy-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to prepare password hashing")
	}
	s := &Service{
		tokens:      tokens,
		revocations: revocations,
		lockouts:    lockouts,
		users:       users,
		cfg:         cfg.withDefaults(),
		logger:      slog.Default(),
		dummyHash:   dummy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue mints an access and refresh token for subject.
func (s *Service) Issue(ctx context.Context, subjectID string) (*models.TokenPair, error) {
	return s.issue(ctx, subjectID, false)
}

func (s *Service) issue(ctx context.Context, subjectID string, restricted bool) (*models.TokenPair, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	pair, err := s.mintPair(ctx, subjectID, restricted)
	if err != nil {
		return nil, err
	}
	if err := s.audit(ctx, audit.EventTokenIssued, audit.OutcomeSuccess, subjectID, map[string]any{
		"access_jti":  pair.AccessTokenID,
		"refresh_jti": pair.RefreshTokenID,
		"expires_at":  pair.AccessExpiresAt,
		"restricted":  restricted,
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// mintPair signs both tokens; a restricted pair stays restricted across
// refreshes.
func (s *Service) mintPair(ctx context.Context, subjectID string, restricted bool) (*models.TokenPair, error) {
	access, accessCred, err := s.tokens.Mint(ctx, subjectID, models.TokenKindAccess, token.Restricted(restricted))
	if err != nil {
		return nil, err
	}
	refresh, refreshCred, err := s.tokens.Mint(ctx, subjectID, models.TokenKindRefresh, token.Restricted(restricted))
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int(s.tokens.TTL(models.TokenKindAccess).Seconds()),
		AccessExpiresAt:  accessCred.ExpiresAt,
		RefreshExpiresAt: refreshCred.ExpiresAt,
		AccessTokenID:    accessCred.TokenID,
		RefreshTokenID:   refreshCred.TokenID,
		Restricted:       restricted,
	}, nil
}

// audit records an event that gates an action. A non-durable record stops
// the action.
func (s *Service) audit(ctx context.Context, event audit.EventType, outcome audit.Outcome, subjectID string, payload map[string]any) error {
	s.logger.InfoContext(ctx, string(event),
		"event", string(event),
		"log_type", "audit",
		"subject_id", subjectID,
		"request_id", requestcontext.RequestID(ctx),
	)
	if s.recorder == nil {
		return nil
	}
	_, err := s.recorder.Record(ctx, audit.Entry{
		EventType: event,
		ActorID:   subjectID,
		Outcome:   outcome,
		Payload:   payload,
	})
	if audit.IsDurable(err) {
		return nil
	}
	s.logger.ErrorContext(ctx, "audit record not durable",
		"event", string(event),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "audit trail unavailable")
}

// note records an event that documents a rejection; failures are logged
// and the rejection stands either way.
func (s *Service) note(ctx context.Context, event audit.EventType, subjectID string, payload map[string]any) {
	if err := s.audit(ctx, event, audit.OutcomeFailure, subjectID, payload); err != nil {
		s.logger.WarnContext(ctx, "rejection not recorded", "event", string(event), "error", err)
	}
}
