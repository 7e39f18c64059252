package service

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"trustcore/internal/audit"
	"trustcore/internal/auth/device"
	"trustcore/internal/auth/models"
	"trustcore/internal/risk"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/privacy"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")

// Login verifies a password and issues tokens. A locked subject is refused
// before the password is looked at. Failures are counted toward lockout;
// a login the risk engine blocks is refused after the password succeeded,
// and one it holds for review gets a restricted session.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	subject := req.SubjectID

	if err := s.checkLock(ctx, subject); err != nil {
		loginAttempts.WithLabelValues("locked").Inc()
		return nil, err
	}

	ok, err := s.verifyPassword(ctx, subject, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		loginAttempts.WithLabelValues("bad_credentials").Inc()
		if err := s.recordFailure(ctx, subject); err != nil {
			return nil, err
		}
		return nil, errInvalidCredentials
	}

	if err := s.lockouts.Clear(ctx, subject); err != nil {
		s.logger.WarnContext(ctx, "failed to clear login failures", "error", err, "subject_id", subject)
	}

	held, err := s.assessLogin(ctx, subject, req.DeviceFingerprint)
	if err != nil {
		loginAttempts.WithLabelValues("risk_blocked").Inc()
		return nil, err
	}

	if err := s.audit(ctx, audit.EventLoginSucceeded, audit.OutcomeSuccess, subject, map[string]any{
		"ip":         privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
		"device":     device.ParseUserAgent(requestcontext.UserAgent(ctx)),
		"restricted": held,
	}); err != nil {
		return nil, err
	}
	pair, err := s.issue(ctx, subject, held)
	if err != nil {
		return nil, err
	}
	if held {
		loginAttempts.WithLabelValues("restricted").Inc()
		return pair, nil
	}
	loginAttempts.WithLabelValues("success").Inc()
	return pair, nil
}

func (s *Service) checkLock(ctx context.Context, subject string) error {
	left, err := s.lockouts.LockedFor(ctx, subject)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "lockout state unavailable")
	}
	if left > 0 {
		s.logger.InfoContext(ctx, "login refused for locked subject",
			"subject_id", subject,
			"retry_after", left,
		)
		return dErrors.WithRetryAfter(dErrors.CodeAccountLocked, "account temporarily locked", left)
	}
	return nil
}

// verifyPassword compares against a dummy hash for unknown subjects so
// response time does not reveal which subjects exist.
func (s *Service) verifyPassword(ctx context.Context, subject, password string) (bool, error) {
	hash := s.dummyHash
	user, err := s.users.FindBySubject(ctx, subject)
	switch {
	case err == nil && user != nil:
		hash = []byte(user.PasswordHash)
	case err == nil || errors.Is(err, sentinel.ErrNotFound):
		user = nil
	default:
		return false, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "credential store unavailable")
	}
	matched := bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
	return matched && user != nil, nil
}

func (s *Service) recordFailure(ctx context.Context, subject string) error {
	count, err := s.lockouts.RecordFailure(ctx, subject, s.cfg.FailureWindow)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "lockout state unavailable")
	}
	s.note(ctx, audit.EventLoginFailed, subject, map[string]any{
		"failures": count,
		"ip":       privacy.AnonymizeIP(requestcontext.ClientIP(ctx)),
	})
	if count < s.cfg.LockoutThreshold {
		return nil
	}

	if err := s.lockouts.Lock(ctx, subject, s.cfg.LockoutCooldown); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "lockout state unavailable")
	}
	lockouts.Inc()
	s.logger.WarnContext(ctx, "subject locked after repeated login failures",
		"subject_id", subject,
		"failures", count,
		"cooldown", s.cfg.LockoutCooldown,
	)
	s.note(ctx, audit.EventAccountLocked, subject, map[string]any{
		"failures":         count,
		"cooldown_seconds": int(s.cfg.LockoutCooldown.Seconds()),
		"severity":         "high",
	})
	return nil
}

// assessLogin reports whether the login is held for review.
func (s *Service) assessLogin(ctx context.Context, subject, fingerprint string) (bool, error) {
	if s.risk == nil {
		return false, nil
	}
	a, err := s.risk.Evaluate(ctx, &risk.LoginContext{
		SubjectID:         subject,
		IP:                requestcontext.ClientIP(ctx),
		DeviceFingerprint: fingerprint,
		UserAgent:         requestcontext.UserAgent(ctx),
		At:                requestcontext.Now(ctx),
	})
	if err != nil {
		return false, err
	}
	if a.Decision == risk.DecisionBlock {
		s.logger.WarnContext(ctx, "login blocked by risk assessment",
			"subject_id", subject,
			"score", a.Score,
		)
		return false, dErrors.New(dErrors.CodeForbidden, "login refused")
	}
	if a.Decision == risk.DecisionReview {
		s.logger.InfoContext(ctx, "login held for review, issuing a restricted session",
			"subject_id", subject,
			"score", a.Score,
		)
		return true, nil
	}
	return false, nil
}
