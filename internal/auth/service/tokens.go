package service

import (
	"context"
	"errors"
	"time"

	"trustcore/internal/audit"
	"trustcore/internal/auth/models"
	dErrors "trustcore/pkg/domain-errors"
	authmw "trustcore/pkg/platform/middleware/auth"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

// Validate accepts an access token that is authentic, unexpired at the
// request time and not revoked. A revocation lookup failure rejects the
// token. Every rejection is recorded as token_rejected.
func (s *Service) Validate(ctx context.Context, raw string) (*models.Credential, error) {
	if raw == "" {
		tokenValidations.WithLabelValues("invalid").Inc()
		s.note(ctx, audit.EventTokenRejected, "", map[string]any{"reason": "missing"})
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}
	cred, err := s.tokens.Parse(ctx, raw)
	if err != nil {
		tokenValidations.WithLabelValues("invalid").Inc()
		s.note(ctx, audit.EventTokenRejected, subjectOf(cred), map[string]any{"reason": rejectionReason(err)})
		return nil, err
	}
	if cred.Kind != models.TokenKindAccess {
		tokenValidations.WithLabelValues("invalid").Inc()
		s.note(ctx, audit.EventTokenRejected, cred.SubjectID, map[string]any{"reason": "wrong_kind", "jti": cred.TokenID})
		return nil, dErrors.New(dErrors.CodeUnauthorized, "not an access token")
	}
	if err := s.ensureNotRevoked(ctx, cred); err != nil {
		reason := "revoked"
		if dErrors.HasCode(err, dErrors.CodeDependencyUnavailable) {
			reason = "revocation_unavailable"
		}
		s.note(ctx, audit.EventTokenRejected, cred.SubjectID, map[string]any{"reason": reason, "jti": cred.TokenID})
		return nil, err
	}
	tokenValidations.WithLabelValues("valid").Inc()
	s.markActive(ctx, cred)
	return cred, nil
}

// ValidateBearer adapts Validate for the bearer middleware.
func (s *Service) ValidateBearer(ctx context.Context, raw string) (authmw.Identity, error) {
	cred, err := s.Validate(ctx, raw)
	if err != nil {
		return authmw.Identity{}, err
	}
	return authmw.Identity{SubjectID: cred.SubjectID, TokenID: cred.TokenID, Restricted: cred.Restricted}, nil
}

func (s *Service) ensureNotRevoked(ctx context.Context, cred *models.Credential) error {
	revoked, err := s.revocations.IsRevoked(ctx, cred.TokenID)
	if err != nil {
		tokenValidations.WithLabelValues("unavailable").Inc()
		s.logger.ErrorContext(ctx, "revocation lookup failed, rejecting token",
			"error", err,
			"jti", cred.TokenID,
		)
		return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "token revocation state unavailable")
	}
	if revoked {
		tokenValidations.WithLabelValues("revoked").Inc()
		return dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
	}
	return nil
}

func (s *Service) markActive(ctx context.Context, cred *models.Credential) {
	if s.activity == nil {
		return
	}
	if err := s.activity.MarkActive(ctx, cred.TokenID, cred.Remaining(requestcontext.Now(ctx))); err != nil {
		s.logger.WarnContext(ctx, "failed to mark token active", "error", err, "jti", cred.TokenID)
	}
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued. Presenting a revoked refresh token is recorded as a
// rejection.
func (s *Service) Refresh(ctx context.Context, raw string) (*models.TokenPair, error) {
	cred, err := s.tokens.Parse(ctx, raw)
	if err != nil {
		s.note(ctx, audit.EventTokenRejected, subjectOf(cred), map[string]any{"reason": rejectionReason(err)})
		return nil, err
	}
	if cred.Kind != models.TokenKindRefresh {
		s.note(ctx, audit.EventTokenRejected, cred.SubjectID, map[string]any{"reason": "wrong_kind", "jti": cred.TokenID})
		return nil, dErrors.New(dErrors.CodeUnauthorized, "not a refresh token")
	}
	if err := s.ensureNotRevoked(ctx, cred); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.logger.WarnContext(ctx, "revoked refresh token presented",
				"subject_id", cred.SubjectID,
				"jti", cred.TokenID,
			)
			s.note(ctx, audit.EventTokenRejected, cred.SubjectID, map[string]any{
				"reason":   "revoked",
				"jti":      cred.TokenID,
				"severity": "high",
			})
		}
		return nil, err
	}
	if err := s.checkLock(ctx, cred.SubjectID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if err := s.revocations.RevokeToken(ctx, cred.TokenID, cred.Remaining(now)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "failed to rotate refresh token")
	}
	pair, err := s.mintPair(ctx, cred.SubjectID, cred.Restricted)
	if err != nil {
		return nil, err
	}
	if err := s.audit(ctx, audit.EventTokenRefreshed, audit.OutcomeSuccess, cred.SubjectID, map[string]any{
		"previous_jti": cred.TokenID,
		"access_jti":   pair.AccessTokenID,
		"refresh_jti":  pair.RefreshTokenID,
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes the access token and, when given, the refresh token. Both
// must belong to the same subject.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	access, err := s.Validate(ctx, accessToken)
	if err != nil {
		return err
	}
	creds := []*models.Credential{access}
	if refreshToken != "" {
		refresh, err := s.tokens.Parse(ctx, refreshToken)
		switch {
		case errors.Is(err, sentinel.ErrExpired):
		case err != nil:
			return err
		case refresh.SubjectID != access.SubjectID || refresh.Kind != models.TokenKindRefresh:
			return dErrors.New(dErrors.CodeForbidden, "refresh token does not belong to this session")
		default:
			creds = append(creds, refresh)
		}
	}
	for _, c := range creds {
		if err := s.revoke(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Revoke revokes a token id until expiresAt. Already-expired tokens need
// no record.
func (s *Service) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return dErrors.New(dErrors.CodeValidation, "token id is required")
	}
	return s.revoke(ctx, &models.Credential{
		TokenID:   tokenID,
		SubjectID: requestcontext.SubjectID(ctx),
		ExpiresAt: expiresAt,
	})
}

// RevokeToken revokes a raw token. Expired or unparseable tokens are a
// no-op. When the caller is authenticated, only their own tokens may be
// revoked.
func (s *Service) RevokeToken(ctx context.Context, raw string) error {
	cred, err := s.tokens.Parse(ctx, raw)
	if err != nil {
		s.logger.InfoContext(ctx, "revocation of unusable token ignored",
			"reason", rejectionReason(err),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil
	}
	if caller := requestcontext.SubjectID(ctx); caller != "" && caller != cred.SubjectID {
		return dErrors.New(dErrors.CodeForbidden, "cannot revoke another subject's token")
	}
	return s.revoke(ctx, cred)
}

func (s *Service) revoke(ctx context.Context, cred *models.Credential) error {
	ttl := cred.Remaining(requestcontext.Now(ctx))
	if ttl <= 0 {
		return nil
	}
	if err := s.revocations.RevokeToken(ctx, cred.TokenID, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "failed to revoke token")
	}
	revocations.Inc()
	return s.audit(ctx, audit.EventTokenRevoked, audit.OutcomeSuccess, cred.SubjectID, map[string]any{
		"jti":  cred.TokenID,
		"kind": string(cred.Kind),
	})
}

// Introspect reports a token's lifecycle state. Precedence is expired,
// revoked, locked_out, then issued or active. Forged tokens are an error.
func (s *Service) Introspect(ctx context.Context, raw string) (*models.Credential, models.SessionState, error) {
	cred, err := s.tokens.Parse(ctx, raw)
	if errors.Is(err, sentinel.ErrExpired) {
		return cred, models.SessionExpired, nil
	}
	if err != nil {
		return nil, "", err
	}

	revoked, err := s.revocations.IsRevoked(ctx, cred.TokenID)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "token revocation state unavailable")
	}
	if revoked {
		cred.Revoked = true
		return cred, models.SessionRevoked, nil
	}

	left, err := s.lockouts.LockedFor(ctx, cred.SubjectID)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "lockout state unavailable")
	}
	if left > 0 {
		return cred, models.SessionLockedOut, nil
	}

	if s.activity != nil {
		active, err := s.activity.IsActive(ctx, cred.TokenID)
		if err != nil {
			return nil, "", dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "session activity unavailable")
		}
		if active {
			return cred, models.SessionActive, nil
		}
	}
	return cred, models.SessionIssued, nil
}

func subjectOf(cred *models.Credential) string {
	if cred == nil {
		return ""
	}
	return cred.SubjectID
}

func rejectionReason(err error) string {
	if errors.Is(err, sentinel.ErrExpired) {
		return "expired"
	}
	return "invalid"
}
