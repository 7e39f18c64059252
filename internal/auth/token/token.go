package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"trustcore/internal/auth/models"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

// Claims are the JWT claims carried by every token the manager mints.
type Claims struct {
	Kind       models.TokenKind `json:"kind"`
	Restricted bool             `json:"rst,omitempty"`
	jwt.RegisteredClaims
}

type MintOption func(*Claims)

// Restricted marks the token as belonging to a session held for review.
func Restricted(restricted bool) MintOption {
	return func(c *Claims) {
		c.Restricted = restricted
	}
}

// Manager mints and verifies HS256 tokens. Time comes from the request
// context so issuance and expiry checks agree with the rest of a request.
type Manager struct {
	signingKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(signingKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// TTL returns the configured lifetime for kind.
func (m *Manager) TTL(kind models.TokenKind) time.Duration {
	if kind == models.TokenKindRefresh {
		return m.refreshTTL
	}
	return m.accessTTL
}

// Mint signs a new token for subject with a fresh jti.
func (m *Manager) Mint(ctx context.Context, subjectID string, kind models.TokenKind, opts ...MintOption) (string, *models.Credential, error) {
	if !kind.IsValid() {
		return "", nil, dErrors.New(dErrors.CodeInternal, "unknown token kind")
	}
	// JWT timestamps have second precision.
	now := requestcontext.Now(ctx).UTC().Truncate(time.Second)
	cred := &models.Credential{
		TokenID:   uuid.NewString(),
		SubjectID: subjectID,
		Kind:      kind,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.TTL(kind)),
	}
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        cred.TokenID,
			IssuedAt:  jwt.NewNumericDate(cred.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
			Issuer:    m.issuer,
			Audience:  []string{m.audience},
		},
	}
	for _, opt := range opts {
		opt(&claims)
	}
	cred.Restricted = claims.Restricted
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := newToken.SignedString(m.signingKey)
	if err != nil {
		return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, cred, nil
}

// Parse verifies signature, issuer, audience and expiry. For a token that
// is authentic but expired it returns the credential together with an
// error wrapping sentinel.ErrExpired.
func (m *Manager) Parse(ctx context.Context, raw string) (*models.Credential, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return requestcontext.Now(ctx) }),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.signingKey, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid):
		cred, credErr := credentialFrom(claims)
		if credErr != nil {
			return nil, credErr
		}
		return cred, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeUnauthorized, "token has expired")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
	return credentialFrom(claims)
}

func credentialFrom(c *Claims) (*models.Credential, error) {
	if c.Subject == "" || c.ID == "" || !c.Kind.IsValid() || c.IssuedAt == nil || c.ExpiresAt == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return &models.Credential{
		TokenID:    c.ID,
		SubjectID:  c.Subject,
		Kind:       c.Kind,
		IssuedAt:   c.IssuedAt.Time.UTC(),
		ExpiresAt:  c.ExpiresAt.Time.UTC(),
		Restricted: c.Restricted,
	}, nil
}
