package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/auth/models"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

var issuedAt = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func newManager() *Manager {
	return NewManager("test-signing-key", "test-issuer", "test-audience", 15*time.Minute, 24*time.Hour)
}

func at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func TestMintAndParse(t *testing.T) {
	m := newManager()
	raw, cred, err := m.Mint(at(issuedAt), "user-1", models.TokenKindAccess)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.Equal(t, issuedAt.Add(15*time.Minute), cred.ExpiresAt)

	parsed, err := m.Parse(at(issuedAt.Add(time.Minute)), raw)
	require.NoError(t, err)
	assert.Equal(t, cred, parsed)

	_, refresh, err := m.Mint(at(issuedAt), "user-1", models.TokenKindRefresh)
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(24*time.Hour), refresh.ExpiresAt)
	assert.NotEqual(t, cred.TokenID, refresh.TokenID)
}

func TestRestrictedClaimRoundTrips(t *testing.T) {
	m := newManager()
	raw, cred, err := m.Mint(at(issuedAt), "user-1", models.TokenKindAccess, Restricted(true))
	require.NoError(t, err)
	assert.True(t, cred.Restricted)

	parsed, err := m.Parse(at(issuedAt.Add(time.Minute)), raw)
	require.NoError(t, err)
	assert.True(t, parsed.Restricted)

	full, _, err := m.Mint(at(issuedAt), "user-1", models.TokenKindAccess)
	require.NoError(t, err)
	parsed, err = m.Parse(at(issuedAt.Add(time.Minute)), full)
	require.NoError(t, err)
	assert.False(t, parsed.Restricted)
}

func TestParseExpiredKeepsClaims(t *testing.T) {
	m := newManager()
	raw, cred, err := m.Mint(at(issuedAt), "user-1", models.TokenKindAccess)
	require.NoError(t, err)

	parsed, err := m.Parse(at(cred.ExpiresAt), raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrExpired))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	require.NotNil(t, parsed)
	assert.Equal(t, cred.TokenID, parsed.TokenID)
}

func TestParseRejects(t *testing.T) {
	m := newManager()
	raw, _, err := m.Mint(at(issuedAt), "user-1", models.TokenKindAccess)
	require.NoError(t, err)
	ctx := at(issuedAt.Add(time.Minute))

	cases := map[string]string{
		"garbage":       "not-a-token",
		"other key":     mustSign(t, jwt.SigningMethodHS256, []byte("other-key"), claimsFor("test-issuer", "test-audience")),
		"wrong issuer":  mustSign(t, jwt.SigningMethodHS256, m.signingKey, claimsFor("someone-else", "test-audience")),
		"wrong aud":     mustSign(t, jwt.SigningMethodHS256, m.signingKey, claimsFor("test-issuer", "elsewhere")),
		"alg none":      mustSign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, claimsFor("test-issuer", "test-audience")),
		"tampered":      raw[:len(raw)-2] + "xx",
		"missing kind":  mustSign(t, jwt.SigningMethodHS256, m.signingKey, withoutKind(claimsFor("test-issuer", "test-audience"))),
		"expired forge": mustSign(t, jwt.SigningMethodHS256, []byte("other-key"), expired(claimsFor("test-issuer", "test-audience"))),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			cred, err := m.Parse(ctx, tok)
			assert.Nil(t, cred)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
			assert.False(t, errors.Is(err, sentinel.ErrExpired))
		})
	}
}

func claimsFor(issuer, audience string) Claims {
	return Claims{
		Kind: models.TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
			Issuer:    issuer,
			Audience:  []string{audience},
		},
	}
}

func withoutKind(c Claims) Claims {
	c.Kind = ""
	return c
}

func expired(c Claims) Claims {
	c.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(-time.Hour))
	return c
}

func mustSign(t *testing.T, method jwt.SigningMethod, key any, c Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, c).SignedString(key)
	require.NoError(t, err)
	return s
}
