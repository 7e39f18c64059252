package models

import (
	"time"
)

// TokenKind distinguishes short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

func (k TokenKind) IsValid() bool {
	return k == TokenKindAccess || k == TokenKindRefresh
}

// Credential is the server-side view of an issued token.
type Credential struct {
	TokenID   string    `json:"token_id"`
	SubjectID string    `json:"subject_id"`
	Kind      TokenKind `json:"kind"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`

	// Restricted sessions come from logins held for review; they may not
	// reach financial routes.
	Restricted bool `json:"restricted"`
}

// Expired reports whether the credential is past its expiry at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Remaining is the credential lifetime left at now, never negative.
func (c *Credential) Remaining(now time.Time) time.Duration {
	return max(c.ExpiresAt.Sub(now), 0)
}

type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	Restricted       bool      `json:"restricted,omitempty"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
	AccessTokenID    string    `json:"-"`
	RefreshTokenID   string    `json:"-"`
}

// SessionState is the lifecycle of a credential:
// issued -> active -> expired | revoked | locked_out.
type SessionState string

const (
	SessionIssued    SessionState = "issued"
	SessionActive    SessionState = "active"
	SessionExpired   SessionState = "expired"
	SessionRevoked   SessionState = "revoked"
	SessionLockedOut SessionState = "locked_out"
)

// Usable reports whether a credential in this state authorizes requests.
func (s SessionState) Usable() bool {
	return s == SessionIssued || s == SessionActive
}

// User is a subject that can authenticate with a password.
type User struct {
	SubjectID    string `yaml:"subject_id"`
	PasswordHash string `yaml:"password_hash"`
}
