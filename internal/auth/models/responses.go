package models

import "time"

type IntrospectResponse struct {
	Active     bool         `json:"active"`
	State      SessionState `json:"state"`
	SubjectID  string       `json:"sub"`
	TokenID    string       `json:"jti"`
	Kind       TokenKind    `json:"kind"`
	IssuedAt   time.Time    `json:"iat"`
	ExpiresAt  time.Time    `json:"exp"`
	Restricted bool         `json:"restricted"`
}

func NewIntrospectResponse(c *Credential, state SessionState) IntrospectResponse {
	return IntrospectResponse{
		Active:     state.Usable(),
		State:      state,
		SubjectID:  c.SubjectID,
		TokenID:    c.TokenID,
		Kind:       c.Kind,
		IssuedAt:   c.IssuedAt,
		ExpiresAt:  c.ExpiresAt,
		Restricted: c.Restricted,
	}
}
