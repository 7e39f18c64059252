package models

import (
	"strings"

	dErrors "trustcore/pkg/domain-errors"
)

const maxSubjectLength = 128

type LoginRequest struct {
	SubjectID         string `json:"subject_id"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

func (r *LoginRequest) Validate() error {
	r.SubjectID = strings.TrimSpace(r.SubjectID)
	if r.SubjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if len(r.SubjectID) > maxSubjectLength {
		return dErrors.New(dErrors.CodeValidation, "subject_id is too long")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *RefreshRequest) Validate() error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	if r.RefreshToken == "" {
		return dErrors.New(dErrors.CodeValidation, "refresh_token is required")
	}
	return nil
}

// LogoutRequest carries the refresh token to revoke alongside the bearer
// access token. It may be omitted.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RevokeRequest struct {
	Token string `json:"token"`
}

func (r *RevokeRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" {
		return dErrors.New(dErrors.CodeValidation, "token is required")
	}
	return nil
}
