package handler

import (
	"time"

	"trustcore/internal/risk"
)

// Request bodies leave subject, time and client metadata optional; the
// handler fills them from the authenticated request before the service
// validates the resulting context.

type TransactionRequest struct {
	SubjectID               string     `json:"subject_id"`
	Amount                  string     `json:"amount"`
	Currency                string     `json:"currency"`
	CounterpartJurisdiction string     `json:"counterpart_jurisdiction"`
	CounterpartName         string     `json:"counterpart_name"`
	RecentCount             int        `json:"recent_count"`
	At                      *time.Time `json:"at"`
}

type ScreeningRequest struct {
	SubjectID string     `json:"subject_id"`
	Name      string     `json:"name"`
	Country   string     `json:"country"`
	At        *time.Time `json:"at"`
}

type LoginRequest struct {
	SubjectID         string     `json:"subject_id"`
	IP                string     `json:"ip"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	UserAgent         string     `json:"user_agent"`
	At                *time.Time `json:"at"`
}

// AssessmentResponse is the client view of a verdict. Flags stay in the
// audit trail.
type AssessmentResponse struct {
	SubjectID   string           `json:"subject_id"`
	ContextType risk.ContextType `json:"context_type"`
	Score       int              `json:"score"`
	Level       risk.Level       `json:"level"`
	Decision    risk.Decision    `json:"decision"`
}

func toResponse(a *risk.Assessment) AssessmentResponse {
	return AssessmentResponse{
		SubjectID:   a.SubjectID,
		ContextType: a.ContextType,
		Score:       a.Score,
		Level:       a.Level,
		Decision:    a.Decision,
	}
}
