package audit

import (
	"encoding/json"
	"time"
)

// EventType names a security-relevant action.
type EventType string

const (
	EventLoginSucceeded          EventType = "login_succeeded"
	EventLoginFailed             EventType = "login_failed"
	EventAccountLocked           EventType = "account_locked"
	EventTokenIssued             EventType = "token_issued"
	EventTokenRefreshed          EventType = "token_refreshed"
	EventTokenRevoked            EventType = "token_revoked"
	EventTokenRejected           EventType = "token_rejected"
	EventRateLimitExceeded       EventType = "rate_limit_exceeded"
	EventRateLimitDegraded       EventType = "rate_limit_degraded"
	EventRateLimitRestored       EventType = "rate_limit_restored"
	EventRiskAssessed            EventType = "risk_assessed"
	EventActionCompleted         EventType = "action_completed"
	EventActionCancelled         EventType = "action_cancelled"
	EventAuditQueueOverflow      EventType = "audit_queue_overflow"
	EventAuditIntegrityViolation EventType = "audit_integrity_violation"
)

// Outcome of the recorded action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Entry is what producers hand to the trail. ActorID and CorrelationID fall
// back to the authenticated subject and request id found in the context.
type Entry struct {
	EventType     EventType
	ActorID       string
	CorrelationID string
	Outcome       Outcome
	Payload       map[string]any
}

// Event is one link of the chain. The JSON form is the persisted external
// record; field names are part of the published format.
type Event struct {
	SequenceNumber uint64          `json:"sequence_number"`
	Timestamp      time.Time       `json:"timestamp"`
	EventType      EventType       `json:"event_type"`
	ActorID        *string         `json:"actor_id"`
	CorrelationID  string          `json:"correlation_id"`
	Outcome        Outcome         `json:"outcome"`
	Payload        json.RawMessage `json:"payload"`
	EventHash      string          `json:"event_hash"`
	ChainHash      string          `json:"chain_hash"`
}

// Actor returns the actor id or "" for unauthenticated events.
func (e Event) Actor() string {
	if e.ActorID == nil {
		return ""
	}
	return *e.ActorID
}

// VerifyReport is the result of recomputing the chain over a range.
type VerifyReport struct {
	From          uint64   `json:"from"`
	To            uint64   `json:"to"`
	Checked       int      `json:"checked"`
	Valid         bool     `json:"valid"`
	FirstMismatch *uint64  `json:"first_mismatch,omitempty"`
	Mismatches    []uint64 `json:"mismatches,omitempty"`
}

// Alert is sent to the operator channel.
type Alert struct {
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	FirstMismatch *uint64   `json:"first_mismatch,omitempty"`
	Mismatches    []uint64  `json:"mismatches,omitempty"`
	At            time.Time `json:"at"`
}

const (
	AlertIntegrityViolation = "audit_integrity_violation"
	AlertDegraded           = "audit_degraded"
)
