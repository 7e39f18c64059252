// Package risk implements deterministic, rule-based risk scoring for
// transactions, entity screening and logins.
package risk

import (
	"time"
)

// ContextType names what was evaluated.
type ContextType string

const (
	ContextTransaction  ContextType = "transaction"
	ContextLogin        ContextType = "login"
	ContextEntityScreen ContextType = "entity_screen"
)

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Score thresholds for LevelFor.
const (
	MediumThreshold = 40
	HighThreshold   = 70
)

// LevelFor classifies a score. It is monotonic in score.
func LevelFor(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionReview Decision = "review"
	DecisionBlock  Decision = "block"
	// DecisionClear is the screening verdict when no list entry matched.
	DecisionClear Decision = "clear"
)

// Flag names. Each is the name of the rule that fired.
const (
	FlagLargeAmount              = "large_amount"
	FlagHighRiskCurrency         = "high_risk_currency"
	FlagHighRiskJurisdiction     = "high_risk_jurisdiction"
	FlagHighFrequency            = "high_frequency"
	FlagSanctionsMatch           = "sanctions_match"
	FlagSanctionsPotentialMatch  = "sanctions_potential_match"
	FlagNewIP                    = "new_ip"
	FlagNewNetwork               = "new_network"
	FlagNewDevice                = "new_device"
	FlagUnusualHour              = "unusual_hour"
	FlagNoBaseline               = "no_baseline"
	FlagReferenceDataUnavailable = "reference_data_unavailable"
)

// Assessment is an immutable risk verdict. Level always equals
// LevelFor(Score) and Flags is non-empty whenever Level is high.
type Assessment struct {
	SubjectID   string      `json:"subject_id"`
	ContextType ContextType `json:"context_type"`
	Score       int         `json:"score"`
	Level       Level       `json:"level"`
	Flags       []string    `json:"flags"`
	Decision    Decision    `json:"decision"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// Context is the input snapshot of one evaluation.
type Context interface {
	Type() ContextType
	Subject() string
	EvaluatedAt() time.Time
	Validate() error
}

// TransactionContext describes a financial action about to be committed.
type TransactionContext struct {
	SubjectID string `json:"subject_id"`
	// Amount is a decimal string; binary floats are never used for money.
	Amount                  string    `json:"amount"`
	Currency                string    `json:"currency"`
	CounterpartJurisdiction string    `json:"counterpart_jurisdiction,omitempty"`
	CounterpartName         string    `json:"counterpart_name,omitempty"`
	RecentCount             int       `json:"recent_count"`
	At                      time.Time `json:"at"`
}

func (c *TransactionContext) Type() ContextType      { return ContextTransaction }
func (c *TransactionContext) Subject() string        { return c.SubjectID }
func (c *TransactionContext) EvaluatedAt() time.Time { return c.At }

// ScreeningContext asks whether a name appears on a reference list.
type ScreeningContext struct {
	SubjectID string    `json:"subject_id"`
	Name      string    `json:"name"`
	Country   string    `json:"country,omitempty"`
	At        time.Time `json:"at"`
}

func (c *ScreeningContext) Type() ContextType      { return ContextEntityScreen }
func (c *ScreeningContext) Subject() string        { return c.SubjectID }
func (c *ScreeningContext) EvaluatedAt() time.Time { return c.At }

// LoginContext describes an authentication attempt that passed the
// credential check.
type LoginContext struct {
	SubjectID         string    `json:"subject_id"`
	IP                string    `json:"ip"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	At                time.Time `json:"at"`

	// Baseline is attached by the service before scoring; nil means the
	// subject has no history.
	Baseline *Baseline `json:"-"`
	// BaselineUnavailable marks a failed baseline lookup.
	BaselineUnavailable bool `json:"-"`
}

func (c *LoginContext) Type() ContextType      { return ContextLogin }
func (c *LoginContext) Subject() string        { return c.SubjectID }
func (c *LoginContext) EvaluatedAt() time.Time { return c.At }

// Baseline is a subject's login history.
type Baseline struct {
	KnownIPs     []string `json:"known_ips"`
	KnownDevices []string `json:"known_devices"`
	// UsualHours are UTC hours of day, 0-23.
	UsualHours []int `json:"usual_hours"`
}
