package models

import (
	"strings"

	dErrors "trustcore/pkg/domain-errors"
)

// ResetRateLimitRequest clears windows for an identifier. An empty class
// resets every class.
type ResetRateLimitRequest struct {
	Identifier string        `json:"identifier"`
	Class      EndpointClass `json:"class,omitempty"`
}

func (r *ResetRateLimitRequest) Validate() error {
	r.Identifier = strings.TrimSpace(r.Identifier)
	if r.Identifier == "" {
		return dErrors.New(dErrors.CodeValidation, "identifier is required")
	}
	if r.Class != "" && !r.Class.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid class: must be auth, financial or read")
	}
	return nil
}

// Classes returns the classes the request targets.
func (r *ResetRateLimitRequest) Classes() []EndpointClass {
	if r.Class != "" {
		return []EndpointClass{r.Class}
	}
	return []EndpointClass{ClassAuth, ClassFinancial, ClassRead}
}

// StatusResponse reports governor health to operators.
type StatusResponse struct {
	Degraded bool `json:"degraded"`
}
