package risk

import (
	"net/netip"
	"strings"

	dErrors "trustcore/pkg/domain-errors"
)

func (c *TransactionContext) Validate() error {
	if strings.TrimSpace(c.SubjectID) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	amount, ok := parseAmount(c.Amount)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "amount must be a plain decimal number")
	}
	if amount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(c.Currency) == "" {
		return dErrors.New(dErrors.CodeValidation, "currency is required")
	}
	if c.RecentCount < 0 {
		return dErrors.New(dErrors.CodeValidation, "recent_count must not be negative")
	}
	if c.At.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "at is required")
	}
	return nil
}

func (c *ScreeningContext) Validate() error {
	if strings.TrimSpace(c.SubjectID) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if normalizeName(c.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if c.At.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "at is required")
	}
	return nil
}

func (c *LoginContext) Validate() error {
	if strings.TrimSpace(c.SubjectID) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if _, err := netip.ParseAddr(c.IP); err != nil {
		return dErrors.New(dErrors.CodeValidation, "ip must be an IP address")
	}
	if c.At.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "at is required")
	}
	return nil
}
