package risk

import (
	"context"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario client these steps use.
type TestContext interface {
	POST(path string, body any) error
}

// RegisterSteps registers risk assessment steps. They need a session from
// the auth steps first.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &riskSteps{tc: tc}

	ctx.Step(`^I assess a transaction of "([^"]*)" "([^"]*)"$`, steps.assessTransaction)
	ctx.Step(`^I screen the name "([^"]*)"$`, steps.screenName)
}

type riskSteps struct {
	tc TestContext
}

func (s *riskSteps) assessTransaction(_ context.Context, amount, currency string) error {
	return s.tc.POST("/risk/transactions", map[string]any{
		"amount":   amount,
		"currency": currency,
	})
}

func (s *riskSteps) screenName(_ context.Context, name string) error {
	return s.tc.POST("/risk/screenings", map[string]any{"name": name})
}
