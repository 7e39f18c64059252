package e2e

import (
	"github.com/cucumber/godog"

	"trustcore/e2e/steps/auth"
	"trustcore/e2e/steps/common"
	"trustcore/e2e/steps/ratelimit"
	"trustcore/e2e/steps/risk"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext, creds auth.Credentials) {
	common.RegisterSteps(ctx, tc)
	auth.RegisterSteps(ctx, tc, creds)
	ratelimit.RegisterSteps(ctx, tc)
	risk.RegisterSteps(ctx, tc)
}
