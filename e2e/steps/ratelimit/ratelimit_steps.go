package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario client these steps use.
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	GetLastResponseStatus() int
	GetLastResponseHeader(key string) string
	GetAdminToken() string
}

// RegisterSteps registers budget exhaustion and operator reset steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I send (\d+) login requests$`, steps.sendLoginRequests)
	ctx.Step(`^every one of them should be governed$`, steps.everyOneGoverned)
	ctx.Step(`^the retry delay should be at most (\d+) seconds$`, steps.retryAtMost)
	ctx.Step(`^an operator checks the governor status$`, steps.operatorChecksStatus)
}

type ratelimitSteps struct {
	tc       TestContext
	governed []bool
}

func (s *ratelimitSteps) sendLoginRequests(_ context.Context, n int) error {
	s.governed = s.governed[:0]
	for range n {
		err := s.tc.POST("/auth/login", map[string]string{
			"subject_id": "ratelimit-subject",
			"password":   "not-the-password",
		})
		if err != nil {
			return err
		}
		s.governed = append(s.governed, s.tc.GetLastResponseHeader("X-RateLimit-Limit") != "")
	}
	return nil
}

func (s *ratelimitSteps) everyOneGoverned(context.Context) error {
	for i, ok := range s.governed {
		if !ok {
			return fmt.Errorf("request %d carried no rate limit headers", i+1)
		}
	}
	return nil
}

func (s *ratelimitSteps) retryAtMost(_ context.Context, limit int) error {
	raw := s.tc.GetLastResponseHeader("Retry-After")
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("Retry-After %q is not a number of seconds", raw)
	}
	if secs <= 0 || secs > limit {
		return fmt.Errorf("Retry-After %d outside (0, %d]", secs, limit)
	}
	return nil
}

func (s *ratelimitSteps) operatorChecksStatus(context.Context) error {
	if s.tc.GetAdminToken() == "" {
		return godog.ErrSkip
	}
	return s.tc.GET("/admin/rate-limit/status", map[string]string{"X-Admin-Token": s.tc.GetAdminToken()})
}
