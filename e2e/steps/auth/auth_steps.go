package auth

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario client these steps use.
type TestContext interface {
	POST(path string, body any) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetAccessToken() string
	SetAccessToken(token string)
	GetRefreshToken() string
	SetRefreshToken(token string)
}

// Credentials name a subject provisioned on the server under test.
type Credentials struct {
	SubjectID string
	Password  string
}

// RegisterSteps registers login, refresh, logout and introspection steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext, creds Credentials) {
	steps := &authSteps{tc: tc, creds: creds}

	ctx.Step(`^I log in with valid credentials$`, steps.logInWithValidCredentials)
	ctx.Step(`^I log in with the wrong password$`, steps.logInWithWrongPassword)
	ctx.Step(`^I log in with the wrong password (\d+) times$`, steps.logInWithWrongPasswordTimes)
	ctx.Step(`^I log in as unknown subject "([^"]*)"$`, steps.logInAsUnknown)
	ctx.Step(`^I refresh the session$`, steps.refreshSession)
	ctx.Step(`^I refresh with the previous refresh token$`, steps.refreshWithPreviousToken)
	ctx.Step(`^I log out$`, steps.logOut)
	ctx.Step(`^introspecting the access token reports "([^"]*)"$`, steps.introspectionReports)
}

type authSteps struct {
	tc    TestContext
	creds Credentials

	previousRefresh string
	previousAccess  string
}

func (s *authSteps) login(subject, password string) error {
	err := s.tc.POST("/auth/login", map[string]string{
		"subject_id": subject,
		"password":   password,
	})
	if err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == 200 {
		return s.keepTokens()
	}
	return nil
}

func (s *authSteps) keepTokens() error {
	access, err := s.tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	refresh, err := s.tc.GetResponseField("refresh_token")
	if err != nil {
		return err
	}
	s.previousAccess = s.tc.GetAccessToken()
	s.previousRefresh = s.tc.GetRefreshToken()
	s.tc.SetAccessToken(fmt.Sprint(access))
	s.tc.SetRefreshToken(fmt.Sprint(refresh))
	return nil
}

func (s *authSteps) logInWithValidCredentials(context.Context) error {
	if s.creds.SubjectID == "" {
		return godog.ErrSkip
	}
	return s.login(s.creds.SubjectID, s.creds.Password)
}

func (s *authSteps) logInWithWrongPassword(context.Context) error {
	if s.creds.SubjectID == "" {
		return godog.ErrSkip
	}
	return s.login(s.creds.SubjectID, s.creds.Password+"-wrong")
}

func (s *authSteps) logInWithWrongPasswordTimes(ctx context.Context, n int) error {
	for range n {
		if err := s.logInWithWrongPassword(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *authSteps) logInAsUnknown(_ context.Context, subject string) error {
	return s.login(subject, "irrelevant-password")
}

func (s *authSteps) refreshSession(context.Context) error {
	if err := s.tc.POST("/auth/refresh", map[string]string{"refresh_token": s.tc.GetRefreshToken()}); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == 200 {
		return s.keepTokens()
	}
	return nil
}

func (s *authSteps) refreshWithPreviousToken(context.Context) error {
	if s.previousRefresh == "" {
		return fmt.Errorf("no earlier refresh token in this scenario")
	}
	return s.tc.POST("/auth/refresh", map[string]string{"refresh_token": s.previousRefresh})
}

func (s *authSteps) logOut(context.Context) error {
	return s.tc.POST("/auth/logout", map[string]string{"refresh_token": s.tc.GetRefreshToken()})
}

func (s *authSteps) introspectionReports(_ context.Context, want string) error {
	if err := s.tc.GET("/auth/introspect", nil); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 200 {
		return fmt.Errorf("introspection returned status %d", s.tc.GetLastResponseStatus())
	}
	state, err := s.tc.GetResponseField("state")
	if err != nil {
		return err
	}
	if fmt.Sprint(state) != want {
		return fmt.Errorf("expected session state %q, got %q", want, state)
	}
	return nil
}
