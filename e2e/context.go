package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext is the per-scenario HTTP client. It remembers the last
// response and the session tokens issued during the scenario.
type TestContext struct {
	BaseURL    string
	AdminToken string
	client     *http.Client

	clientIP     string
	accessToken  string
	refreshToken string

	lastStatus  int
	lastBody    []byte
	lastHeaders http.Header
}

func NewTestContext(baseURL, adminToken string) *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears scenario state. Each scenario gets a fresh client IP so rate
// budgets do not leak between scenarios.
func (tc *TestContext) Reset(clientIP string) {
	tc.clientIP = clientIP
	tc.accessToken = ""
	tc.refreshToken = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.lastHeaders = nil
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.clientIP != "" {
		req.Header.Set("X-Forwarded-For", tc.clientIP)
	}
	if tc.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tc.accessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

// GetResponseField reads a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) GetLastResponseStatus() int  { return tc.lastStatus }
func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }

func (tc *TestContext) GetLastResponseHeader(key string) string {
	if tc.lastHeaders == nil {
		return ""
	}
	return tc.lastHeaders.Get(key)
}

func (tc *TestContext) GetAdminToken() string        { return tc.AdminToken }
func (tc *TestContext) GetAccessToken() string       { return tc.accessToken }
func (tc *TestContext) SetAccessToken(token string)  { tc.accessToken = token }
func (tc *TestContext) GetRefreshToken() string      { return tc.refreshToken }
func (tc *TestContext) SetRefreshToken(token string) { tc.refreshToken = token }
func (tc *TestContext) SetClientIP(ip string)        { tc.clientIP = ip }
