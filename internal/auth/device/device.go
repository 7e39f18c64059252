// Package device derives coarse device fingerprints from User-Agent
// strings for login risk scoring.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

// Service computes fingerprints. A disabled service returns empty
// fingerprints, which login scoring treats as an unknown device.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// ComputeFingerprint hashes browser name, browser major version, OS and
// platform. Minor browser updates keep the same fingerprint.
func (s *Service) ComputeFingerprint(userAgent string) string {
	if !s.enabled || strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")
	sum := sha256.Sum256([]byte(strings.Join([]string{name, major, ua.OS(), ua.Platform()}, "|")))
	return hex.EncodeToString(sum[:])
}

// ParseUserAgent renders a display name such as "Chrome on Intel Mac OS X 10_15_7".
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	system := ua.OS()
	if system == "" {
		system = ua.Platform()
	}
	if system == "" {
		system = "Unknown OS"
	}
	return strings.TrimSpace(fmt.Sprintf("%s on %s", strings.TrimSpace(browser), strings.TrimSpace(system)))
}
