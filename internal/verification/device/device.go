// Package device derives coarse device identity from user agents so the risk
// scorer can tell a returning device from a new one.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"
)

// Service computes device fingerprints. A disabled service returns empty
// fingerprints and the risk scorer treats the device as unknown.
type Service struct {
	enabled bool
}

func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// Enabled reports whether fingerprinting is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// ParseUserAgent renders a display name such as "Chrome on macOS".
func ParseUserAgent(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	platform := ua.OS()
	if ua.Mobile() && ua.Platform() != "" {
		platform = ua.Platform()
	}
	if platform == "" {
		platform = "Unknown OS"
	}
	return strings.TrimSpace(fmt.Sprintf("%s on %s", browser, platform))
}

// ComputeFingerprint hashes the stable parts of a user agent. Only the browser
// major version is included so routine updates keep the same fingerprint.
func (s *Service) ComputeFingerprint(userAgent string) string {
	if !s.Enabled() || strings.TrimSpace(userAgent) == "" {
		return ""
	}
	ua := useragent.New(userAgent)
	browser, version := ua.Browser()
	major, _, _ := strings.Cut(version, ".")

	parts := []string{
		strings.ToLower(browser),
		major,
		strings.ToLower(ua.OS()),
		strings.ToLower(ua.Platform()),
		fmt.Sprintf("mobile=%t", ua.Mobile()),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CompareFingerprints reports whether two fingerprints match; drift is the
// inverse and is what callers log.
func (s *Service) CompareFingerprints(stored, current string) (matched bool, drift bool) {
	matched = stored == current
	return matched, !matched
}
