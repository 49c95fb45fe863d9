package httpclient

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultMaxURLLength bounds user supplied URLs
const DefaultMaxURLLength = 2048

// blockedHosts are rejected regardless of DNS resolution
var blockedHosts = []string{
	"localhost", "127.0.0.1", "::1", "0.0.0.0",
	"0:0:0:0:0:0:0:1", "0:0:0:0:0:0:0:0",
	"metadata.google.internal", "metadata",
}

// blockedDomainSuffixes cover names that resolve inside private networks
var blockedDomainSuffixes = []string{
	".local", ".localhost", ".internal", ".corp", ".home",
	".lan", ".priv", ".test",
}

// ValidateURL validates and sanitizes an outbound URL with SSRF protection.
// It returns the normalized href or a diagnostic error. A maxLength of zero
// falls back to DefaultMaxURLLength.
func ValidateURL(inputURL string, maxLength int) (string, error) {
	if inputURL == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}

	if maxLength <= 0 {
		maxLength = DefaultMaxURLLength
	}
	if len(inputURL) > maxLength {
		return "", fmt.Errorf("URL length exceeds maximum allowed size")
	}

	parsedURL, err := url.Parse(inputURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %v", err)
	}

	// Ensure the URL has a scheme
	if parsedURL.Scheme == "" {
		parsedURL.Scheme = "https"
	}

	// Only allow HTTP and HTTPS schemes
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("only HTTP and HTTPS URLs are allowed")
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must have a valid host")
	}

	host := strings.ToLower(parsedURL.Hostname())
	if isPrivateOrLocalhost(host) {
		return "", fmt.Errorf("access to private networks and localhost is not allowed")
	}

	return parsedURL.String(), nil
}

// isPrivateOrLocalhost checks if the host is a private IP or localhost
func isPrivateOrLocalhost(host string) bool {
	for _, blocked := range blockedHosts {
		if host == blocked {
			return true
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()
	}

	for _, suffix := range blockedDomainSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}

	return false
}
