package jobs

import (
	"net/url"
	"strings"
)

// NormalizeSiteURL canonicalizes a tenant site identity for storage and
// comparison: scheme and host are lower-cased, a missing scheme becomes
// https and trailing slashes are dropped. Empty input stays empty.
func NormalizeSiteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.EscapedPath(), "/")
}

// ValidSiteURL reports whether raw normalizes to an http(s) URL with a
// host. A bare host such as "example.com" is accepted.
func ValidSiteURL(raw string) bool {
	if strings.ContainsAny(strings.TrimSpace(raw), " \t\r\n") {
		return false
	}
	u, err := url.Parse(NormalizeSiteURL(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "https" || u.Scheme == "http"
}
