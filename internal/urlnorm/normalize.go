// Package urlnorm canonicalizes media URLs and rejects the ones that cannot
// or should not be fetched.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"net/url"
	"regexp"
	"strings"
)

var hasScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

var bareDomain = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]*[a-z0-9])?)*\.[a-z]{2,}(?:[/:]|$)`)

// Placeholder images served in place of a real avatar or post image.
var placeholderPaths = []*regexp.Regexp{
	regexp.MustCompile(`/static/images/profile/`),
	regexp.MustCompile(`/static/images/anonymous`),
	regexp.MustCompile(`profile-pic-null`),
	regexp.MustCompile(`default[-_]profile`),
	regexp.MustCompile(`default[-_]avatar`),
}

// Normalize returns the canonical absolute http(s) form of raw, or false when
// raw is blank, malformed, host-less or a known placeholder.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(html.UnescapeString(raw))
	if s == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(s, "//"):
		s = "https:" + s
	case strings.HasPrefix(s, "/"):
		return "", false
	case !hasScheme.MatchString(s):
		if !bareDomain.MatchString(strings.ToLower(s)) {
			return "", false
		}
		s = "https://" + s
	}
	u, ok := parseHTTP(s)
	if !ok {
		return "", false
	}
	if IsPlaceholder(u.Path) {
		return "", false
	}
	return u.String(), true
}

// IsPlaceholder reports whether a URL path points at a placeholder image.
func IsPlaceholder(path string) bool {
	p := strings.ToLower(path)
	for _, re := range placeholderPaths {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

// ValidHTTP reports whether raw is an absolute http or https URL with a host.
func ValidHTTP(raw string) bool {
	_, ok := parseHTTP(raw)
	return ok
}

// ResolveRedirect resolves a Location header against the URL that produced
// it and validates the target the same way fetch targets are validated,
// placeholder images included.
func ResolveRedirect(base, location string) (string, bool) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", false
	}
	b, ok := parseHTTP(base)
	if !ok {
		return "", false
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", false
	}
	target := b.ResolveReference(ref)
	if _, ok := parseHTTP(target.String()); !ok || IsPlaceholder(target.Path) {
		return "", false
	}
	return target.String(), true
}

// Fingerprint is the hex SHA-256 of a media URL.
func Fingerprint(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

func parseHTTP(s string) (*url.URL, bool) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, false
	}
	if u.Hostname() == "" {
		return nil, false
	}
	u.Scheme = scheme
	return u, true
}
