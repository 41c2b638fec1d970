package util

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var whitespace = regexp.MustCompile(`\s+`)

var fold = cases.Fold()

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// IsBlank reports whether s is empty after trimming whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// NormalizeUsername folds case and strips a leading "@" so handles compare
// equal regardless of how the platform or the operator spelled them.
func NormalizeUsername(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	return fold.String(norm.NFC.String(s))
}

var (
	truthy = map[string]bool{"1": true, "t": true, "true": true, "y": true, "yes": true, "on": true, "enabled": true}
	falsy  = map[string]bool{"0": true, "f": true, "false": true, "n": true, "no": true, "off": true, "disabled": true, "": true}
)

// ParseBool is the single parser for boolean flags coming from configuration,
// environment variables and external datasets. Unknown tokens are an error.
func ParseBool(s string) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if truthy[v] {
		return true, nil
	}
	if falsy[v] {
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// ParseBoolDefault is ParseBool with a fallback for blank or unknown input.
func ParseBoolDefault(s string, def bool) bool {
	if IsBlank(s) {
		return def
	}
	b, err := ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
