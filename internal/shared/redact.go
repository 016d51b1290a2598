package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns match secret-bearing fragments in log, audit and error strings.
// Patterns with two groups keep group 1, including any separator, and redact the rest.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)((?:api[_-]?key|apikey|secret|auth[_-]?token|password)\s*[:=]\s*)"?([A-Za-z0-9_\-./+=]{8,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	// Credentials embedded in URLs, e.g. an OTLP endpoint.
	regexp.MustCompile(`(://[^:/@\s]+:)([^@\s]+)@`),
}

// Redact replaces secret-bearing patterns in the input with [REDACTED].
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			sub := pat.FindStringSubmatch(match)
			if len(sub) < 3 {
				return redactedPlaceholder
			}
			out := sub[1] + redactedPlaceholder
			if strings.HasSuffix(match, "@") {
				out += "@"
			}
			return out
		})
	}
	return result
}

// IsSensitiveKey reports whether a structured field name should never be logged in clear.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "api_key", "apikey", "cookie"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
