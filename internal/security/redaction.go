package security

import (
	"regexp"
	"strings"
)

// Room credentials that must never reach logs or terminal output: the room
// password and the host token, in JSON bodies or key=value text.
var (
	secretKeyExpr     = `(?:password|passwd|host[_-]?token|[a-z0-9._-]*token)`
	jsonSecretPattern = regexp.MustCompile(`(?i)("` + secretKeyExpr + `"\s*:\s*)"(?:[^"\\]|\\.)*"`)
	kvSecretPattern   = regexp.MustCompile(`(?i)\b(` + secretKeyExpr + `)\s*[:=]\s*(?:"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s"',}]+)`)
	// validation errors echo the rejected field value as "input"
	jsonInputPattern   = regexp.MustCompile(`(?i)(\["body",\s*"` + secretKeyExpr + `"\][^{}]*?"input"\s*:\s*)"(?:[^"\\]|\\.)*"`)
	bearerTokenPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
)

// RedactDetail masks credential values in a backend response or error text.
func RedactDetail(input string) string {
	if input == "" {
		return ""
	}
	out := jsonInputPattern.ReplaceAllString(input, `${1}"[REDACTED]"`)
	out = jsonSecretPattern.ReplaceAllString(out, `${1}"[REDACTED]"`)
	out = kvSecretPattern.ReplaceAllStringFunc(out, func(match string) string {
		if strings.Contains(match, "[REDACTED]") {
			return match
		}
		idx := strings.IndexAny(match, ":=")
		if idx < 0 {
			return "[REDACTED]"
		}
		return match[:idx+1] + " [REDACTED]"
	})
	return bearerTokenPattern.ReplaceAllString(out, "Bearer [REDACTED]")
}

// MaskToken keeps a short prefix of a host token for display.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "[REDACTED]"
	}
	return token[:4] + "…[REDACTED]"
}
