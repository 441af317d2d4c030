package policy

import "regexp"

var (
	apiKeyPattern = regexp.MustCompile(`\b(?:sk|rk|pk)[-_][A-Za-z0-9_\-]{16,}\b`)
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{8,}`)
	assignPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password|passwd)\s*[=:]\s*\S+`)
)

// RedactSecrets masks credential-shaped substrings before a command line is
// written to the persisted history. Prompts and stored responses are never
// redacted: continuation matches on verbatim response text.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	// Run key-shaped tokens before assignments so `api_key=sk-...` keeps the
	// assignment marker rather than a nested one.
	next := apiKeyPattern.ReplaceAllString(out, "[REDACTED_KEY]")
	changed = changed || next != out
	out = next

	next = bearerPattern.ReplaceAllString(out, "[REDACTED_BEARER]")
	changed = changed || next != out
	out = next

	next = assignPattern.ReplaceAllString(out, "$1=[REDACTED]")
	changed = changed || next != out
	out = next

	return out, changed
}
