package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var sensitivePatterns = []*regexp.Regexp{
	// AWS
	regexp.MustCompile(`(?i)(aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

	// GitHub
	regexp.MustCompile(`(?i)(github_token|gh_token|github_pat)\s*[=:]\s*['"]?[A-Za-z0-9_-]{30,}['"]?`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{40,}`),

	// Anthropic / OpenAI style keys
	regexp.MustCompile(`sk-(ant-)?[A-Za-z0-9_-]{32,}`),

	// Generic API keys, including query-string forms
	regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|secretkey|secret-key|access_token|auth_token|client_secret)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`),

	// Private keys
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.-]{20,}`),

	// Basic auth in URLs
	regexp.MustCompile(`https?://[^:/\s]+:[^@/\s]+@`),

	// Slack tokens
	regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`),

	// Stripe
	regexp.MustCompile(`[sr]k_live_[0-9a-zA-Z]{24}`),

	regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*['"]?[^\s'"$]{8,}['"]?`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact masks token and key shapes in input.
func Redact(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// ContainsSecret reports whether Redact would change input.
func ContainsSecret(input string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// Excerpt redacts input and cuts it to at most max bytes on a rune
// boundary, marking the cut with an ellipsis.
func Excerpt(input string, max int) string {
	out := Redact(input)
	if max <= 0 || len(out) <= max {
		return out
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut] + "…"
}

// secretNameTokens are the substrings that make a variable name
// secret-like, compared case-insensitively.
var secretNameTokens = []string{"key", "token", "secret", "password", "passwd", "credential"}

// IsSecretName reports whether a variable name looks like it holds a secret.
func IsSecretName(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range secretNameTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

var varRefRe = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)`)

// SecretVariables returns the secret-like variable names dereferenced in
// text, in order of first appearance.
func SecretVariables(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range varRefRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if IsSecretName(name) && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
