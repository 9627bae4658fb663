package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches map keys that likely contain secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|key|dsn|credential)`)

// Redactor replaces secret values in strings and maps with a redaction placeholder.
// It supports both regex pattern matching (bearer tokens, credentials embedded
// in connection URLs) and literal value matching (provider keys and webhook
// secrets loaded from configuration).
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor pre-loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: DefaultPatterns(),
	}
}

// AddPattern adds a compiled regex pattern to the redactor.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral adds a literal secret value that should be redacted on sight.
// Empty strings are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
}

// SetLiterals replaces all literal values, typically after a config reload.
// Empty strings are ignored.
func (r *Redactor) SetLiterals(secrets ...string) {
	literals := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			literals = append(literals, s)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = literals
}

// Redact replaces all known secret patterns and literal values in s
// with RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	// Literals first so a secret inside a URL is caught even when the
	// pattern below would only cover part of it.
	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}

	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}

	return s
}

// RedactMap walks a map and replaces values whose keys match common secret
// key names (secret, token, password, key, dsn, credential).
// This is used when printing the effective configuration.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			if s, ok := v.(string); ok && s != "" {
				m[k] = RedactPlaceholder
				continue
			}
		}
		switch val := v.(type) {
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok {
					r.RedactMap(sub)
				}
			}
		case string:
			if redacted := r.Redact(val); redacted != val {
				m[k] = redacted
			}
		}
	}
}

// DefaultPatterns returns compiled regex patterns for secrets that show up
// in bridge logs without being configured literals.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Authorization: Bearer <token>
		regexp.MustCompile(`(?i)bearer [A-Za-z0-9\-._~+/]{8,}=*`),
		// user:password@ in amqp://, postgres:// and similar URLs
		regexp.MustCompile(`[A-Za-z0-9_.%\-]+:[^@\s/:]+@`),
		// Provider credential headers echoed back in errors
		regexp.MustCompile(`(?i)sb-api-(?:key-id|secret-key)[:=]\s*[A-Za-z0-9]{8,}`),
	}
}
