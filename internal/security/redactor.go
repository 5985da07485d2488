package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches attribute and map keys whose values are never
// logged, whatever they contain.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|app_hash|api_hash|code_hash|login_code|private_key|auth_key)`)

// phonePattern matches international phone numbers as users type them.
var phonePattern = regexp.MustCompile(`\+\d[\d ]{6,16}\d`)

// Redactor replaces secret values in strings and maps with a redaction placeholder.
// It supports both regex pattern matching and literal value matching for
// credentials loaded at runtime. Phone numbers are masked rather than removed
// so operators can still tell identities apart.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
	phones   bool
}

// NewRedactor creates a Redactor pre-loaded with default patterns and
// phone masking enabled.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: DefaultPatterns(),
		phones:   true,
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

// SyncCredentials replaces all literal values with the current contents
// of the credential store.
func (r *Redactor) SyncCredentials(store *CredentialStore) {
	values := store.Values()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = values
}

// Redact replaces all known secret patterns and literal values in s
// with RedactPlaceholder and masks phone numbers.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	phones := r.phones
	r.mu.RUnlock()

	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	if phones {
		s = phonePattern.ReplaceAllStringFunc(s, MaskPhone)
	}
	return s
}

// IsSecretKey reports whether values stored under key must always be hidden.
func IsSecretKey(key string) bool {
	return secretKeyPattern.MatchString(key)
}

// MaskPhone keeps the leading "+", the first two and the last two digits.
func MaskPhone(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) < 5 {
		return RedactPlaceholder
	}
	var b strings.Builder
	if strings.HasPrefix(phone, "+") {
		b.WriteByte('+')
	}
	b.Write(digits[:2])
	b.WriteString(strings.Repeat("*", len(digits)-4))
	b.Write(digits[len(digits)-2:])
	return b.String()
}

// RedactMap walks a map and replaces values whose keys look secret.
// Used by the status endpoints before settings are returned to clients.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if IsSecretKey(k) {
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

// DefaultPatterns returns compiled regex patterns for credentials that
// show up around the messaging network.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Bot API token: <bot id>:<35 chars>
		regexp.MustCompile(`\b\d{8,10}:[A-Za-z0-9_-]{35}\b`),
		// Application API hash (32 lowercase hex chars)
		regexp.MustCompile(`\b[a-f0-9]{32}\b`),
		// Bearer tokens in echoed headers
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
	}
}
