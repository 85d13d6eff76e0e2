package gatekeeper

import (
	"regexp"
	"sync"
)

// ============================================================================
// PII REDACTION
// ============================================================================

// RedactionRule is one ordered match/replace step. Rules stay declarative so
// a deployment can audit exactly what gets masked.
type RedactionRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

const redactedMarker = "[REDACTED]"

// sensitiveKeys matches object keys whose values are wholly replaced without
// inspection: the value of a "password" field is sensitive no matter its shape.
var sensitiveKeys = regexp.MustCompile(`(?i)(password|passwd|secret|token|api[-_ ]?key|auth|credential|private[-_ ]?key)`)

// defaultRules returns the built-in rule table. API-key-shaped tokens are
// checked first so the SSN/phone patterns never fire on digits inside key
// material.
func defaultRules() []RedactionRule {
	return []RedactionRule{
		{
			Name:        "api_key",
			Pattern:     regexp.MustCompile(`\b(?:sk|pk|key|token|secret)[-_][A-Za-z0-9_-]{16,}\b`),
			Replacement: "[API_KEY_REDACTED]",
		},
		{
			Name:        "email",
			Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			Replacement: "[EMAIL_REDACTED]",
		},
		{
			Name:        "ssn",
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "***-**-****",
		},
		{
			Name:        "credit_card",
			Pattern:     regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
			Replacement: "[CARD_REDACTED]",
		},
		{
			Name:        "phone",
			Pattern:     regexp.MustCompile(`\b(?:\+?\d{1,3}[-. ])?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`),
			Replacement: "[PHONE_REDACTED]",
		},
	}
}

// PIIRedactor masks sensitive substrings and object fields before they reach
// the audit log. Redaction is irreversible by design.
type PIIRedactor struct {
	mu    sync.RWMutex
	rules []RedactionRule
}

func NewPIIRedactor() *PIIRedactor {
	return &PIIRedactor{rules: defaultRules()}
}

// AddRule appends a rule to the end of the table, replacing any existing rule
// with the same name in place.
func (r *PIIRedactor) AddRule(rule RedactionRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.rules {
		if existing.Name == rule.Name {
			r.rules[i] = rule
			return
		}
	}
	r.rules = append(r.rules, rule)
}

// RemoveRule deletes the named rule and reports whether it existed.
func (r *PIIRedactor) RemoveRule(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rule := range r.rules {
		if rule.Name == name {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Rules returns a snapshot of the active rule names, in application order.
func (r *PIIRedactor) Rules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// RedactString applies every rule in order to s.
func (r *PIIRedactor) RedactString(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		s = rule.Pattern.ReplaceAllString(s, rule.Replacement)
	}
	return s
}

// RedactValue recurses through nested maps and slices. Values under
// sensitive key names are replaced wholesale without descending; non-string
// scalars pass through unchanged.
func (r *PIIRedactor) RedactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.RedactString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKeys.MatchString(k) {
				out[k] = redactedMarker
				continue
			}
			out[k] = r.RedactValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = r.RedactValue(inner)
		}
		return out
	default:
		return v
	}
}

// RedactMap is RedactValue specialized to the parameter maps audit events carry.
func (r *PIIRedactor) RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return r.RedactValue(m).(map[string]any)
}
