// Package anonymize implements bidirectional literal-substring rewriting of
// arbitrarily nested tool arguments, so a caller never sees the real secrets
// a backend needs and a backend never sees the caller's pseudonyms.
package anonymize

import "strings"

// Rule is one replacement: fake is the caller-facing literal, real is the
// backend-facing literal. Fake must never be empty.
type Rule struct {
	Fake                string
	Real                string
	Bidirectional       bool
	CaseSensitive       bool
	ResponseReplacement string
}

const defaultRedactionToken = "***REDACTED***"

// responseToken returns the literal a one-way rule substitutes into an
// outbound (real -> caller-facing) rewrite.
func (r Rule) responseToken() string {
	if r.ResponseReplacement != "" {
		return r.ResponseReplacement
	}
	return defaultRedactionToken
}

// Anonymizer applies an ordered list of rules to tool arguments. Rules are
// process-scoped and loaded once at startup; they are applied in
// configuration order and may compose (rule k's output feeds rule k+1).
type Anonymizer struct {
	rules []Rule
}

// New creates an Anonymizer over rules, in the order they should be applied.
func New(rules []Rule) *Anonymizer {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Anonymizer{rules: cp}
}

// Inbound rewrites caller-facing pseudonyms to backend-facing secrets
// (fake -> real), for every rule, in order.
func (a *Anonymizer) Inbound(value any) any {
	out := value
	for _, rule := range a.rules {
		out = rewriteTree(out, rule.Fake, rule.Real, rule.CaseSensitive)
	}
	return out
}

// Outbound inverts Inbound on a backend's reply: bidirectional rules
// substitute real -> fake; one-way rules substitute real -> the rule's
// response-replacement token (or a fixed redaction token).
func (a *Anonymizer) Outbound(value any) any {
	out := value
	for _, rule := range a.rules {
		if rule.Bidirectional {
			out = rewriteTree(out, rule.Real, rule.Fake, rule.CaseSensitive)
		} else {
			out = rewriteTree(out, rule.Real, rule.responseToken(), rule.CaseSensitive)
		}
	}
	return out
}

// rewriteTree recursively walks value, rewriting string leaves (and, for
// mapping nodes, both keys and values) by substituting every occurrence of
// from with to. Arrays are rewritten element-wise; other scalars pass
// through unchanged.
func rewriteTree(value any, from, to string, caseSensitive bool) any {
	switch v := value.(type) {
	case string:
		return rewriteString(v, from, to, caseSensitive)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			newKey := rewriteString(k, from, to, caseSensitive)
			out[newKey] = rewriteTree(val, from, to, caseSensitive)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = rewriteTree(elem, from, to, caseSensitive)
		}
		return out
	default:
		return v
	}
}

// rewriteString substitutes every occurrence of from with to in s. When
// caseSensitive is false, every case-variant of from is matched but the
// rule's literal replacement is always emitted (not the matched casing).
func rewriteString(s, from, to string, caseSensitive bool) string {
	if from == "" {
		return s
	}
	if caseSensitive {
		return strings.ReplaceAll(s, from, to)
	}
	return replaceAllFold(s, from, to)
}

// replaceAllFold performs a case-insensitive literal replacement, scanning
// byte-by-byte so replacement output is exactly the rule's literal `to`
// regardless of the matched casing.
func replaceAllFold(s, from, to string) string {
	if len(from) == 0 {
		return s
	}
	var b strings.Builder
	lowerFrom := strings.ToLower(from)
	lowerS := strings.ToLower(s)
	i := 0
	for i < len(s) {
		idx := strings.Index(lowerS[i:], lowerFrom)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		b.WriteString(to)
		i += idx + len(from)
	}
	return b.String()
}
