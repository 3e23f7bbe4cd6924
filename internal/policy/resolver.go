// Package policy implements the layered allow/deny/require-approval
// resolver described in spec §4.6: dynamic rules first, then static
// configuration, then a default. It is the only component authorized to
// consult the dynamic-rule and static-config stores for authorization
// purposes (spec §4.6).
package policy

import (
	"sync"

	"github.com/andycufari/portero/internal/store"
)

// Entry is a single static policy entry loaded from configuration.
type Entry struct {
	Pattern string
	Action  store.PolicyAction
}

// StaticConfig is the configuration-provenance half of the resolver: an
// exact-match map plus an ordered list of pattern entries, and a default
// action applied when nothing else matches.
type StaticConfig struct {
	Exact    map[string]store.PolicyAction
	Patterns []Entry
	Default  store.PolicyAction
}

// DynamicRules supplies the persisted, admin-editable rules (spec §4.6 tier
// 1). Implemented by *store.RuleStore in production.
type DynamicRules interface {
	List() ([]*store.Rule, error)
}

// Decision is the resolver's output: the action plus its provenance.
type Decision struct {
	Action  store.PolicyAction
	Source  store.PolicySource
	Pattern string
	RuleID  string
}

// Resolver resolves a tool name to a policy Decision.
type Resolver struct {
	dynamic DynamicRules

	mu     sync.RWMutex
	static StaticConfig
}

// New creates a Resolver over the given dynamic-rule source and static
// configuration.
func New(dynamic DynamicRules, static StaticConfig) *Resolver {
	return &Resolver{dynamic: dynamic, static: static}
}

// SetStatic atomically replaces the static (tiers 2-4) configuration,
// letting a running gateway pick up an edited policies.yaml without
// restarting (see internal/config.Watcher). It has no effect on dynamic
// rules, which are never filesystem-watched.
func (r *Resolver) SetStatic(static StaticConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static = static
}

func (r *Resolver) staticSnapshot() StaticConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.static
}

// Decide resolves toolName to a policy decision following the four-tier
// precedence in spec §4.6: dynamic exact, dynamic pattern, static exact,
// static pattern, then default. The resolver is deterministic: the same
// store snapshot and tool name always produce the same decision (spec §8
// invariant 4).
func (r *Resolver) Decide(toolName string) (Decision, error) {
	rules, err := r.dynamic.List()
	if err != nil {
		return Decision{}, err
	}
	static := r.staticSnapshot()

	// Tier 1: dynamic rules — first exact match on pattern == toolName,
	// else first pattern match, in the store's own (insertion-newest-
	// first) order.
	var firstPatternMatch *store.Rule
	for _, rule := range rules {
		if rule.Pattern == toolName {
			return Decision{Action: rule.Action, Source: store.SourceDynamicRule, Pattern: rule.Pattern, RuleID: rule.ID}, nil
		}
		if firstPatternMatch == nil && MatchPattern(rule.Pattern, toolName) {
			firstPatternMatch = rule
		}
	}
	if firstPatternMatch != nil {
		return Decision{Action: firstPatternMatch.Action, Source: store.SourceDynamicRule, Pattern: firstPatternMatch.Pattern, RuleID: firstPatternMatch.ID}, nil
	}

	// Tier 2: static exact.
	if action, ok := static.Exact[toolName]; ok {
		return Decision{Action: action, Source: store.SourceStaticExact, Pattern: toolName}, nil
	}

	// Tier 3: static patterns, in configuration (insertion) order.
	for _, entry := range static.Patterns {
		if MatchPattern(entry.Pattern, toolName) {
			return Decision{Action: entry.Action, Source: store.SourceStaticPattern, Pattern: entry.Pattern}, nil
		}
	}

	// Tier 4: default.
	def := static.Default
	if def == "" {
		def = store.ActionAllow
	}
	return Decision{Action: def, Source: store.SourceDefault}, nil
}
