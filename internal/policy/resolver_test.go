package policy

import (
	"testing"
	"time"

	"github.com/andycufari/portero/internal/store"
)

type staticRules []*store.Rule

func (s staticRules) List() ([]*store.Rule, error) { return s, nil }

func TestResolverDeterministic(t *testing.T) {
	static := StaticConfig{
		Exact:   map[string]store.PolicyAction{"filesystem/read_file": store.ActionAllow},
		Default: store.ActionDeny,
	}
	r := New(staticRules{}, static)

	d1, err := r.Decide("filesystem/read_file")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	d2, err := r.Decide("filesystem/read_file")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("expected deterministic decisions, got %+v vs %+v", d1, d2)
	}
	if d1.Action != store.ActionAllow || d1.Source != store.SourceStaticExact {
		t.Fatalf("unexpected decision: %+v", d1)
	}
}

func TestResolverDefaultFallthrough(t *testing.T) {
	r := New(staticRules{}, StaticConfig{Default: store.ActionDeny})
	d, err := r.Decide("unknown/tool")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Action != store.ActionDeny || d.Source != store.SourceDefault {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

// TestPatternPrecedence covers scenario S6: a dynamic pattern rule
// overrides static exact configuration, and removing the dynamic rule
// reverts to the static decision.
func TestPatternPrecedence(t *testing.T) {
	static := StaticConfig{
		Exact: map[string]store.PolicyAction{"x/y": store.ActionDeny},
	}
	dynamic := staticRules{{ID: "r1", Pattern: "x/*", Action: store.ActionAllow, CreatedAt: time.Now()}}
	r := New(dynamic, static)

	d, err := r.Decide("x/y")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Action != store.ActionAllow || d.Source != store.SourceDynamicRule {
		t.Fatalf("expected dynamic rule to win, got %+v", d)
	}

	withoutDynamic := New(staticRules{}, static)
	d2, err := withoutDynamic.Decide("x/y")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d2.Action != store.ActionDeny || d2.Source != store.SourceStaticExact {
		t.Fatalf("expected static exact after dynamic rule removed, got %+v", d2)
	}
}

func TestStaticPatternOrderFirstMatchWins(t *testing.T) {
	static := StaticConfig{
		Patterns: []Entry{
			{Pattern: "github/*", Action: store.ActionRequireApproval},
			{Pattern: "github/read_*", Action: store.ActionAllow},
		},
		Default: store.ActionDeny,
	}
	r := New(staticRules{}, static)
	d, err := r.Decide("github/read_file")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.Action != store.ActionRequireApproval {
		t.Fatalf("expected first matching pattern entry to win, got %+v", d)
	}
}
