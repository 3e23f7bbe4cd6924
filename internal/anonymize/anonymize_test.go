package anonymize

import (
	"strings"
	"testing"
)

func TestBidirectionalRoundTrip(t *testing.T) {
	a := New([]Rule{{Fake: "John Doe", Real: "Jane Real", Bidirectional: true, CaseSensitive: true}})

	in := map[string]any{"name": "John Doe"}
	real := a.Inbound(in)
	got := real.(map[string]any)["name"]
	if got != "Jane Real" {
		t.Fatalf("expected inbound rewrite to Jane Real, got %v", got)
	}

	// Backend echoes the real value back.
	out := a.Outbound(real)
	got = out.(map[string]any)["name"]
	if got != "John Doe" {
		t.Fatalf("expected outbound rewrite back to John Doe, got %v", got)
	}
}

func TestOneWayRuleRedactsOnOutbound(t *testing.T) {
	a := New([]Rule{{Fake: "FAKE_KEY", Real: "sk_secret", Bidirectional: false, ResponseReplacement: "***"}})

	in := map[string]any{"key": "FAKE_KEY"}
	real := a.Inbound(in)
	if real.(map[string]any)["key"] != "sk_secret" {
		t.Fatalf("expected inbound rewrite to real secret")
	}

	out := a.Outbound(real)
	if out.(map[string]any)["key"] != "***" {
		t.Fatalf("expected outbound rewrite to redaction token, got %v", out.(map[string]any)["key"])
	}
}

func TestOneWayRuleNeverLeaksRealSubstring(t *testing.T) {
	a := New([]Rule{{Fake: "FAKE_KEY", Real: "sk_secret", Bidirectional: false}})

	out := a.Outbound(map[string]any{"nested": []any{"prefix-sk_secret-suffix"}})
	s := out.(map[string]any)["nested"].([]any)[0].(string)
	if strings.Contains(s, "sk_secret") {
		t.Fatalf("real substring leaked into deanonymized output: %q", s)
	}
}

func TestKeysAreAlsoRewritten(t *testing.T) {
	a := New([]Rule{{Fake: "alias", Real: "secret", Bidirectional: true, CaseSensitive: true}})

	in := map[string]any{"alias": "value"}
	out := a.Inbound(in).(map[string]any)
	if _, ok := out["secret"]; !ok {
		t.Fatalf("expected key to be rewritten, got %+v", out)
	}
}

func TestCaseInsensitiveEmitsLiteralReplacement(t *testing.T) {
	a := New([]Rule{{Fake: "Token", Real: "secret-token", CaseSensitive: false, Bidirectional: true}})

	out := a.Inbound(map[string]any{"v": "please use TOKEN now"})
	got := out.(map[string]any)["v"].(string)
	if got != "please use secret-token now" {
		t.Fatalf("unexpected case-insensitive rewrite: %q", got)
	}
}

func TestRulesComposeInOrder(t *testing.T) {
	a := New([]Rule{
		{Fake: "a", Real: "b", Bidirectional: true, CaseSensitive: true},
		{Fake: "b", Real: "c", Bidirectional: true, CaseSensitive: true},
	})
	out := a.Inbound(map[string]any{"v": "a"})
	if out.(map[string]any)["v"] != "c" {
		t.Fatalf("expected composed rewrite a->b->c, got %v", out.(map[string]any)["v"])
	}
}

func TestArrayAndScalarPassthrough(t *testing.T) {
	a := New([]Rule{{Fake: "x", Real: "y", Bidirectional: true, CaseSensitive: true}})
	out := a.Inbound(map[string]any{
		"list":   []any{"x", 1, true, nil},
		"number": 42,
	})
	m := out.(map[string]any)
	list := m["list"].([]any)
	if list[0] != "y" || list[1] != 1 || list[2] != true || list[3] != nil {
		t.Fatalf("unexpected array rewrite: %+v", list)
	}
	if m["number"] != 42 {
		t.Fatalf("expected scalar passthrough, got %v", m["number"])
	}
}
