package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/andycufari/portero/internal/mcp"
)

type fakeManager struct {
	clients map[string]*mcp.Client
	calls   []call
	reply   *mcp.ToolCallResult
	err     error
}

type call struct {
	backend, tool string
	args          map[string]any
}

func (f *fakeManager) Client(backend string) (*mcp.Client, bool) {
	c, ok := f.clients[backend]
	return c, ok
}

func (f *fakeManager) CallTool(ctx context.Context, backend, toolName string, arguments map[string]any) (*mcp.ToolCallResult, error) {
	f.calls = append(f.calls, call{backend, toolName, arguments})
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func TestSplitValid(t *testing.T) {
	backend, local, err := Split("fs/read_file")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if backend != "fs" || local != "read_file" {
		t.Fatalf("unexpected split: %q %q", backend, local)
	}
}

func TestSplitNestedLocalName(t *testing.T) {
	backend, local, err := Split("fs/dir/read_file")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if backend != "fs" || local != "dir/read_file" {
		t.Fatalf("unexpected split: %q %q", backend, local)
	}
}

func TestSplitMalformed(t *testing.T) {
	cases := []string{"noseparator", "/leadingslash", "trailingslash/"}
	for _, c := range cases {
		if _, _, err := Split(c); !errors.Is(err, ErrMalformedName) {
			t.Fatalf("Split(%q): expected ErrMalformedName, got %v", c, err)
		}
	}
}

func TestCallUnknownBackend(t *testing.T) {
	fm := &fakeManager{clients: map[string]*mcp.Client{}}
	r := New(fm)
	_, err := r.Call(context.Background(), "ghost/tool", nil)
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestCallDispatchesAndReturnsReplyVerbatim(t *testing.T) {
	cfg := &mcp.ServerConfig{ID: "fs"}
	fm := &fakeManager{
		clients: map[string]*mcp.Client{"fs": mcp.NewClient(cfg, nil)},
		reply:   &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: "ok"}}},
	}
	r := New(fm)

	result, err := r.Call(context.Background(), "fs/read_file", map[string]any{"path": "/tmp/a"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != fm.reply {
		t.Fatalf("expected raw reply passthrough, got %+v", result)
	}
	if len(fm.calls) != 1 || fm.calls[0].backend != "fs" || fm.calls[0].tool != "read_file" {
		t.Fatalf("unexpected dispatch record: %+v", fm.calls)
	}
}

func TestCallPropagatesBackendFailureUnchanged(t *testing.T) {
	cfg := &mcp.ServerConfig{ID: "fs"}
	wantErr := errors.New("backend exploded")
	fm := &fakeManager{
		clients: map[string]*mcp.Client{"fs": mcp.NewClient(cfg, nil)},
		err:     wantErr,
	}
	r := New(fm)

	_, err := r.Call(context.Background(), "fs/read_file", nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected backend error to propagate unchanged, got %v", err)
	}
}

func TestCompileSchemaRejectsMismatchedArguments(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`)
	schema, err := compileSchema(raw)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := schema.Validate(map[string]any{}); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
	if err := schema.Validate(map[string]any{"path": "/tmp/a"}); err != nil {
		t.Fatalf("expected valid arguments to pass, got %v", err)
	}
}
