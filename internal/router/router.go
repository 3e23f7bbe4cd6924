// Package router parses namespaced tool identifiers and dispatches calls and
// resource reads to the owning backend (spec §4.4).
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/andycufari/portero/internal/mcp"
)

// ErrMalformedName is returned when a namespaced tool name carries no "/"
// separator.
var ErrMalformedName = fmt.Errorf("router: malformed tool name, expected backend/local")

// Manager is the subset of *mcp.Manager the router depends on.
type Manager interface {
	Client(backend string) (*mcp.Client, bool)
	CallTool(ctx context.Context, backend, toolName string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// Router dispatches namespaced tool calls to the owning backend.
type Router struct {
	manager Manager
}

// New creates a Router over manager.
func New(manager Manager) *Router {
	return &Router{manager: manager}
}

// Split parses "backend/local" by splitting on the first "/"; the remainder,
// which may itself contain "/", is the local tool name.
func Split(name string) (backend, local string, err error) {
	idx := strings.Index(name, "/")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedName, name)
	}
	return name[:idx], name[idx+1:], nil
}

// Call dispatches a namespaced tool call with post-anonymization arguments
// and returns the backend's raw reply verbatim; backend failures propagate
// unchanged (spec §4.4).
func (r *Router) Call(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error) {
	backend, local, err := Split(name)
	if err != nil {
		return nil, err
	}
	if err := r.validateArguments(backend, local, arguments); err != nil {
		return nil, err
	}
	return r.manager.CallTool(ctx, backend, local, arguments)
}

// validateArguments performs best-effort validation of arguments against the
// backend's published input schema, when one exists. The schema is opaque to
// the rest of the core; a validation failure is reported as a backend-style
// error, not a policy denial, since this is advisory convenience only.
func (r *Router) validateArguments(backend, local string, arguments map[string]any) error {
	client, ok := r.manager.Client(backend)
	if !ok {
		return fmt.Errorf("router: unknown backend %q", backend)
	}

	var schemaBytes json.RawMessage
	for _, t := range client.Tools() {
		if t.Name == local {
			schemaBytes = t.InputSchema
			break
		}
	}
	if len(schemaBytes) == 0 {
		return nil
	}

	schema, err := compileSchema(schemaBytes)
	if err != nil {
		// A schema we can't compile is not grounds to block dispatch; the
		// backend remains the authority on its own arguments.
		return nil
	}

	payload, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("router: encoding arguments for %s/%s: %w", backend, local, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("router: decoding arguments for %s/%s: %w", backend, local, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("router: arguments for %s/%s failed schema validation: %w", backend, local, err)
	}
	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	return jsonschema.CompileString("tool-input.schema.json", string(raw))
}
