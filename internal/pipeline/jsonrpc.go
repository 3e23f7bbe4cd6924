package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andycufari/portero/internal/mcp"
	"github.com/andycufari/portero/internal/registry"
	"github.com/andycufari/portero/internal/router"
)

// Handle dispatches one decoded JSON-RPC request to the appropriate method
// handler (spec §4.10 / §6 "JSON-RPC methods"). It never returns a
// transport-level error itself; method failures are carried in the
// returned *mcp.JSONRPCError alongside a nil result.
func (p *Pipeline) Handle(ctx context.Context, req *mcp.JSONRPCRequest) (json.RawMessage, *mcp.JSONRPCError) {
	switch req.Method {
	case "initialize":
		return p.handleInitialize()
	case "ping":
		return marshalResult(map[string]any{})
	case "notifications/initialized", "notifications/cancelled":
		// Lifecycle notifications are no-ops (spec §4.10).
		return nil, nil
	case "tools/list":
		return p.handleToolsList()
	case "tools/call":
		return p.handleToolsCall(ctx, req.Params)
	case "resources/list":
		return p.handleResourcesList()
	case "resources/read":
		return p.handleResourcesRead(ctx, req.Params)
	default:
		return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// IsNotification reports whether method is a lifecycle notification that
// carries no id and expects no response.
func IsNotification(method string) bool {
	switch method {
	case "notifications/initialized", "notifications/cancelled":
		return true
	default:
		return false
	}
}

func (p *Pipeline) handleInitialize() (json.RawMessage, *mcp.JSONRPCError) {
	return marshalResult(mcp.InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: mcp.Capabilities{
			Tools:     &mcp.ToolsCapability{},
			Resources: &mcp.ResourcesCapability{},
		},
		ServerInfo: mcp.ServerInfo{Name: "portero", Version: "0.1.0"},
	})
}

func (p *Pipeline) handleToolsList() (json.RawMessage, *mcp.JSONRPCError) {
	tools := append(append([]registry.Tool{}, VirtualTools()...), p.deps.Registry.Filtered()...)
	out := make([]*mcp.MCPTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, &mcp.MCPTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return marshalResult(mcp.ListToolsResult{Tools: out})
}

func (p *Pipeline) handleToolsCall(ctx context.Context, params json.RawMessage) (json.RawMessage, *mcp.JSONRPCError) {
	var callParams mcp.CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInvalidParams, Message: err.Error()}
	}

	var args map[string]any
	if len(callParams.Arguments) > 0 {
		if err := json.Unmarshal(callParams.Arguments, &args); err != nil {
			return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInvalidParams, Message: fmt.Sprintf("decoding arguments: %v", err)}
		}
	}

	var (
		result any
		err    error
	)
	if IsVirtual(callParams.Name) {
		result, err = p.CallVirtual(ctx, callParams.Name, args)
	} else {
		result, err = p.CallTool(ctx, callParams.Name, args)
	}
	if err != nil {
		var denyErr *DenyError
		if errors.As(err, &denyErr) {
			return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInvalidRequest, Message: err.Error()}
		}
		return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInternalError, Message: err.Error()}
	}

	return marshalResult(toCallToolResult(result))
}

func (p *Pipeline) handleResourcesList() (json.RawMessage, *mcp.JSONRPCError) {
	// Resource discovery is backend-owned; this core pipeline does not
	// aggregate a namespaced resource catalog beyond forwarding reads
	// (spec §4.3 "Resource reads use URIs of the form backend://...").
	return marshalResult(mcp.ListResourcesResult{Resources: []*mcp.MCPResource{}})
}

func (p *Pipeline) handleResourcesRead(ctx context.Context, params json.RawMessage) (json.RawMessage, *mcp.JSONRPCError) {
	var readParams struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInvalidParams, Message: err.Error()}
	}

	contents, err := p.deps.Registry.ReadResource(ctx, readParams.URI)
	if err != nil {
		if errors.Is(err, router.ErrMalformedName) {
			return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInvalidParams, Message: err.Error()}
		}
		return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInternalError, Message: err.Error()}
	}
	return marshalResult(mcp.ReadResourceResult{Contents: contents})
}

// toCallToolResult wraps a pipeline result (either an *mcp.ToolCallResult-
// shaped map from a synchronous dispatch, a PendingResult, or an arbitrary
// virtual-tool value) into the MCP content-block envelope every tools/call
// reply uses.
func toCallToolResult(result any) mcp.ToolCallResult {
	if asResult, ok := result.(mcp.ToolCallResult); ok {
		return asResult
	}
	if asMap, ok := result.(map[string]any); ok {
		if rawContent, ok := asMap["content"]; ok {
			if items, ok := rawContent.([]any); ok {
				content := make([]mcp.ToolResultContent, 0, len(items))
				for _, item := range items {
					if m, ok := item.(map[string]any); ok {
						text, _ := m["text"].(string)
						typ, _ := m["type"].(string)
						mime, _ := m["mimeType"].(string)
						if typ == "" {
							typ = "text"
						}
						content = append(content, mcp.ToolResultContent{Type: typ, Text: text, MimeType: mime})
					}
				}
				isErr, _ := asMap["isError"].(bool)
				return mcp.ToolCallResult{Content: content, IsError: isErr}
			}
		}
	}

	text, err := json.Marshal(result)
	if err != nil {
		text = []byte(fmt.Sprintf("%v", result))
	}
	return mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: string(text)}}}
}

func marshalResult(v any) (json.RawMessage, *mcp.JSONRPCError) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &mcp.JSONRPCError{Code: mcp.ErrCodeInternalError, Message: err.Error()}
	}
	return data, nil
}
