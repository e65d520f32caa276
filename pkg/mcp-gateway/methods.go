package mcpgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ragon/ragon/pkg/logger"
)

// MethodInitialized is the client notification that ends the handshake.
const MethodInitialized = "notifications/initialized"

type outcomeKind int

const (
	outcomeResult outcomeKind = iota
	outcomeNoReply
	outcomeError
)

// Outcome is what a method handler decided: a result, an error, or silence.
type Outcome struct {
	kind    outcomeKind
	result  any
	code    int
	message string
}

// Reply answers the request with result.
func Reply(result any) Outcome {
	return Outcome{kind: outcomeResult, result: result}
}

// NoReply sends nothing back.
func NoReply() Outcome {
	return Outcome{kind: outcomeNoReply}
}

// Fail answers the request with a JSON-RPC error.
func Fail(code int, message string) Outcome {
	return Outcome{kind: outcomeError, code: code, message: message}
}

// MethodHandler serves one JSON-RPC method.
type MethodHandler func(ctx context.Context, req *Request) Outcome

// ToolCallResult mirrors mcp.CallToolResult but always emits isError.
type ToolCallResult struct {
	Content []mcp.Content `json:"content"`
	IsError bool          `json:"isError"`
}

func textResult(text string, isError bool) ToolCallResult {
	return ToolCallResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
		IsError: isError,
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// negotiateVersion echoes the client's version when we speak it.
func negotiateVersion(requested string) string {
	if slices.Contains(mcp.ValidProtocolVersions, requested) {
		return requested
	}
	return mcp.LATEST_PROTOCOL_VERSION
}

func (d *Dispatcher) methodTable() map[string]MethodHandler {
	return map[string]MethodHandler{
		string(mcp.MethodInitialize): d.handleInitialize,
		MethodInitialized:            d.handleInitialized,
		string(mcp.MethodPing):       d.handlePing,
		string(mcp.MethodToolsList):  d.handleToolsList,
		string(mcp.MethodToolsCall):  d.handleToolsCall,
	}
}

func (d *Dispatcher) handleInitialize(_ context.Context, req *Request) Outcome {
	var params initializeParams
	if len(req.Params) > 0 {
		// A malformed params object still gets the default version.
		_ = json.Unmarshal(req.Params, &params)
	}
	return Reply(mcp.InitializeResult{
		ProtocolVersion: negotiateVersion(params.ProtocolVersion),
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged,omitempty"`
			}{},
		},
		ServerInfo:   d.serverInfo,
		Instructions: d.instructions,
	})
}

func (d *Dispatcher) handleInitialized(context.Context, *Request) Outcome {
	return NoReply()
}

func (d *Dispatcher) handlePing(context.Context, *Request) Outcome {
	return Reply(mcp.EmptyResult{})
}

func (d *Dispatcher) handleToolsList(context.Context, *Request) Outcome {
	return Reply(mcp.ListToolsResult{Tools: d.tools.Descriptors()})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *Request) Outcome {
	if len(req.Params) == 0 {
		return Fail(mcp.INVALID_PARAMS, "tools/call requires params")
	}
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return Fail(mcp.INVALID_PARAMS, fmt.Sprintf("invalid tools/call params: %v", err))
	}
	handler, ok := d.tools.Lookup(params.Name)
	if !ok {
		return Fail(mcp.METHOD_NOT_FOUND, fmt.Sprintf("Tool not found: %s", params.Name))
	}
	args := map[string]any{}
	if raw := params.Arguments; len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return Fail(mcp.INVALID_PARAMS, "tool arguments must be an object")
		}
	}
	return Reply(callTool(ctx, params.Name, handler, args))
}

// callTool runs a tool handler. Errors and panics both come back as
// isError results.
func callTool(ctx context.Context, name string, handler ToolHandler, args map[string]any) (res ToolCallResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("Tool handler panicked",
				"tool", name, "panic", r, "stack", string(debug.Stack()))
			res = textResult(fmt.Sprintf("%v", r), true)
		}
	}()
	text, err := handler(ctx, args)
	if err != nil {
		return textResult(err.Error(), true)
	}
	return textResult(text, false)
}
