package mcpgateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolHandler runs a tool and returns the text shown to the agent. A
// returned error is reported to the agent as a tool-level failure.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

type registeredTool struct {
	descriptor mcp.Tool
	handler    ToolHandler
}

// ToolRegistry keeps tools in registration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]registeredTool
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]registeredTool)}
}

// Register adds a tool. Names must be unique and non-empty.
func (r *ToolRegistry) Register(tool mcp.Tool, handler ToolHandler) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.order = append(r.order, tool.Name)
	r.tools[tool.Name] = registeredTool{descriptor: tool, handler: handler}
	return nil
}

// Lookup returns the handler registered under name.
func (r *ToolRegistry) Lookup(name string) (ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.handler, ok
}

// Descriptors lists tool definitions in registration order.
func (r *ToolRegistry) Descriptors() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].descriptor)
	}
	return out
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
