package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ragon/ragon/pkg/logger"
)

// Dispatcher routes validated requests to method handlers and delivers the
// responses onto the originating session's queue.
type Dispatcher struct {
	sessions     *Registry
	tools        *ToolRegistry
	methods      map[string]MethodHandler
	serverInfo   mcp.Implementation
	instructions string
	toolTimeout  time.Duration
	metrics      *Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithServerInfo sets the serverInfo returned by initialize.
func WithServerInfo(name, version string) DispatcherOption {
	return func(d *Dispatcher) {
		d.serverInfo = mcp.Implementation{Name: name, Version: version}
	}
}

// WithInstructions sets the optional instructions returned by initialize.
func WithInstructions(text string) DispatcherOption {
	return func(d *Dispatcher) {
		d.instructions = text
	}
}

// WithToolTimeout bounds each dispatch. Zero means no deadline.
func WithToolTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.toolTimeout = timeout
	}
}

// WithMetrics records RPC metrics. A nil value disables them.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher builds the method table over the given session and tool
// registries.
func NewDispatcher(sessions *Registry, tools *ToolRegistry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sessions:   sessions,
		tools:      tools,
		serverInfo: mcp.Implementation{Name: "ragon", Version: "dev"},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.methods = d.methodTable()
	return d
}

// Handle runs the request and returns the response to deliver, or nil when
// nothing must be sent.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) (resp *Response) {
	log := logger.FromContext(ctx).With("method", req.Method)
	start := time.Now()
	outcome := "ok"
	label := req.Method
	if _, known := d.methods[label]; !known {
		label = "unknown"
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Method handler panicked", "panic", r, "stack", string(debug.Stack()))
			outcome = "panic"
			resp = nil
			if !req.IsNotification() {
				resp = NewError(req.ID, mcp.INTERNAL_ERROR, fmt.Sprintf("internal error: %v", r))
			}
		}
		d.metrics.observeRPC(label, outcome, time.Since(start))
	}()

	handler, ok := d.methods[req.Method]
	if !ok {
		if req.IsNotification() {
			log.Debug("Ignoring unknown notification")
			outcome = "ignored"
			return nil
		}
		outcome = "unknown_method"
		return NewError(req.ID, mcp.METHOD_NOT_FOUND, fmt.Sprintf("Method not found: %s", req.Method))
	}

	if d.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.toolTimeout)
		defer cancel()
	}
	result := handler(ctx, req)
	if req.IsNotification() {
		return nil
	}
	switch result.kind {
	case outcomeNoReply:
		return nil
	case outcomeError:
		outcome = "error"
		return NewError(req.ID, result.code, result.message)
	default:
		if tr, ok := result.result.(ToolCallResult); ok && tr.IsError {
			outcome = "tool_error"
		}
		return NewResult(req.ID, result.result)
	}
}

// Dispatch handles req on behalf of session. Responses for sessions that
// disappeared in the meantime are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, session SessionID, req *Request) {
	log := logger.FromContext(ctx).With("session_id", session, "method", req.Method)
	resp := d.Handle(ctx, req)
	if resp == nil {
		return
	}
	if err := d.sessions.Enqueue(session, MessageEvent(resp)); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			log.Debug("Dropping response for closed session")
			d.metrics.droppedResponse()
			return
		}
		log.Error("Failed to enqueue response", "error", err)
	}
}
