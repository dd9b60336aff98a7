// Package mcpexec adapts a single Model Context Protocol tool server into
// the harness's executor.ToolCall/executor.ToolResult shape. It is the
// harness-domain analogue of the teacher's pkg/mcp.Client: where that
// client juggles a registry of many servers behind config-driven
// transports, this adapter owns exactly one session (one harness run talks
// to one tool backend) and exists to be driven by a TurnExecutor, not to
// be a general-purpose MCP client.
package mcpexec

import (
	"context"
	"fmt"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-labs/agentharness/pkg/executor"
)

// Transport is the subset of transport construction the adapter needs;
// callers build one of *mcpsdk.CommandTransport, *mcpsdk.StreamableClientTransport,
// or *mcpsdk.SSEClientTransport directly, the same three kinds the
// teacher's pkg/mcp.createTransport selects between.
type Transport = mcpsdk.Transport

// Executor connects to one MCP server and exposes its tools through the
// harness ToolCall/ToolResult shape. It implements neither Kernel's
// TurnExecutor nor a tool policy decision — the kernel still routes every
// call through pkg/policy before this type ever sees it; Executor's job
// ends at translating an already-approved call into an MCP request.
type Executor struct {
	name      string
	transport Transport

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession

	toolsMu sync.RWMutex
	tools   []*mcpsdk.Tool
}

// New returns an Executor bound to transport. The connection is lazy:
// Connect must be called (directly or via the first Call) before any
// tool can be invoked.
func New(name string, transport Transport) *Executor {
	return &Executor{
		name:      name,
		transport: transport,
		client: mcpsdk.NewClient(&mcpsdk.Implementation{
			Name:    "agentharness",
			Version: "0.1.0",
		}, nil),
	}
}

// Connect establishes the MCP session. Safe to call more than once; only
// the first call does any work.
func (e *Executor) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		return nil
	}
	session, err := e.client.Connect(ctx, e.transport, nil)
	if err != nil {
		return fmt.Errorf("mcpexec: connect to %q: %w", e.name, err)
	}
	e.session = session
	return nil
}

// ListTools returns the server's advertised tools, caching after the
// first successful call the same way the teacher's Client.ListTools does.
func (e *Executor) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	e.toolsMu.RLock()
	if e.tools != nil {
		cached := e.tools
		e.toolsMu.RUnlock()
		return cached, nil
	}
	e.toolsMu.RUnlock()

	if err := e.Connect(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpexec: list tools on %q: %w", e.name, err)
	}
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	e.toolsMu.Lock()
	e.tools = tools
	e.toolsMu.Unlock()
	return tools, nil
}

// Call executes one already-policy-approved tool call and translates the
// MCP result into an executor.ToolResult. It has no Go error return:
// a tool-level failure, a failure to connect, and a transport error on
// the call are all reported as a ToolResult with Success=false and the
// error text in Error.
func (e *Executor) Call(ctx context.Context, call executor.ToolCall) executor.ToolResult {
	if err := e.Connect(ctx); err != nil {
		return executor.ToolResult{ToolName: call.ToolName, Success: false, Error: err.Error()}
	}

	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      call.ToolName,
		Arguments: call.Arguments,
	})
	if err != nil {
		return executor.ToolResult{ToolName: call.ToolName, Success: false, Error: err.Error()}
	}
	if result.IsError {
		return executor.ToolResult{ToolName: call.ToolName, Success: false, Error: textContent(result)}
	}
	return executor.ToolResult{ToolName: call.ToolName, Success: true, Result: textContent(result)}
}

func textContent(result *mcpsdk.CallToolResult) string {
	var out string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}

// Close releases the underlying session, if any.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
