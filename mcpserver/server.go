package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// BridgeMCPServer exposes operator tools over MCP. Each tool calls back
// into the bridge's HTTP API, so an agent session can inspect and resolve
// pending actions without touching the chat channel.
type BridgeMCPServer struct {
	server *mcp.Server
	api    *resty.Client
}

// NewServer creates an MCP server talking to the bridge API at apiBaseURL
func NewServer(apiBaseURL string) *BridgeMCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "assistant-tools",
		Version: "v1.0.0",
	}, nil)

	s := &BridgeMCPServer{
		server: server,
		api: resty.New().
			SetBaseURL(apiBaseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}

	s.registerTools()
	return s
}

// Run serves MCP over stdio until the context is cancelled
func (s *BridgeMCPServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *BridgeMCPServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_pending_actions",
		Description: "List actions awaiting operator approval. Each entry has an id, kind, payload and expiry.",
	}, s.handleListPendingActions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "resolve_action",
		Description: "Approve or reject a pending action by id (short ids work). Approving executes the action.",
	}, s.handleResolveAction)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_approval_pattern",
		Description: "Add a custom phrase that counts as approval or rejection in chat replies.",
	}, s.handleAddApprovalPattern)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_emergency_stop",
		Description: "Enable or disable the emergency stop. While enabled the assistant sends nothing.",
	}, s.handleSetEmergencyStop)
}

// PendingActionInfo describes one pending action
type PendingActionInfo struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Payload   map[string]string `json:"payload"`
	CreatedAt string            `json:"created_at"`
	ExpiresAt string            `json:"expires_at"`
}

// ListPendingActionsInput is empty - no input needed
type ListPendingActionsInput struct{}

// ListPendingActionsOutput contains the pending actions
type ListPendingActionsOutput struct {
	Actions []PendingActionInfo `json:"actions"`
	Error   string              `json:"error,omitempty"`
}

func (s *BridgeMCPServer) handleListPendingActions(ctx context.Context, req *mcp.CallToolRequest, input ListPendingActionsInput) (*mcp.CallToolResult, ListPendingActionsOutput, error) {
	var out struct {
		Actions []PendingActionInfo `json:"actions"`
	}
	resp, err := s.api.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/actions")
	if err != nil {
		return nil, ListPendingActionsOutput{Error: err.Error()}, nil
	}
	if resp.IsError() {
		return nil, ListPendingActionsOutput{Error: resp.String()}, nil
	}
	return nil, ListPendingActionsOutput{Actions: out.Actions}, nil
}

// ResolveActionInput identifies the action and the decision
type ResolveActionInput struct {
	ActionID string `json:"action_id" jsonschema:"description=The action id or its short prefix"`
	Decision string `json:"decision" jsonschema:"description=Either approve or reject"`
	Response string `json:"response,omitempty" jsonschema:"description=Optional note stored with the resolution"`
}

// ResolveActionOutput is the output for resolve_action
type ResolveActionOutput struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *BridgeMCPServer) handleResolveAction(ctx context.Context, req *mcp.CallToolRequest, input ResolveActionInput) (*mcp.CallToolResult, ResolveActionOutput, error) {
	if input.ActionID == "" {
		return nil, ResolveActionOutput{Error: "action_id is required"}, nil
	}
	if input.Decision != "approve" && input.Decision != "reject" {
		return nil, ResolveActionOutput{Error: "decision must be approve or reject"}, nil
	}

	var out ResolveActionOutput
	resp, err := s.api.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"decision": input.Decision,
			"response": input.Response,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/api/actions/%s/resolve", input.ActionID))
	if err != nil {
		return nil, ResolveActionOutput{Error: err.Error()}, nil
	}
	if resp.IsError() {
		return nil, ResolveActionOutput{Error: resp.String()}, nil
	}
	return nil, out, nil
}

// AddApprovalPatternInput describes the pattern to add
type AddApprovalPatternInput struct {
	Kind    string `json:"kind" jsonschema:"description=Either auto_approve or auto_reject"`
	Pattern string `json:"pattern" jsonschema:"description=The phrase to recognize, matched case-insensitively"`
}

// AddApprovalPatternOutput is the output for add_approval_pattern
type AddApprovalPatternOutput struct {
	Success bool   `json:"success"`
	Added   bool   `json:"added"`
	Error   string `json:"error,omitempty"`
}

func (s *BridgeMCPServer) handleAddApprovalPattern(ctx context.Context, req *mcp.CallToolRequest, input AddApprovalPatternInput) (*mcp.CallToolResult, AddApprovalPatternOutput, error) {
	if input.Pattern == "" {
		return nil, AddApprovalPatternOutput{Error: "pattern is required"}, nil
	}

	var out AddApprovalPatternOutput
	resp, err := s.api.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"kind":    input.Kind,
			"pattern": input.Pattern,
		}).
		SetResult(&out).
		Post("/api/patterns")
	if err != nil {
		return nil, AddApprovalPatternOutput{Error: err.Error()}, nil
	}
	if resp.IsError() {
		return nil, AddApprovalPatternOutput{Error: resp.String()}, nil
	}
	return nil, out, nil
}

// SetEmergencyStopInput carries the desired state
type SetEmergencyStopInput struct {
	Enabled bool `json:"enabled" jsonschema:"description=True to stop all outbound messages"`
}

// SetEmergencyStopOutput is the output for set_emergency_stop
type SetEmergencyStopOutput struct {
	Success bool   `json:"success"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

func (s *BridgeMCPServer) handleSetEmergencyStop(ctx context.Context, req *mcp.CallToolRequest, input SetEmergencyStopInput) (*mcp.CallToolResult, SetEmergencyStopOutput, error) {
	var out SetEmergencyStopOutput
	resp, err := s.api.R().
		SetContext(ctx).
		SetBody(map[string]bool{"enabled": input.Enabled}).
		SetResult(&out).
		Post("/api/emergency-stop")
	if err != nil {
		return nil, SetEmergencyStopOutput{Error: err.Error()}, nil
	}
	if resp.IsError() {
		return nil, SetEmergencyStopOutput{Error: resp.String()}, nil
	}
	return nil, out, nil
}
