package tools

import (
	"context"
	"encoding/json"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/internal/toolexec"
)

// getToolResultTool implements get_tool_result: reads the full structured
// result of an earlier call in this dialog from the out-of-band tool-result
// store. It refuses calls from the in-flight turn.
type getToolResultTool struct{}

func newGetToolResultTool() *getToolResultTool { return &getToolResultTool{} }

func (t *getToolResultTool) Name() string                { return "get_tool_result" }
func (t *getToolResultTool) LockKind() toolexec.LockKind { return toolexec.LockNone }

func (t *getToolResultTool) Execute(ctx context.Context, tc *toolexec.ToolContext, input json.RawMessage) (*toolexec.Result, error) {
	var req struct {
		ToolCallID string `json:"tool_call_id"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, agentserr.New(agentserr.KindValidation, "invalid_tool_input", err)
	}
	if req.ToolCallID == "" {
		return nil, agentserr.Newf(agentserr.KindValidation, "missing_tool_call_id", "tool_call_id is required")
	}
	if tc == nil || tc.Results == nil {
		return nil, agentserr.Newf(agentserr.KindInternal, "result_store_unavailable", "no tool-result store configured")
	}
	if tc.CurrentTurnCallIDs != nil && tc.CurrentTurnCallIDs[req.ToolCallID] {
		return nil, agentserr.Newf(agentserr.KindValidation, "not_current_turn", "not for current-turn calls")
	}

	body, err := tc.Results.GetToolResult(ctx, tc.DialogID, req.ToolCallID)
	if err != nil {
		return nil, err
	}
	return &toolexec.Result{Content: string(body), StructuredJSON: body}, nil
}
