package mcp

import (
	"context"
	"encoding/json"

	"github.com/nevindra/ember"
)

// ToolAdapter exposes one remote MCP tool as an ember.Tool, so remote
// capabilities register into a ToolManager like any local tool.
type ToolAdapter struct {
	client *Client
	info   ToolInfo
}

// Tools adapts every tool discovered on the client.
func Tools(c *Client) []ember.Tool {
	infos := c.Tools()
	out := make([]ember.Tool, 0, len(infos))
	for _, info := range infos {
		out = append(out, &ToolAdapter{client: c, info: info})
	}
	return out
}

func (t *ToolAdapter) Name() string { return t.info.Name }

func (t *ToolAdapter) Description() string {
	if t.info.Description != "" {
		return t.info.Description
	}
	return "Remote tool on MCP server " + t.client.ServerName() + "."
}

func (t *ToolAdapter) Parameters() json.RawMessage {
	if len(t.info.InputSchema) > 0 {
		return t.info.InputSchema
	}
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *ToolAdapter) Execute(ctx context.Context, args json.RawMessage) (ember.ToolResult, error) {
	out, err := t.client.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return ember.ToolResult{Success: false, Error: err.Error()}, err
	}
	return ember.ToolResult{Success: true, Output: out}, nil
}

var _ ember.Tool = (*ToolAdapter)(nil)
