package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/nevindra/ember"
)

func TestBuildBodyRoles(t *testing.T) {
	req := ember.ChatRequest{
		Messages: []ember.Message{
			ember.SystemMessage("sys"),
			ember.UserMessage("hi"),
			{
				Role:    ember.RoleAssistant,
				Content: "let me check",
				ToolCalls: []ember.ToolCall{
					{ID: "c1", Name: "add", Args: json.RawMessage(`{"a":1}`)},
				},
			},
			ember.ToolResultMessage("c1", "add", "3"),
		},
	}

	body := BuildBody(req, "default-model")

	if body.Model != "default-model" {
		t.Errorf("model = %q", body.Model)
	}
	if len(body.Messages) != 4 {
		t.Fatalf("messages = %d", len(body.Messages))
	}

	assistant := body.Messages[2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant message = %+v", assistant)
	}
	tc := assistant.ToolCalls[0]
	if tc.ID != "c1" || tc.Type != "function" || tc.Function.Name != "add" || tc.Function.Arguments != `{"a":1}` {
		t.Errorf("tool call = %+v", tc)
	}

	toolMsg := body.Messages[3]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "c1" || toolMsg.Content != "3" || toolMsg.Name != "add" {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestBuildBodyRequestModelWins(t *testing.T) {
	body := BuildBody(ember.ChatRequest{Model: "explicit"}, "default")
	if body.Model != "explicit" {
		t.Errorf("model = %q, want explicit", body.Model)
	}
}

func TestBuildBodyTools(t *testing.T) {
	req := ember.ChatRequest{
		Tools: []ember.ToolDefinition{
			{Name: "add", Description: "adds", Parameters: json.RawMessage(`{"type":"object"}`)},
			{Name: "noparams", Description: "empty"},
		},
	}
	body := BuildBody(req, "m")

	if len(body.Tools) != 2 {
		t.Fatalf("tools = %d", len(body.Tools))
	}
	if body.Tools[0].Type != "function" || body.Tools[0].Function.Name != "add" {
		t.Errorf("tool 0 = %+v", body.Tools[0])
	}
	// Empty parameters degrade to an empty object schema.
	if !json.Valid(body.Tools[1].Function.Parameters) {
		t.Error("empty parameters not replaced with a valid schema")
	}
}

func TestBuildBodyResponseFormat(t *testing.T) {
	req := ember.ChatRequest{
		ResponseSchema: &ember.ResponseSchema{
			Name:   "shape",
			Schema: json.RawMessage(`{"type":"object"}`),
		},
	}
	body := BuildBody(req, "m")

	if body.ResponseFormat == nil || body.ResponseFormat.Type != "json_schema" {
		t.Fatalf("response format = %+v", body.ResponseFormat)
	}
	if body.ResponseFormat.JSONSchema.Name != "shape" || !body.ResponseFormat.JSONSchema.Strict {
		t.Errorf("json schema = %+v", body.ResponseFormat.JSONSchema)
	}
}

func TestBuildBodyGenerationParams(t *testing.T) {
	temp := 0.2
	req := ember.ChatRequest{Temperature: &temp, MaxTokens: 512, ToolChoice: "auto"}
	body := BuildBody(req, "m", WithSeed(7))

	if body.Temperature == nil || *body.Temperature != 0.2 {
		t.Error("temperature not applied")
	}
	if body.MaxTokens != 512 {
		t.Error("max tokens not applied")
	}
	if body.ToolChoice != "auto" {
		t.Error("tool choice not applied")
	}
	if body.Seed == nil || *body.Seed != 7 {
		t.Error("request option not applied")
	}
}
