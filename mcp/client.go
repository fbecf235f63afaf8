package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// clientVersion is reported in the initialize handshake.
const clientVersion = "0.3.0"

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and in the fallback description of
	// its adapted tools; adapted tool names carry no server prefix.
	Name string
	// Command + Args + Env select the stdio transport.
	Command string
	Args    []string
	Env     []string // "K=V" pairs
	// BaseURL selects the HTTP transport instead.
	BaseURL string
	// Headers are attached to every HTTP request (e.g. Authorization).
	Headers map[string]string
}

// Stdio builds a stdio server config.
func Stdio(name, command string, args ...string) ServerConfig {
	return ServerConfig{Name: name, Command: command, Args: args}
}

// HTTP builds an HTTP server config.
func HTTP(name, baseURL string) ServerConfig {
	return ServerConfig{Name: name, BaseURL: baseURL}
}

// Client manages the lifecycle against one MCP server:
// connect → initialize → discover tools → call tools.
type Client struct {
	transport  Transport
	serverName string
	tools      []ToolInfo
	logger     *slog.Logger
}

// ClientOption configures Connect.
type ClientOption func(*Client)

// WithLogger sets a structured logger for handshake and call events.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Connect establishes the transport, performs the initialize handshake,
// sends notifications/initialized, and discovers the server's tools.
func Connect(ctx context.Context, cfg ServerConfig, opts ...ClientOption) (*Client, error) {
	var transport Transport
	var err error
	switch {
	case cfg.Command != "":
		transport, err = NewStdioTransport(cfg.Command, cfg.Args, cfg.Env)
	case cfg.BaseURL != "":
		transport = NewHTTPTransport(cfg.BaseURL, cfg.Headers)
	default:
		return nil, &Error{Kind: ErrConnection, Message: "server config needs a command or a base URL"}
	}
	if err != nil {
		return nil, err
	}
	return NewClient(ctx, transport, cfg.Name, opts...)
}

// NewClient runs the MCP lifecycle over an existing transport: initialize
// handshake, initialized notification, tool discovery. The transport is
// closed on handshake failure.
func NewClient(ctx context.Context, transport Transport, serverName string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		transport:  transport,
		serverName: serverName,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.initialize(ctx); err != nil {
		transport.Close()
		return nil, err
	}
	if err := c.discoverTools(ctx); err != nil {
		transport.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "ember", Version: clientVersion},
	})
	if err != nil {
		return &Error{Kind: ErrInit, Message: err.Error(), Err: err}
	}

	var init InitializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return &Error{Kind: ErrInit, Message: "decode initialize result: " + err.Error(), Err: err}
	}
	c.logger.Info("mcp connected", "server", c.serverName, "protocol", init.ProtocolVersion)
	if init.ServerInfo != nil {
		c.logger.Debug("mcp server info", "name", init.ServerInfo.Name, "version", init.ServerInfo.Version)
	}

	// The handshake completes with the initialized notification.
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		return &Error{Kind: ErrInit, Message: "initialized notification: " + err.Error(), Err: err}
	}
	return nil
}

// discoverTools pages through tools/list until nextCursor runs dry.
func (c *Client) discoverTools(ctx context.Context) error {
	var all []ToolInfo
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = toolsListParams{Cursor: cursor}
		}
		result, err := c.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return &Error{Kind: ErrProtocol, Message: "tools/list: " + err.Error(), Err: err}
		}
		var page toolsListResult
		if err := json.Unmarshal(result, &page); err != nil {
			return &Error{Kind: ErrProtocol, Message: "decode tools/list: " + err.Error(), Err: err}
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	c.tools = all
	c.logger.Info("mcp tools discovered", "server", c.serverName, "count", len(all))
	return nil
}

// ServerName returns the configured server name.
func (c *Client) ServerName() string { return c.serverName }

// Tools returns the discovered tool descriptions.
func (c *Client) Tools() []ToolInfo {
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a remote tool and renders its text content. A result
// flagged isError surfaces as an *Error of kind tool call.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	result, err := c.transport.Call(ctx, "tools/call", toolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return "", &Error{Kind: ErrToolCall, Message: fmt.Sprintf("%s: %v", name, err), Err: err}
	}

	var call CallToolResult
	if err := json.Unmarshal(result, &call); err != nil {
		return "", &Error{Kind: ErrProtocol, Message: "decode tools/call result: " + err.Error(), Err: err}
	}

	var parts []string
	for _, block := range call.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if call.IsError {
		return "", &Error{Kind: ErrToolCall, Message: fmt.Sprintf("%s: %s", name, text)}
	}
	return text, nil
}

// Close shuts the transport down.
func (c *Client) Close() error { return c.transport.Close() }
