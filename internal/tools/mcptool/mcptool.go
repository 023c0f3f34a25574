// Package mcptool bridges remote MCP (Model Context Protocol) servers
// into the tool registry. Bridged tools are exposed under "mcp:<server>_<tool>".
//
// Transport support:
//   - stdio: subprocess servers via the mcp-go client
//   - http: JSON-RPC POST to the server URL
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/tools"
)

const (
	protocolVersion = "2024-11-05"
	httpTimeout     = 30 * time.Second
)

// Bridge owns the connection to one MCP server and wraps its tools.
type Bridge struct {
	cfg config.MCPServerConfig

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *http.Client
	connected  bool
	tools      []tools.Tool
}

// New creates a bridge for one configured server.
func New(cfg config.MCPServerConfig) (*Bridge, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp server name required")
	}
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %s: url or command required", cfg.Name)
	}
	return &Bridge{cfg: cfg}, nil
}

// Tools connects lazily and returns the server's bridged tools.
func (b *Bridge) Tools(ctx context.Context) ([]tools.Tool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		if err := b.connect(ctx); err != nil {
			return nil, fmt.Errorf("connect mcp server %s: %w", b.cfg.Name, err)
		}
	}
	return b.tools, nil
}

// Close shuts down the server connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.tools = nil
	if b.stdio != nil {
		err := b.stdio.Close()
		b.stdio = nil
		return err
	}
	b.httpClient = nil
	return nil
}

func (b *Bridge) connect(ctx context.Context) error {
	if b.cfg.Command != "" {
		return b.connectStdio(ctx)
	}
	return b.connectHTTP(ctx)
}

func (b *Bridge) connectStdio(ctx context.Context) error {
	env := make([]string, 0, len(b.cfg.Env))
	for k, v := range b.cfg.Env {
		env = append(env, k+"="+v)
	}
	mcpClient, err := client.NewStdioMCPClient(b.cfg.Command, env, b.cfg.Args...)
	if err != nil {
		return fmt.Errorf("start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "sidekick", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var bridged []tools.Tool
	for _, t := range listResp.Tools {
		bridged = append(bridged, &bridgedTool{
			bridge:   b,
			toolName: t.Name,
			name:     BridgedName(b.cfg.Name, t.Name),
			desc:     t.Description,
			schema:   marshalSchema(t.InputSchema),
			stdio:    true,
		})
	}
	b.stdio = mcpClient
	b.tools = bridged
	b.connected = true
	slog.Info("connected to mcp server",
		"server", b.cfg.Name, "transport", "stdio", "tools", len(bridged))
	return nil
}

func (b *Bridge) connectHTTP(ctx context.Context) error {
	b.httpClient = &http.Client{Timeout: httpTimeout}

	initResp, err := b.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": "sidekick", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("initialize: %s", initResp.Error.Message)
	}

	listResp, err := b.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("list tools: %s", listResp.Error.Message)
	}
	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(listResp.Result, &result); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}

	var bridged []tools.Tool
	for _, t := range result.Tools {
		bridged = append(bridged, &bridgedTool{
			bridge:   b,
			toolName: t.Name,
			name:     BridgedName(b.cfg.Name, t.Name),
			desc:     t.Description,
			schema:   t.InputSchema,
		})
	}
	b.tools = bridged
	b.connected = true
	slog.Info("connected to mcp server",
		"server", b.cfg.Name, "transport", "http", "url", b.cfg.URL, "tools", len(bridged))
	return nil
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (b *Bridge) rpc(ctx context.Context, method string, params any) (*rpcResponse, error) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, body)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// bridgedTool adapts one remote MCP tool to the registry interface.
type bridgedTool struct {
	bridge   *Bridge
	toolName string
	name     string
	desc     string
	schema   json.RawMessage
	stdio    bool
}

func (t *bridgedTool) Name() string { return t.name }

func (t *bridgedTool) Description() string {
	desc := strings.TrimSpace(t.desc)
	if desc == "" {
		return fmt.Sprintf("MCP tool %s.%s", t.bridge.cfg.Name, t.toolName)
	}
	return fmt.Sprintf("MCP tool %s.%s: %s", t.bridge.cfg.Name, t.toolName, desc)
}

func (t *bridgedTool) Schema() json.RawMessage {
	if len(t.schema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.schema
}

func (t *bridgedTool) Execute(ctx context.Context, params json.RawMessage) (*tools.ToolResult, error) {
	var args map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return tools.NewToolError(tools.ErrValidation, t.name, err.Error()).Result(), nil
		}
	}
	if t.stdio {
		return t.callStdio(ctx, args)
	}
	return t.callHTTP(ctx, args)
}

func (t *bridgedTool) callStdio(ctx context.Context, args map[string]any) (*tools.ToolResult, error) {
	t.bridge.mu.Lock()
	mcpClient := t.bridge.stdio
	t.bridge.mu.Unlock()
	if mcpClient == nil {
		return tools.NewToolError(tools.ErrDependency, t.name, "mcp server not connected").Result(), nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.toolName
	req.Params.Arguments = args
	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return tools.NewToolError(tools.ErrTransient, t.name, err.Error()).
			WithRetry("retry once the mcp server is reachable").Result(), nil
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	return &tools.ToolResult{Content: strings.Join(texts, "\n"), IsError: resp.IsError}, nil
}

func (t *bridgedTool) callHTTP(ctx context.Context, args map[string]any) (*tools.ToolResult, error) {
	resp, err := t.bridge.rpc(ctx, "tools/call", map[string]any{
		"name":      t.toolName,
		"arguments": args,
	})
	if err != nil {
		return tools.NewToolError(tools.ErrTransient, t.name, err.Error()).
			WithRetry("retry once the mcp server is reachable").Result(), nil
	}
	if resp.Error != nil {
		return tools.NewToolError(tools.ErrDependency, t.name, resp.Error.Message).Result(), nil
	}
	var result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return tools.NewToolError(tools.ErrDependency, t.name, "parse result: "+err.Error()).Result(), nil
	}
	var texts []string
	for _, c := range result.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	return &tools.ToolResult{Content: strings.Join(texts, "\n"), IsError: result.IsError}, nil
}

// BridgedName builds the registry name for a remote tool.
func BridgedName(server, tool string) string {
	return "mcp:" + sanitize(server) + "_" + sanitize(tool)
}

func sanitize(value string) string {
	var sb strings.Builder
	underscore := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(unicode.ToLower(r))
			underscore = false
		default:
			if !underscore {
				sb.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(sb.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

func marshalSchema(schema mcp.ToolInputSchema) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
