package mcptool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/config"
)

func TestBridgedName(t *testing.T) {
	cases := []struct {
		server, tool, want string
	}{
		{"github", "create_issue", "mcp:github_create_issue"},
		{"My Server!", "Do Thing", "mcp:my_server_do_thing"},
		{"", "", "mcp:tool_tool"},
	}
	for _, tc := range cases {
		if got := BridgedName(tc.server, tc.tool); got != tc.want {
			t.Errorf("BridgedName(%q, %q) = %q, want %q", tc.server, tc.tool, got, tc.want)
		}
	}
}

func TestHTTPBridgeListsAndCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		switch req.Method {
		case "initialize":
			writeRPC(w, map[string]any{"protocolVersion": "2024-11-05"})
		case "tools/list":
			writeRPC(w, map[string]any{
				"tools": []map[string]any{{
					"name":        "get_weather",
					"description": "Look up weather",
					"inputSchema": map[string]any{"type": "object"},
				}},
			})
		case "tools/call":
			if req.Params["name"] != "get_weather" {
				t.Errorf("call name = %v", req.Params["name"])
			}
			writeRPC(w, map[string]any{
				"isError": false,
				"content": []map[string]any{
					{"type": "text", "text": "sunny"},
					{"type": "text", "text": "21C"},
				},
			})
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
	defer server.Close()

	bridge, err := New(config.MCPServerConfig{Name: "weather", URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	defer bridge.Close()

	bridged, err := bridge.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(bridged) != 1 {
		t.Fatalf("tools = %d, want 1", len(bridged))
	}
	tool := bridged[0]
	if tool.Name() != "mcp:weather_get_weather" {
		t.Fatalf("tool name = %s", tool.Name())
	}
	if !strings.Contains(tool.Description(), "Look up weather") {
		t.Fatalf("description = %s", tool.Description())
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"Berlin"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "sunny\n21C" {
		t.Fatalf("content = %q", result.Content)
	}
}

func TestHTTPBridgeUnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRPC(w, map[string]any{
			"tools": []map[string]any{{"name": "t", "inputSchema": map[string]any{"type": "object"}}},
		})
	}))

	bridge, err := New(config.MCPServerConfig{Name: "flaky", URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	bridged, err := bridge.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	server.Close()

	result, err := bridged[0].Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected error result after server shutdown")
	}
	if !strings.Contains(result.Content, "transient") {
		t.Fatalf("content = %s", result.Content)
	}
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(config.MCPServerConfig{Name: "bare"}); err == nil {
		t.Fatal("expected error for server without url or command")
	}
	if _, err := New(config.MCPServerConfig{URL: "http://x"}); err == nil {
		t.Fatal("expected error for server without name")
	}
}

func writeRPC(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
}
