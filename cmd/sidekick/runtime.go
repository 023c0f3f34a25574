package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/haasonsaas/sidekick/internal/agent"
	"github.com/haasonsaas/sidekick/internal/compaction"
	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/llm"
	"github.com/haasonsaas/sidekick/internal/llm/providers"
	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/internal/prompt"
	"github.com/haasonsaas/sidekick/internal/scheduler"
	"github.com/haasonsaas/sidekick/internal/sessions"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/internal/tools/files"
	"github.com/haasonsaas/sidekick/internal/tools/mcptool"
	"github.com/haasonsaas/sidekick/internal/tools/memorytool"
	"github.com/haasonsaas/sidekick/internal/tools/schedtool"
	"github.com/haasonsaas/sidekick/internal/tools/shell"
	"github.com/haasonsaas/sidekick/internal/tools/websearch"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// defaultSessionKey is the session scheduled tasks and the terminal chat
// attach to when no channel adapter supplies one.
var defaultSessionKey = models.SessionKey{Channel: "cli", ChatID: "local", UserID: "local"}

// runtime holds the assembled agent stack shared by serve and chat.
type runtime struct {
	cfg        *config.Config
	httpClient *http.Client
	pools      *llm.Pools
	store      sessions.Store
	memory     *memory.Service
	registry   *tools.Registry
	engine     *agent.Engine
	scheduler  *scheduler.Scheduler
	bridges    []*mcptool.Bridge

	traceShutdown func(context.Context) error
}

// buildRuntime wires the full stack from the config: endpoint pools,
// session store, memory, tool registry, prompt assembler, compaction,
// the agent engine and the scheduler.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	observability.InitLogging(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	traceShutdown := func(context.Context) error { return nil }
	if cfg.Observability.TraceEnabled {
		shutdown, err := observability.InitTracing(ctx, "sidekick", version, cfg.Observability.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		traceShutdown = shutdown
	}

	httpClient, err := llm.NewHTTPClient(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	pools := llm.NewPools(cfg, providers.Dialects(), httpClient)
	if pools.Chat == nil {
		return nil, fmt.Errorf("at least one chat endpoint is required")
	}

	store, err := sessions.Open(cfg.Sessions.Backend, cfg.Sessions.Path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	memSvc, err := memory.NewService(cfg.Memory)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	registry := tools.NewRegistry()
	assembler := prompt.NewAssembler(cfg.Prompt, memSvc, registry)
	compactor := compaction.NewManager(compaction.NewLLMSummarizer(pools.Compiler), 0, 0)

	engine := agent.NewEngine(cfg.Agent, pools.Chat, registry, store, assembler, compactor,
		agent.WithContextWindow(largestContextWindow(cfg.Endpoints)))

	sched, err := scheduler.New(cfg.Scheduler, engine)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	rt := &runtime{
		cfg:           cfg,
		httpClient:    httpClient,
		pools:         pools,
		store:         store,
		memory:        memSvc,
		registry:      registry,
		engine:        engine,
		scheduler:     sched,
		traceShutdown: traceShutdown,
	}
	if err := rt.registerTools(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

// registerTools populates the registry: builtins in the direct set,
// scheduler management and bridged MCP tools in the catalog.
func (rt *runtime) registerTools(ctx context.Context) error {
	direct := []tools.Tool{
		&files.ReadTool{},
		&files.WriteTool{},
		&shell.Tool{Dir: rt.cfg.Tools.ShellDir},
		&memorytool.RememberTool{Memory: rt.memory},
		&memorytool.SearchTool{Memory: rt.memory},
		&memorytool.ForgetTool{Memory: rt.memory},
	}
	if rt.cfg.Tools.SearxURL != "" {
		direct = append(direct, websearch.NewTool(&websearch.SearXNGBackend{
			BaseURL:    rt.cfg.Tools.SearxURL,
			HTTPClient: rt.httpClient,
		}))
	}
	for _, t := range direct {
		if err := rt.registry.RegisterDirect(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}

	catalog := []tools.Tool{
		&schedtool.CreateTool{Scheduler: rt.scheduler, SessionKey: defaultSessionKey.String()},
		&schedtool.ListTool{Scheduler: rt.scheduler},
		&schedtool.CancelTool{Scheduler: rt.scheduler},
	}
	for _, t := range catalog {
		if err := rt.registry.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name(), err)
		}
	}

	// MCP servers that are down at startup are skipped with a warning;
	// a restart or config reload picks them up again.
	for _, sc := range rt.cfg.MCPServers {
		bridge, err := mcptool.New(sc)
		if err != nil {
			return fmt.Errorf("mcp server %q: %w", sc.Name, err)
		}
		bridged, err := bridge.Tools(ctx)
		if err != nil {
			slog.Warn("mcp server unavailable, skipping", "server", sc.Name, "error", err)
			bridge.Close()
			continue
		}
		for _, t := range bridged {
			if err := rt.registry.Register(t); err != nil {
				slog.Warn("mcp tool not registered", "server", sc.Name, "tool", t.Name(), "error", err)
			}
		}
		rt.bridges = append(rt.bridges, bridge)
		slog.Info("mcp server bridged", "server", sc.Name, "tools", len(bridged))
	}
	return nil
}

// reload swaps the endpoint pools in place after a config file change.
// Tool, prompt and scheduler settings need a restart.
func (rt *runtime) reload(cfg *config.Config) {
	httpClient, err := llm.NewHTTPClient(cfg.Network)
	if err != nil {
		slog.Warn("config reload: bad network settings, keeping previous", "error", err)
		httpClient = rt.httpClient
	}
	swap := func(client *llm.Client, records []config.EndpointConfig) {
		if client == nil || len(records) == 0 {
			return
		}
		eps := make([]*llm.Endpoint, 0, len(records))
		for _, rec := range records {
			eps = append(eps, llm.NewEndpoint(rec, httpClient))
		}
		client.SwapEndpoints(eps)
	}
	swap(rt.pools.Chat, cfg.Endpoints)
	swap(rt.pools.Compiler, cfg.CompilerEndpoints)
	swap(rt.pools.STT, cfg.STTEndpoints)
	slog.Info("endpoint pools reloaded",
		"chat", len(cfg.Endpoints),
		"compiler", len(cfg.CompilerEndpoints),
		"stt", len(cfg.STTEndpoints))
}

// Close releases the runtime's resources in reverse dependency order.
func (rt *runtime) Close(ctx context.Context) {
	for _, bridge := range rt.bridges {
		bridge.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Warn("session store close failed", "error", err)
		}
	}
	if rt.traceShutdown != nil {
		if err := rt.traceShutdown(ctx); err != nil {
			slog.Warn("trace exporter shutdown failed", "error", err)
		}
	}
}

func largestContextWindow(endpoints []config.EndpointConfig) int {
	window := 0
	for _, ep := range endpoints {
		if ep.MaxContextTokens > window {
			window = ep.MaxContextTokens
		}
	}
	return window
}
