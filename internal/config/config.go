// Package config loads and validates the sidekick configuration file.
// Files may be JSON, JSON5 or YAML; ${ENV} references are expanded and
// $include directives are merged before decoding.
package config

import (
	"fmt"
	"strings"
)

// Protocol is the wire dialect an endpoint speaks.
type Protocol string

const (
	ProtocolAnthropic Protocol = "anthropic"
	ProtocolOpenAI    Protocol = "openai"
	ProtocolGemini    Protocol = "gemini"
)

// EndpointConfig describes one LLM endpoint record.
type EndpointConfig struct {
	Name             string   `yaml:"name"`
	Provider         string   `yaml:"provider"`
	Protocol         Protocol `yaml:"protocol"`
	BaseURL          string   `yaml:"base_url"`
	APIKey           string   `yaml:"api_key"`
	Model            string   `yaml:"model"`
	Priority         int      `yaml:"priority"` // lower = preferred
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	Capabilities     []string `yaml:"capabilities"`
	MaxContextTokens int      `yaml:"max_context_tokens"`
}

// Settings are the client-wide retry knobs.
type Settings struct {
	RetryCount        int     `yaml:"retry_count"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
	FallbackOnError   bool    `yaml:"fallback_on_error"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxIterations       int `yaml:"max_iterations"`
	MaxConsecutiveEmpty int `yaml:"max_consecutive_empty"`
	ToolParallelism     int `yaml:"tool_parallelism"`
	ToolTimeoutSeconds  int `yaml:"tool_timeout_seconds"`
	LoopWindow          int `yaml:"loop_window"`
	LoopRepeatThreshold int `yaml:"loop_repeat_threshold"`
	MaxToolResultBytes  int `yaml:"max_tool_result_bytes"`
}

// PromptConfig carries the section token budgets and prompt sources.
type PromptConfig struct {
	TotalBudget    int    `yaml:"total_budget"`
	IdentityBudget int    `yaml:"identity_budget"`
	CatalogBudget  int    `yaml:"catalog_budget"`
	UserBudget     int    `yaml:"user_budget"`
	MemoryBudget   int    `yaml:"memory_budget"`
	IdentityFile   string `yaml:"identity_file"`
	BehavioursFile string `yaml:"behaviours_file"`
}

// MemoryConfig configures the memory store and retriever.
type MemoryConfig struct {
	Path           string `yaml:"path"`      // entry store (JSON snapshot)
	CoreFile       string `yaml:"core_file"` // MEMORY.md-style core memory
	CoreFileCap    int    `yaml:"core_file_cap"`
	VectorEnabled  bool   `yaml:"vector_enabled"`
	VectorPath     string `yaml:"vector_path"`
	EmbeddingBase  string `yaml:"embedding_base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingKey   string `yaml:"embedding_api_key"`
}

// SessionsConfig selects the session store backend.
type SessionsConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "sqlite"
	Path       string `yaml:"path"`
	ExpireDays int    `yaml:"expire_days"`
}

// SchedulerConfig configures the deterministic task scheduler.
type SchedulerConfig struct {
	TasksFile string `yaml:"tasks_file"`
	Timezone  string `yaml:"timezone"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	LogLevel     string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat    string `yaml:"log_format"` // text or json
	MetricsAddr  string `yaml:"metrics_addr"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	TraceEnabled bool   `yaml:"trace_enabled"`
}

// ToolsConfig configures the builtin tools.
type ToolsConfig struct {
	// SearxURL is the SearXNG instance backing web_search; empty disables
	// the tool.
	SearxURL string `yaml:"searx_url"`
	// ShellDir is the working directory for run_shell commands.
	ShellDir string `yaml:"shell_dir"`
}

// NetworkConfig applies globally to outbound HTTP.
type NetworkConfig struct {
	ProxyURL string `yaml:"proxy_url"`
	IPv4Only bool   `yaml:"ipv4_only"`
}

// Config is the root configuration document. Absent sections default to
// empty; Load applies defaults afterwards.
type Config struct {
	Endpoints         []EndpointConfig `yaml:"endpoints"`
	CompilerEndpoints []EndpointConfig `yaml:"compiler_endpoints"`
	STTEndpoints      []EndpointConfig `yaml:"stt_endpoints"`

	Settings      Settings            `yaml:"settings"`
	Agent         AgentConfig         `yaml:"agent"`
	Prompt        PromptConfig        `yaml:"prompt"`
	Memory        MemoryConfig        `yaml:"memory"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Observability ObservabilityConfig `yaml:"observability"`
	Network       NetworkConfig       `yaml:"network"`
	Tools         ToolsConfig         `yaml:"tools"`

	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes a remote MCP server whose tools are bridged
// into the registry under the "mcp:" prefix.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`     // streamable HTTP endpoint
	Command string            `yaml:"command"` // or a stdio command
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Headers map[string]string `yaml:"headers"`
}

// Load reads, merges and decodes the configuration at path, then applies
// defaults and validates.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Settings.RetryCount == 0 {
		c.Settings.RetryCount = 3
	}
	if c.Settings.RetryDelaySeconds == 0 {
		c.Settings.RetryDelaySeconds = 1
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 100
	}
	if c.Agent.MaxConsecutiveEmpty == 0 {
		c.Agent.MaxConsecutiveEmpty = 3
	}
	if c.Agent.ToolParallelism == 0 {
		c.Agent.ToolParallelism = 1
	}
	if c.Agent.ToolTimeoutSeconds == 0 {
		c.Agent.ToolTimeoutSeconds = 120
	}
	if c.Agent.LoopWindow == 0 {
		c.Agent.LoopWindow = 8
	}
	if c.Agent.LoopRepeatThreshold == 0 {
		c.Agent.LoopRepeatThreshold = 3
	}
	if c.Agent.MaxToolResultBytes == 0 {
		c.Agent.MaxToolResultBytes = 200 * 1024
	}

	if c.Prompt.TotalBudget == 0 {
		c.Prompt.TotalBudget = 16000
	}
	if c.Prompt.IdentityBudget == 0 {
		c.Prompt.IdentityBudget = 1600
	}
	if c.Prompt.CatalogBudget == 0 {
		c.Prompt.CatalogBudget = 12000
	}
	if c.Prompt.UserBudget == 0 {
		c.Prompt.UserBudget = 300
	}
	if c.Prompt.MemoryBudget == 0 {
		c.Prompt.MemoryBudget = 1500
	}

	if c.Memory.CoreFileCap == 0 {
		c.Memory.CoreFileCap = 4000
	}

	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "memory"
	}
	if c.Sessions.ExpireDays == 0 {
		c.Sessions.ExpireDays = 30
	}

	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "text"
	}

	for i := range c.Endpoints {
		applyEndpointDefaults(&c.Endpoints[i])
	}
	for i := range c.CompilerEndpoints {
		applyEndpointDefaults(&c.CompilerEndpoints[i])
	}
	for i := range c.STTEndpoints {
		applyEndpointDefaults(&c.STTEndpoints[i])
	}
}

func applyEndpointDefaults(ep *EndpointConfig) {
	if ep.TimeoutSeconds == 0 {
		ep.TimeoutSeconds = 120
	}
	if ep.MaxContextTokens == 0 {
		ep.MaxContextTokens = 128000
	}
	if len(ep.Capabilities) == 0 {
		ep.Capabilities = []string{"text"}
	}
}

// Validate rejects configs that cannot work at runtime.
func (c *Config) Validate() error {
	names := map[string]bool{}
	for _, ep := range c.Endpoints {
		if err := validateEndpoint(ep); err != nil {
			return err
		}
		if names[ep.Name] {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		names[ep.Name] = true
	}
	for _, ep := range c.CompilerEndpoints {
		if err := validateEndpoint(ep); err != nil {
			return err
		}
	}
	for _, ep := range c.STTEndpoints {
		if err := validateEndpoint(ep); err != nil {
			return err
		}
	}
	switch c.Sessions.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}
	return nil
}

func validateEndpoint(ep EndpointConfig) error {
	if strings.TrimSpace(ep.Name) == "" {
		return fmt.Errorf("endpoint name is required")
	}
	switch ep.Protocol {
	case ProtocolAnthropic, ProtocolOpenAI, ProtocolGemini:
	default:
		return fmt.Errorf("endpoint %q: unknown protocol %q", ep.Name, ep.Protocol)
	}
	if strings.TrimSpace(ep.Model) == "" {
		return fmt.Errorf("endpoint %q: model is required", ep.Name)
	}
	return nil
}
