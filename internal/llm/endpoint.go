package llm

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
)

// Endpoint is the runtime form of a configured LLM endpoint. The health
// flag is writer-wins: any failing attempt may clear it without locking.
type Endpoint struct {
	Name             string
	Provider         string
	Protocol         config.Protocol
	BaseURL          string
	APIKey           string
	Model            string
	Priority         int
	Timeout          time.Duration
	Capabilities     CapabilitySet
	MaxContextTokens int

	// HTTPClient carries the global proxy/IPv4 policy into the dialect.
	HTTPClient *http.Client

	healthy atomic.Bool
}

// NewEndpoint builds an Endpoint from its config record. Endpoints start
// healthy.
func NewEndpoint(cfg config.EndpointConfig, httpClient *http.Client) *Endpoint {
	ep := &Endpoint{
		Name:             cfg.Name,
		Provider:         cfg.Provider,
		Protocol:         cfg.Protocol,
		BaseURL:          cfg.BaseURL,
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Priority:         cfg.Priority,
		Timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
		Capabilities:     NewCapabilitySet(cfg.Capabilities),
		MaxContextTokens: cfg.MaxContextTokens,
		HTTPClient:       httpClient,
	}
	ep.healthy.Store(true)
	return ep
}

// Healthy reports the endpoint's health flag.
func (e *Endpoint) Healthy() bool { return e.healthy.Load() }

// MarkUnhealthy clears the health flag for the process lifetime. Used on
// authentication failures, which will not heal on retry.
func (e *Endpoint) MarkUnhealthy() { e.healthy.Store(false) }
