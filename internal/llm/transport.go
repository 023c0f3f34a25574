package llm

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
)

// NewHTTPClient builds the shared outbound HTTP client, applying the
// global proxy and IPv4-only policy uniformly across all endpoints.
// Per-request deadlines come from endpoint timeouts, so the client itself
// carries none.
func NewHTTPClient(cfg config.NetworkConfig) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	network := "tcp"
	if cfg.IPv4Only {
		network = "tcp4"
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{Transport: transport}, nil
}
