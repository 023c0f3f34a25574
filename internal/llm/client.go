package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// Client routes chat requests across a prioritised endpoint list. The list
// is swappable at runtime; in-flight requests keep the endpoints they
// started with.
type Client struct {
	endpoints atomic.Pointer[[]*Endpoint]
	dialects  map[config.Protocol]Dialect

	retryCount int
	retryDelay time.Duration

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a Client over the given endpoints. Dialects map wire
// protocols to their implementations.
func NewClient(endpoints []*Endpoint, dialects map[config.Protocol]Dialect, settings config.Settings) *Client {
	c := &Client{
		dialects:   dialects,
		retryCount: settings.RetryCount,
		retryDelay: time.Duration(settings.RetryDelaySeconds * float64(time.Second)),
		sleep:      sleepCtx,
	}
	c.SwapEndpoints(endpoints)
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SwapEndpoints atomically replaces the endpoint list. Used by config hot
// reload.
func (c *Client) SwapEndpoints(endpoints []*Endpoint) {
	list := make([]*Endpoint, len(endpoints))
	copy(list, endpoints)
	c.endpoints.Store(&list)
}

// Endpoints returns a snapshot of the current endpoint list.
func (c *Client) Endpoints() []*Endpoint {
	if p := c.endpoints.Load(); p != nil {
		return *p
	}
	return nil
}

// eligible filters and orders endpoints for the required capabilities.
func eligible(list []*Endpoint, required CapabilitySet, avoid []string) []*Endpoint {
	avoided := map[string]bool{}
	for _, name := range avoid {
		avoided[name] = true
	}
	var out []*Endpoint
	for _, ep := range list {
		if !ep.Healthy() || avoided[ep.Name] {
			continue
		}
		if !ep.Capabilities.Contains(required) {
			continue
		}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// plan selects the candidate endpoints for a request, soft-degrading media
// capabilities that no healthy endpoint can satisfy. It returns the
// candidates and the (possibly stripped) messages to send.
func (c *Client) plan(req *Request) ([]*Endpoint, []*models.Message, error) {
	list := c.Endpoints()
	required := RequiredCapabilities(req)

	candidates := eligible(list, required, req.Avoid)
	if len(candidates) > 0 {
		return candidates, req.Messages, nil
	}

	// Soft degrade: strip media capabilities nothing healthy supports.
	strip := CapabilitySet{}
	for _, mc := range mediaCaps {
		if !required[mc] {
			continue
		}
		reduced := required.Clone()
		delete(reduced, mc)
		if len(eligible(list, reduced, req.Avoid)) > 0 {
			strip[mc] = true
			required = reduced
		}
	}
	if len(strip) == 0 {
		return nil, nil, ErrNoCapableEndpoint
	}
	candidates = eligible(list, required, req.Avoid)
	if len(candidates) == 0 {
		return nil, nil, ErrNoCapableEndpoint
	}
	slog.Warn("soft-degrading request: stripping unsupported media blocks",
		"stripped", strip.Slugs())
	return candidates, StripUnsupported(req.Messages, strip), nil
}

// Chat sends the request to the best eligible endpoint, failing over on
// classified errors. stream may be nil.
func (c *Client) Chat(ctx context.Context, req *Request, stream StreamFunc) (*Response, error) {
	candidates, messages, err := c.plan(req)
	if err != nil {
		return nil, err
	}

	attempt := *req
	attempt.Messages = messages

	var lastErr error
	for _, ep := range candidates {
		resp, err := c.attemptEndpoint(ctx, ep, &attempt, stream)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		kind := Classify(err)
		observability.EndpointFailovers.WithLabelValues(ep.Name, string(kind)).Inc()
		if kind.MarksUnhealthy() {
			ep.MarkUnhealthy()
			slog.Warn("endpoint marked unhealthy", "endpoint", ep.Name, "kind", kind)
		}
		slog.Warn("endpoint attempt failed, falling through",
			"endpoint", ep.Name, "kind", kind, "error", err)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: last error: %v", ErrAllEndpointsFailed, lastErr)
	}
	return nil, ErrAllEndpointsFailed
}

// attemptEndpoint runs the per-endpoint retry policy: rate limits back off
// and retry up to retryCount times, timeouts retry once, everything else
// fails immediately.
func (c *Client) attemptEndpoint(ctx context.Context, ep *Endpoint, req *Request, stream StreamFunc) (*Response, error) {
	dialect, ok := c.dialects[ep.Protocol]
	if !ok {
		return nil, &EndpointError{Kind: FailureBadRequest, Endpoint: ep.Name, Message: fmt.Sprintf("no dialect for protocol %q", ep.Protocol)}
	}

	timeoutRetried := false
	for try := 0; ; try++ {
		resp, err := c.once(ctx, dialect, ep, req, stream)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		switch kind := Classify(err); kind {
		case FailureRateLimit:
			if try >= c.retryCount {
				return nil, err
			}
			delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(try)))
			slog.Debug("rate limited, backing off", "endpoint", ep.Name, "delay", delay)
			if serr := c.sleep(ctx, delay); serr != nil {
				return nil, err
			}
		case FailureTimeout:
			if timeoutRetried {
				return nil, err
			}
			timeoutRetried = true
		case FailureServer:
			if try >= 1 {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

// once performs a single wire call, collecting the chunk stream into a
// Response and forwarding deltas.
func (c *Client) once(ctx context.Context, dialect Dialect, ep *Endpoint, req *Request, stream StreamFunc) (*Response, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if ep.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	ctx, span := observability.StartSpan(callCtx, "llm.chat",
		"endpoint", ep.Name, "model", ep.Model)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.LLMRequestDuration.WithLabelValues(ep.Name, ep.Model).
			Observe(time.Since(start).Seconds())
	}()

	chunks, err := dialect.Complete(ctx, ep, req)
	if err != nil {
		return nil, err
	}

	var (
		text     strings.Builder
		thinking strings.Builder
		blocks   models.BlockList
		usage    models.Usage
	)
	flushText := func() {
		if text.Len() > 0 {
			blocks = append(blocks, models.TextBlock{Text: text.String()})
			text.Reset()
		}
	}
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if stream != nil {
			stream(chunk)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
		}
		if chunk.ToolCall != nil {
			flushText()
			blocks = append(blocks, models.ToolUseBlock{
				ID:    chunk.ToolCall.ID,
				Name:  chunk.ToolCall.Name,
				Input: chunk.ToolCall.Input,
			})
		}
		if chunk.InputTokens > 0 {
			usage.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			usage.OutputTokens = chunk.OutputTokens
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flushText()

	msg := models.NewAssistantText("")
	msg.Blocks = blocks
	return &Response{
		Message:  msg,
		Thinking: thinking.String(),
		Usage:    usage,
		Endpoint: ep.Name,
	}, nil
}

// Pools groups the named endpoint pools from the config file. The compiler
// pool serves summarisation; it falls back to the main pool when absent.
type Pools struct {
	Chat     *Client
	Compiler *Client
	STT      *Client
}

// NewPools builds clients for each configured pool sharing one dialect map.
func NewPools(cfg *config.Config, dialects map[config.Protocol]Dialect, httpClient *http.Client) *Pools {
	build := func(records []config.EndpointConfig) *Client {
		if len(records) == 0 {
			return nil
		}
		eps := make([]*Endpoint, 0, len(records))
		for _, rec := range records {
			eps = append(eps, NewEndpoint(rec, httpClient))
		}
		return NewClient(eps, dialects, cfg.Settings)
	}
	pools := &Pools{
		Chat:     build(cfg.Endpoints),
		Compiler: build(cfg.CompilerEndpoints),
		STT:      build(cfg.STTEndpoints),
	}
	if pools.Compiler == nil {
		pools.Compiler = pools.Chat
	}
	return pools
}
