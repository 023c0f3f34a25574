package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/internal/config"
	"github.com/haasonsaas/sidekick/internal/observability"
	"github.com/haasonsaas/sidekick/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// fakeDialect scripts per-endpoint behaviour for client tests.
type fakeDialect struct {
	// responses maps endpoint name to either an error or streamed text.
	fail    map[string]error
	text    map[string]string
	calls   []string
	lastReq *Request
}

func (f *fakeDialect) Protocol() string { return "fake" }

func (f *fakeDialect) Complete(_ context.Context, ep *Endpoint, req *Request) (<-chan *Chunk, error) {
	f.calls = append(f.calls, ep.Name)
	f.lastReq = req
	if err := f.fail[ep.Name]; err != nil {
		return nil, err
	}
	chunks := make(chan *Chunk, 4)
	chunks <- &Chunk{Text: f.text[ep.Name]}
	chunks <- &Chunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(chunks)
	return chunks, nil
}

func testEndpoint(name string, priority int, caps ...string) *Endpoint {
	if len(caps) == 0 {
		caps = []string{"text", "tools"}
	}
	ep := NewEndpoint(config.EndpointConfig{
		Name:           name,
		Protocol:       "openai",
		Model:          "test-model",
		Priority:       priority,
		TimeoutSeconds: 5,
		Capabilities:   caps,
	}, nil)
	return ep
}

func newTestClient(fake *fakeDialect, eps ...*Endpoint) *Client {
	c := NewClient(eps, map[config.Protocol]Dialect{"openai": fake}, config.Settings{
		RetryCount:        2,
		RetryDelaySeconds: 0.001,
	})
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func userText(text string) []*models.Message {
	return []*models.Message{{Role: models.RoleUser, Blocks: models.BlockList{models.TextBlock{Text: text}}}}
}

func TestChatPrefersLowestPriority(t *testing.T) {
	fake := &fakeDialect{text: map[string]string{"primary": "a", "secondary": "b"}}
	client := newTestClient(fake, testEndpoint("secondary", 1), testEndpoint("primary", 0))

	resp, err := client.Chat(context.Background(), &Request{Messages: userText("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Endpoint != "primary" {
		t.Errorf("endpoint = %q, want primary", resp.Endpoint)
	}
	if resp.Message.Text() != "a" {
		t.Errorf("text = %q", resp.Message.Text())
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatFailoverOnServerError(t *testing.T) {
	fake := &fakeDialect{
		fail: map[string]error{"primary": errors.New("internal server error")},
		text: map[string]string{"secondary": "answer"},
	}
	primary := testEndpoint("primary", 0)
	client := newTestClient(fake, primary, testEndpoint("secondary", 1))

	resp, err := client.Chat(context.Background(), &Request{Messages: userText("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Endpoint != "secondary" {
		t.Errorf("endpoint = %q, want secondary", resp.Endpoint)
	}
	// Server errors retry once on the same endpoint before falling through.
	if primary.Healthy() != true {
		t.Error("server error must not mark endpoint unhealthy")
	}
}

func TestChatAuthErrorMarksUnhealthy(t *testing.T) {
	fake := &fakeDialect{
		fail: map[string]error{"primary": errors.New("401 unauthorized: invalid api key")},
		text: map[string]string{"secondary": "ok"},
	}
	primary := testEndpoint("primary", 0)
	client := newTestClient(fake, primary, testEndpoint("secondary", 1))

	if _, err := client.Chat(context.Background(), &Request{Messages: userText("hi")}, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if primary.Healthy() {
		t.Error("auth failure should mark endpoint unhealthy")
	}

	// Next call must not touch the dead endpoint.
	fake.calls = nil
	if _, err := client.Chat(context.Background(), &Request{Messages: userText("again")}, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	for _, name := range fake.calls {
		if name == "primary" {
			t.Error("unhealthy endpoint was attempted")
		}
	}
}

func TestChatAllEndpointsFailed(t *testing.T) {
	fake := &fakeDialect{fail: map[string]error{
		"a": errors.New("bad request"),
		"b": errors.New("bad request"),
	}}
	client := newTestClient(fake, testEndpoint("a", 0), testEndpoint("b", 1))

	_, err := client.Chat(context.Background(), &Request{Messages: userText("hi")}, nil)
	if !errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("err = %v, want ErrAllEndpointsFailed", err)
	}
}

func TestChatRateLimitRetriesSameEndpoint(t *testing.T) {
	attempts := 0
	ep := testEndpoint("only", 0)
	client := NewClient([]*Endpoint{ep}, map[config.Protocol]Dialect{"openai": dialectFunc(func(_ context.Context, e *Endpoint, _ *Request) (<-chan *Chunk, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("429 rate limit exceeded")
		}
		chunks := make(chan *Chunk, 2)
		chunks <- &Chunk{Text: "finally"}
		chunks <- &Chunk{Done: true}
		close(chunks)
		return chunks, nil
	})}, config.Settings{RetryCount: 3, RetryDelaySeconds: 0.001})
	client.sleep = func(context.Context, time.Duration) error { return nil }

	resp, err := client.Chat(context.Background(), &Request{Messages: userText("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if resp.Message.Text() != "finally" {
		t.Errorf("text = %q", resp.Message.Text())
	}
}

type dialectFunc func(context.Context, *Endpoint, *Request) (<-chan *Chunk, error)

func (dialectFunc) Protocol() string { return "func" }
func (f dialectFunc) Complete(ctx context.Context, ep *Endpoint, req *Request) (<-chan *Chunk, error) {
	return f(ctx, ep, req)
}

func TestCapabilityFiltering(t *testing.T) {
	fake := &fakeDialect{text: map[string]string{"visionary": "i see"}}
	client := newTestClient(fake,
		testEndpoint("textonly", 0, "text", "tools"),
		testEndpoint("visionary", 1, "text", "tools", "vision"),
	)

	req := &Request{Messages: []*models.Message{{
		Role: models.RoleUser,
		Blocks: models.BlockList{
			models.TextBlock{Text: "what is this"},
			models.ImageBlock{Source: models.MediaSource{Kind: "url", URL: "https://x/i.png"}},
		},
	}}}
	resp, err := client.Chat(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Endpoint != "visionary" {
		t.Errorf("endpoint = %q, want visionary (capability match beats priority)", resp.Endpoint)
	}
}

func TestSoftDegradeVideo(t *testing.T) {
	fake := &fakeDialect{text: map[string]string{"visionary": "noted"}}
	client := newTestClient(fake,
		testEndpoint("visionary", 0, "text", "tools", "vision"),
	)

	req := &Request{Messages: []*models.Message{{
		Role: models.RoleUser,
		Blocks: models.BlockList{
			models.TextBlock{Text: "watch this"},
			models.VideoBlock{Source: models.MediaSource{Kind: "url", URL: "https://x/v.mp4"}},
		},
	}}}
	resp, err := client.Chat(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Endpoint != "visionary" {
		t.Errorf("endpoint = %q", resp.Endpoint)
	}

	sent := fake.lastReq.Messages[0]
	found := false
	for _, b := range sent.Blocks {
		if tb, ok := b.(models.TextBlock); ok && strings.Contains(tb.Text, "[video omitted: endpoint unsupported]") {
			found = true
		}
		if _, ok := b.(models.VideoBlock); ok {
			t.Error("video block survived soft degrade")
		}
	}
	if !found {
		t.Error("placeholder text missing after soft degrade")
	}
	// Original request must stay untouched.
	if _, ok := req.Messages[0].Blocks[1].(models.VideoBlock); !ok {
		t.Error("caller's message was mutated")
	}
}

func TestNoCapableEndpoint(t *testing.T) {
	fake := &fakeDialect{}
	client := newTestClient(fake, testEndpoint("textonly", 0, "text"))

	req := &Request{
		Messages: userText("hi"),
		Tools:    []ToolDef{{Name: "t", InputSchema: []byte(`{}`)}},
	}
	if _, err := client.Chat(context.Background(), req, nil); !errors.Is(err, ErrNoCapableEndpoint) {
		t.Fatalf("err = %v, want ErrNoCapableEndpoint", err)
	}
}

func TestSwapEndpoints(t *testing.T) {
	fake := &fakeDialect{text: map[string]string{"old": "o", "new": "n"}}
	client := newTestClient(fake, testEndpoint("old", 0))

	client.SwapEndpoints([]*Endpoint{testEndpoint("new", 0)})
	resp, err := client.Chat(context.Background(), &Request{Messages: userText("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Endpoint != "new" {
		t.Errorf("endpoint = %q, want new", resp.Endpoint)
	}
}

func TestAvoidSkipsEndpoint(t *testing.T) {
	fake := &fakeDialect{text: map[string]string{"a": "x", "b": "y"}}
	client := newTestClient(fake, testEndpoint("a", 0), testEndpoint("b", 1))

	resp, err := client.Chat(context.Background(), &Request{Messages: userText("hi"), Avoid: []string{"a"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Endpoint != "b" {
		t.Errorf("endpoint = %q, want b", resp.Endpoint)
	}
}

func TestRequiredCapabilitiesAlwaysIncludeText(t *testing.T) {
	req := &Request{Messages: userText("hi")}
	if !RequiredCapabilities(req)[CapText] {
		t.Error("text capability must always be required")
	}
}

func TestChatRecordsRequestLatency(t *testing.T) {
	fake := &fakeDialect{text: map[string]string{"timed": "ok"}}
	client := newTestClient(fake, testEndpoint("timed", 0))

	if _, err := client.Chat(context.Background(), &Request{Messages: userText("hi")}, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	var m dto.Metric
	observer, err := observability.LLMRequestDuration.GetMetricWithLabelValues("timed", "test-model")
	if err != nil {
		t.Fatal(err)
	}
	if err := observer.(prometheus.Metric).Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.GetHistogram().GetSampleCount() == 0 {
		t.Fatal("no latency samples recorded for the attempted endpoint")
	}
}
