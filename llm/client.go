// Package llm sends agent prompts to chat-completion providers. Model
// selection is capability-driven through model.Registry: the client walks
// the capability's candidate chain in order, retries transient faults per
// endpoint, and reports outcomes back to the registry's circuit breaker so
// failing endpoints drop out of selection.
package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/model"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 10 << 20

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request is one completion call.
type Request struct {
	// Capability drives model selection ("planning", "coding", "reviewing").
	Capability string

	// Messages is the chat history to send.
	Messages []Message

	// Temperature is the sampling temperature. Nil uses the provider
	// default; zero is deterministic.
	Temperature *float64

	// MaxTokens limits the completion length. Zero uses the provider default.
	MaxTokens int

	// Model optionally pins a configured endpoint. It is tried first; the
	// capability chain still serves as fallback.
	Model string
}

// TokenUsage is the token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed call.
type Response struct {
	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
}

// Client walks capability chains over registered providers.
type Client struct {
	models *model.Registry
	http   *http.Client
	retry  RetryPolicy
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetryPolicy replaces the per-endpoint retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client on the given registry. A nil registry selects
// the local-Ollama defaults.
func NewClient(models *model.Registry, opts ...ClientOption) *Client {
	if models == nil {
		models = model.DefaultRegistry()
	}
	c := &Client{
		models: models,
		retry:  DefaultRetryPolicy(),
		http: &http.Client{
			// Large completions take minutes on local hardware.
			Timeout: 3 * time.Minute,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs the request against the capability's candidate endpoints in
// order. Transient faults retry on the same endpoint, then fall through to
// the next candidate; a fatal fault aborts the walk since every candidate
// would hit it too.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Capability == "" {
		return nil, fmt.Errorf("capability is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	chain := c.candidates(req)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no models configured for capability %s", req.Capability)
	}

	var lastErr error
	for _, name := range chain {
		// Open circuits were already filtered out of the chain; when every
		// circuit is open the full chain comes back, so a call is still
		// attempted rather than failing without trying.
		ep, ok := c.models.Endpoint(name)
		if !ok {
			c.logger.Debug("Candidate has no endpoint, skipping", "model", name)
			continue
		}

		resp, err := c.callWithRetry(ctx, name, ep, req)
		if err == nil {
			metrics.LLMRequests.WithLabelValues(ep.Provider, "success").Inc()
			return resp, nil
		}

		lastErr = err
		metrics.LLMRequests.WithLabelValues(ep.Provider, "failure").Inc()
		if IsFatal(err) {
			c.logger.Warn("Fatal fault, skipping fallbacks", "model", name, "error", err)
			return nil, err
		}
		c.logger.Warn("Endpoint failed, trying next candidate",
			"model", name,
			"provider", ep.Provider,
			"error", err)
	}

	if lastErr == nil {
		return nil, fmt.Errorf("no usable endpoint for capability %s", req.Capability)
	}
	return nil, fmt.Errorf("no usable endpoint for capability %s: %w", req.Capability, lastErr)
}

// candidates resolves the chain for a request. A pinned model that has a
// configured endpoint moves to the head.
func (c *Client) candidates(req Request) []string {
	chain := c.models.UsableCandidates(model.Capability(req.Capability))
	if req.Model == "" {
		return chain
	}
	if _, ok := c.models.Endpoint(req.Model); !ok {
		return chain
	}

	pinned := make([]string, 0, len(chain)+1)
	pinned = append(pinned, req.Model)
	for _, name := range chain {
		if name != req.Model {
			pinned = append(pinned, name)
		}
	}
	return pinned
}

// callWithRetry runs the retry budget against one endpoint and reports the
// outcome to the breaker. Fatal faults return immediately and don't count
// against the endpoint's health; they are request problems, not endpoint
// problems.
func (c *Client) callWithRetry(ctx context.Context, name string, ep model.EndpointConfig, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		resp, err := c.call(ctx, ep, req)
		if err == nil {
			c.models.ReportSuccess(name)
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) {
			return nil, err
		}
		if attempt == c.retry.Attempts {
			break
		}

		wait := c.retry.delay(attempt)
		c.logger.Debug("Call failed, backing off",
			"model", name,
			"attempt", attempt,
			"wait", wait,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	c.models.ReportFailure(name)
	return nil, lastErr
}

// call performs one HTTP round trip through the endpoint's provider.
func (c *Client) call(ctx context.Context, ep model.EndpointConfig, req Request) (*Response, error) {
	provider := Lookup(ep.Provider)
	if provider == nil {
		return nil, Fatal(fmt.Errorf("no provider registered for %q", ep.Provider))
	}

	httpReq, err := provider.NewRequest(ctx, ep, req)
	if err != nil {
		return nil, Fatal(fmt.Errorf("build %s request: %w", ep.Provider, err))
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, Transient(fmt.Errorf("call %s: %w", ep.Provider, err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, Transient(fmt.Errorf("read %s response: %w", ep.Provider, err))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, statusFault(httpResp.StatusCode, body)
	}

	resp, err := provider.Decode(body)
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = ep.Model
	}
	return resp, nil
}

// statusFault classifies a non-200 status. Rate limits and server errors
// are transient; everything else, auth and bad requests included, is fatal.
func statusFault(code int, body []byte) error {
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	err := fmt.Errorf("endpoint returned %d: %s", code, detail)

	if code == http.StatusTooManyRequests || code >= 500 {
		return Transient(err)
	}
	return Fatal(err)
}
