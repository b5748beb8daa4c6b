package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/circuitbreaker"
	"github.com/humboldt-lab/humboldt/internal/interceptors"
	ometrics "github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/tracing"
)

// Config holds the model service connection settings. The base URL comes
// from config or the LLM_SERVICE_URL environment variable.
type Config struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Client is the HTTP client for the external model service. All model
// capability in the orchestrator flows through it: classification, planning,
// ranking, reflection, refinement, and synthesis. Blocking completions go
// through a circuit breaker; streams hold connections too long to sit inside
// one and rely on context cancellation instead.
type Client struct {
	cfg    Config
	http   *circuitbreaker.HTTPWrapper
	stream *http.Client
}

// NewClient builds a client with defaults filled in.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("LLM_SERVICE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://llm-service:8000"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	transport := interceptors.NewWorkflowHTTPRoundTripper(nil)
	blocking := &http.Client{Timeout: cfg.Timeout, Transport: transport}
	return &Client{
		cfg:  cfg,
		http: circuitbreaker.NewHTTPWrapper(blocking, "llm-service", "llm", logger),
		// Streaming responses outlive any fixed client timeout; the request
		// context bounds them instead.
		stream: &http.Client{Transport: transport},
	}
}

// BaseURL returns the configured service endpoint.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// Request is one model call. ReasoningBudget is the explicit extended
// thinking allowance in tokens; zero disables reasoning. Only planning and
// reflection call sites set it.
type Request struct {
	Prompt          string  `json:"prompt"`
	ModelTier       string  `json:"model_tier"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
	Temperature     float64 `json:"temperature"`
	ReasoningBudget int     `json:"reasoning_budget,omitempty"`
}

// Response is the model service's completion result.
type Response struct {
	Text         string `json:"text"`
	TokensUsed   int    `json:"tokens_used"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	ModelUsed    string `json:"model_used"`
	Provider     string `json:"provider"`
}

// Complete performs one blocking completion. The operation label feeds
// metrics, not the wire request.
func (c *Client) Complete(ctx context.Context, operation string, req Request) (*Response, error) {
	start := time.Now()
	url := c.cfg.BaseURL + "/completions"

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		ometrics.RecordModelCall(operation, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("model service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordModelCall(operation, "error", time.Since(start).Seconds())
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("model service returned %d: %s", resp.StatusCode, string(payload))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		ometrics.RecordModelCall(operation, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("decoding model response: %w", err)
	}
	if out.TokensUsed == 0 {
		out.TokensUsed = estimateTokens(req.Prompt) + estimateTokens(out.Text)
	}
	ometrics.RecordModelCall(operation, "ok", time.Since(start).Seconds())
	return &out, nil
}

// streamFrame is one SSE data frame from the streaming endpoint. Token
// frames carry text; the final frame carries Done plus usage.
type streamFrame struct {
	Token        string `json:"token,omitempty"`
	Done         bool   `json:"done,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	ModelUsed    string `json:"model_used,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CompleteStreaming performs a streaming completion, invoking onToken for
// each fragment in order. On cancellation or an onToken error it returns the
// partial response together with the causing error, so callers can hand the
// truncated text on.
func (c *Client) CompleteStreaming(ctx context.Context, operation string, req Request, onToken func(token string) error) (*Response, error) {
	start := time.Now()
	url := c.cfg.BaseURL + "/completions/stream"

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		ometrics.RecordModelCall(operation, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("model service stream failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ometrics.RecordModelCall(operation, "error", time.Since(start).Seconds())
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("model service returned %d: %s", resp.StatusCode, string(payload))
	}

	var text strings.Builder
	out := &Response{}
	partial := func() *Response {
		out.Text = text.String()
		if out.TokensUsed == 0 {
			out.TokensUsed = estimateTokens(req.Prompt) + estimateTokens(out.Text)
		}
		return out
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			ometrics.RecordModelCall(operation, "cancelled", time.Since(start).Seconds())
			return partial(), ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			ometrics.RecordModelCall(operation, "error", time.Since(start).Seconds())
			return partial(), fmt.Errorf("model service stream error: %s", frame.Error)
		}
		if frame.Token != "" {
			text.WriteString(frame.Token)
			if err := onToken(frame.Token); err != nil {
				ometrics.RecordModelCall(operation, "cancelled", time.Since(start).Seconds())
				return partial(), err
			}
		}
		if frame.Done {
			out.TokensUsed = frame.TokensUsed
			out.InputTokens = frame.InputTokens
			out.OutputTokens = frame.OutputTokens
			out.ModelUsed = frame.ModelUsed
			out.Provider = frame.Provider
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			ometrics.RecordModelCall(operation, "cancelled", time.Since(start).Seconds())
			return partial(), ctx.Err()
		}
		ometrics.RecordModelCall(operation, "error", time.Since(start).Seconds())
		return partial(), fmt.Errorf("reading model stream: %w", err)
	}

	ometrics.RecordModelCall(operation, "ok", time.Since(start).Seconds())
	return partial(), nil
}

// estimateTokens approximates token counts at 4 characters per token for
// services that omit usage.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
