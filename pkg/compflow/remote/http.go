package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 4 << 10

// HTTPCaller posts generation requests as JSON to an HTTP endpoint.
//
// The wire format is deliberately small: the request carries the target as
// "model" plus the prompts, and the response must carry the generated text
// in "content" (or "output_text"). Transport is instrumented with otelhttp.
type HTTPCaller struct {
	endpoint string
	apiKey   string
	client   *http.Client
	headers  map[string]string
}

// HTTPOption configures an HTTPCaller.
type HTTPOption func(*HTTPCaller)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPCaller) { c.apiKey = strings.TrimSpace(key) }
}

// WithHTTPClient replaces the HTTP client. Its transport is used as-is.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPCaller) {
		if client != nil {
			c.client = client
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(c *HTTPCaller) { c.headers[key] = value }
}

// NewHTTPCaller creates a caller for endpoint.
func NewHTTPCaller(endpoint string, opts ...HTTPOption) *HTTPCaller {
	c := &HTTPCaller{
		endpoint: endpoint,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type httpRequest struct {
	Model        string         `json:"model"`
	SystemPrompt string         `json:"system,omitempty"`
	Prompt       string         `json:"prompt"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Temperature  float64        `json:"temperature,omitempty"`
	Options      map[string]any `json:"options,omitempty"`
}

type httpResponse struct {
	Content      string     `json:"content"`
	OutputText   string     `json:"output_text"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason"`
	Usage        TokenUsage `json:"usage"`
}

type httpErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Call implements Caller.
func (c *HTTPCaller) Call(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	body, err := json.Marshal(httpRequest{
		Model:        req.Target,
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.Prompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Options:      req.Options,
	})
	if err != nil {
		return nil, &cferrors.ValidationError{Field: "request", Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &cferrors.ValidationError{Field: "endpoint", Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Context errors classify on their own
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, err
		}
		return nil, &cferrors.NetworkError{Target: req.Target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(resp, req.Target)
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &cferrors.ValidationError{Field: "response", Message: fmt.Sprintf("decode body: %v", err)}
	}

	content := out.Content
	if content == "" {
		content = out.OutputText
	}
	model := out.Model
	if model == "" {
		model = req.Target
	}
	usage := out.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	return &Response{
		Content:      content,
		Usage:        usage,
		Model:        model,
		FinishReason: out.FinishReason,
		Duration:     time.Since(start),
	}, nil
}

func statusError(resp *http.Response, target string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(raw))
	var parsed httpErrorBody
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &cferrors.StatusError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		Target:     target,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
