// Package remote defines the contract for the expensive generation call a
// flow makes, plus HTTP, CLI and scripted implementations of it.
//
// Callers report failures as the typed errors in the compflow errors
// package (StatusError, RateLimitError, NetworkError, ...) so the flow can
// classify them without inspecting messages.
package remote

import (
	"context"
	"time"
)

// Caller performs one remote generation attempt. Implementations must be
// safe for concurrent use and must honour ctx cancellation.
type Caller interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, req Request) (*Response, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Request is a single attempt against one target.
type Request struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Target names the model or endpoint for this attempt. Fallback
	// attempts carry the fallback target here.
	Target string `json:"target"`

	// Attempt is 1-based across retries and fallbacks of one flow.
	Attempt int `json:"attempt"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// Provider-specific options
	Options map[string]any `json:"options,omitempty"`
}

// Response is the output of a successful attempt.
type Response struct {
	Content      string        `json:"content"`
	Usage        TokenUsage    `json:"usage"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"`
	Duration     time.Duration `json:"duration"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
