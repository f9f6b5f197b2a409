package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
)

// CLICaller runs a command-line model client once per attempt.
// The target is passed as --model and the prompt via -p; stdout is the
// generated content.
type CLICaller struct {
	path    string
	workdir string
	args    []string
}

// CLIOption configures CLICaller.
type CLIOption func(*CLICaller)

// NewCLICaller creates a caller for the binary at path.
func NewCLICaller(path string, opts ...CLIOption) *CLICaller {
	c := &CLICaller{path: path}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithWorkdir sets the working directory for the command.
func WithWorkdir(dir string) CLIOption {
	return func(c *CLICaller) { c.workdir = dir }
}

// WithExtraArgs appends fixed arguments before the per-request ones.
func WithExtraArgs(args ...string) CLIOption {
	return func(c *CLICaller) { c.args = append(c.args, args...) }
}

// Call implements Caller.
func (c *CLICaller) Call(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.path, c.buildArgs(req)...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Check for context cancellation first
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &cferrors.ValidationError{Field: "path", Message: err.Error()}
		}
		return nil, stderrError(req.Target, strings.TrimSpace(stderr.String()), err)
	}

	return &Response{
		Content:      strings.TrimSpace(stdout.String()),
		Model:        req.Target,
		FinishReason: "stop",
		Duration:     time.Since(start),
	}, nil
}

func (c *CLICaller) buildArgs(req Request) []string {
	args := append([]string{"--print"}, c.args...)

	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if req.Target != "" {
		args = append(args, "--model", req.Target)
	}
	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", strconv.Itoa(req.MaxTokens))
	}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		args = append(args, "-p", p)
	}
	return args
}

var stderrStatus = regexp.MustCompile(`\b(429|5\d\d)\b`)

// stderrError turns a failed run into a typed error using the client's
// stderr, which is the only signal a CLI gives.
func stderrError(target, stderr string, runErr error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "rate limit"):
		return &cferrors.RateLimitError{Target: target}
	case strings.Contains(lower, "overloaded"):
		return &cferrors.StatusError{StatusCode: 529, Message: stderr, Target: target}
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return &cferrors.TimeoutError{Operation: "remote call to " + target}
	}
	if m := stderrStatus.FindStringSubmatch(stderr); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &cferrors.StatusError{StatusCode: code, Message: stderr, Target: target}
	}
	if stderr == "" {
		return fmt.Errorf("%s: %w", target, runErr)
	}
	return fmt.Errorf("%s: %w: %s", target, runErr, stderr)
}
