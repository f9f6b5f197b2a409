package remote

import (
	"context"
	"sync"
	"time"
)

// MockCaller is a scripted Caller for tests and examples.
//
// Per-target scripts take precedence: each call to a target consumes the
// next scripted outcome for that target, and the last outcome repeats once
// the script runs out. Targets without a script fall back to the global
// responses, which cycle, or to the fixed content.
type MockCaller struct {
	mu sync.Mutex

	content   string
	responses []string
	index     int
	err       error
	delay     time.Duration
	callFunc  func(ctx context.Context, req Request) (*Response, error)

	scripts map[string][]Outcome
	cursor  map[string]int

	// Calls records every request in order.
	Calls []Request
}

// Outcome is one scripted result: either content or an error.
type Outcome struct {
	Content string
	Err     error
}

// Fail is shorthand for an error outcome.
func Fail(err error) Outcome { return Outcome{Err: err} }

// Succeed is shorthand for a content outcome.
func Succeed(content string) Outcome { return Outcome{Content: content} }

// NewMockCaller returns a mock that answers every call with content.
func NewMockCaller(content string) *MockCaller {
	return &MockCaller{
		content: content,
		scripts: make(map[string][]Outcome),
		cursor:  make(map[string]int),
	}
}

// WithResponses makes unscripted calls cycle through responses.
func (m *MockCaller) WithResponses(responses ...string) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.index = 0
	return m
}

// WithError makes unscripted calls fail with err.
func (m *MockCaller) WithError(err error) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay makes every call wait d, or until ctx is done.
func (m *MockCaller) WithDelay(d time.Duration) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCallFunc replaces all scripted behaviour with fn.
func (m *MockCaller) WithCallFunc(fn func(ctx context.Context, req Request) (*Response, error)) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callFunc = fn
	return m
}

// Script sets the outcomes for calls against target.
func (m *MockCaller) Script(target string, outcomes ...Outcome) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[target] = outcomes
	m.cursor[target] = 0
	return m
}

// Call implements Caller.
func (m *MockCaller) Call(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	delay := m.delay
	fn := m.callFunc
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if fn != nil {
		return fn(ctx, req)
	}

	out := m.next(req.Target)
	if out.Err != nil {
		return nil, out.Err
	}
	return &Response{
		Content:      out.Content,
		Model:        req.Target,
		FinishReason: "stop",
		Usage: TokenUsage{
			InputTokens:  len(req.Prompt) / 4,
			OutputTokens: len(out.Content) / 4,
			TotalTokens:  len(req.Prompt)/4 + len(out.Content)/4,
		},
	}, nil
}

func (m *MockCaller) next(target string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if script, ok := m.scripts[target]; ok && len(script) > 0 {
		i := m.cursor[target]
		if i >= len(script) {
			i = len(script) - 1
		} else {
			m.cursor[target] = i + 1
		}
		return script[i]
	}

	if m.err != nil {
		return Outcome{Err: m.err}
	}
	if len(m.responses) > 0 {
		content := m.responses[m.index%len(m.responses)]
		m.index++
		return Outcome{Content: content}
	}
	return Outcome{Content: m.content}
}

// CallCount returns the number of calls made.
func (m *MockCaller) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsTo returns the number of calls made against target.
func (m *MockCaller) CallsTo(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Target == target {
			n++
		}
	}
	return n
}

// LastCall returns the most recent request, or nil if none.
func (m *MockCaller) LastCall() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	req := m.Calls[len(m.Calls)-1]
	return &req
}

// Reset clears recorded calls and rewinds every script.
func (m *MockCaller) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.index = 0
	for k := range m.cursor {
		m.cursor[k] = 0
	}
}
