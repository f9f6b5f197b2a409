package compflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/compflow/pkg/compflow"
	"github.com/randalmurphal/compflow/pkg/compflow/cache"
	"github.com/randalmurphal/compflow/pkg/compflow/remote"
	"github.com/randalmurphal/compflow/pkg/compflow/retry"
	"github.com/stretchr/testify/require"
)

const component = "```tsx\nexport function Button() { return <button>Go</button> }\n```"

// fastRetry retries three times with millisecond waits and no jitter.
var fastRetry = retry.Config{
	MaxAttempts:       3,
	InitialDelay:      time.Millisecond,
	MaxDelay:          5 * time.Millisecond,
	BackoffMultiplier: 2,
	RetryOn5xx:        true,
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.NewStore(context.Background(), cache.NewMemoryBackend(), cache.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newOrchestrator(t *testing.T, caller remote.Caller, opts ...compflow.Option) *compflow.Orchestrator {
	t.Helper()
	base := []compflow.Option{
		compflow.WithLogger(quietLogger()),
		compflow.WithRetryConfig(fastRetry),
		compflow.WithPrimaryTarget("primary"),
	}
	o, err := compflow.New(caller, append(base, opts...)...)
	require.NoError(t, err)
	return o
}

func button() compflow.Input {
	return compflow.Input{
		Selector: "#go",
		Markup:   `<button class="btn">Go</button>`,
		Styles:   ".btn { color: red; }",
		Context:  compflow.PageContext{Frameworks: []string{"react"}},
		Options:  compflow.GenerateOptions{Framework: "react", TypeScript: true},
	}
}

// recorder collects observer notifications.
type recorder struct {
	mu     sync.Mutex
	events []compflow.StateMetadata
}

func (r *recorder) observe(md compflow.StateMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, md)
}

func (r *recorder) states() []compflow.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]compflow.State, len(r.events))
	for i, md := range r.events {
		out[i] = md.State
	}
	return out
}

func count(states []compflow.State, s compflow.State) int {
	n := 0
	for _, st := range states {
		if st == s {
			n++
		}
	}
	return n
}

func statesOf(history []compflow.StateMetadata) []compflow.State {
	out := make([]compflow.State, len(history))
	for i, md := range history {
		out[i] = md.State
	}
	return out
}

// failingBackend accepts reads but rejects every write.
type failingBackend struct {
	*cache.MemoryBackend
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("disk full")
}
