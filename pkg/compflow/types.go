package compflow

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/randalmurphal/compflow/pkg/compflow/cachekey"
	cferrors "github.com/randalmurphal/compflow/pkg/compflow/errors"
	"github.com/randalmurphal/compflow/pkg/compflow/remote"
)

// PageContext describes what was detected around the selected element.
type PageContext struct {
	Frameworks []string       `json:"frameworks,omitempty"`
	Libraries  []string       `json:"libraries,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// GenerateOptions are the caller's choices for the generated component.
type GenerateOptions struct {
	// Framework is the output framework, e.g. "react". Required.
	Framework  string         `json:"framework"`
	Styling    string         `json:"styling,omitempty"`
	TypeScript bool           `json:"typescript,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Input is one unit of work. The flow only hashes and forwards it; stage
// functions fill in or rewrite its fields as the pipeline runs.
type Input struct {
	Selector string          `json:"selector,omitempty"`
	Markup   string          `json:"markup,omitempty"`
	Styles   string          `json:"styles,omitempty"`
	Context  PageContext     `json:"context"`
	Options  GenerateOptions `json:"options"`
}

// Validate checks the caller-supplied options.
func (in Input) Validate() error {
	if strings.TrimSpace(in.Options.Framework) == "" {
		return &cferrors.ValidationError{Field: "options.framework", Message: "is required"}
	}
	return nil
}

// clone returns a deep copy so stages never touch the caller's value.
func (in Input) clone() Input {
	in.Context.Frameworks = slices.Clone(in.Context.Frameworks)
	in.Context.Libraries = slices.Clone(in.Context.Libraries)
	in.Context.Extra = maps.Clone(in.Context.Extra)
	in.Options.Extra = maps.Clone(in.Options.Extra)
	return in
}

// content is the component facet of the cache key.
func (in Input) content() any {
	return struct {
		Markup string `json:"markup"`
		Styles string `json:"styles"`
	}{in.Markup, in.Styles}
}

// Key derives in's cache key with g.
func (in Input) Key(g *cachekey.Generator) (cachekey.Key, error) {
	return g.Generate(in.content(), in.Context, in.Options)
}

// Result is the output of a completed flow.
type Result struct {
	// Code is the generated component with any Markdown fence removed.
	Code string `json:"code"`

	// Raw is the remote output as received.
	Raw string `json:"raw"`

	Model       string            `json:"model,omitempty"`
	Target      string            `json:"target,omitempty"`
	Usage       remote.TokenUsage `json:"usage"`
	CacheKey    cachekey.Key      `json:"cache_key"`
	GeneratedAt time.Time         `json:"generated_at"`

	// FromCache is true when the result was served from the cache.
	FromCache bool `json:"from_cache,omitempty"`
}

// Report is the outcome of Execute.
type Report struct {
	FlowID  string          `json:"flow_id"`
	Final   StateMetadata   `json:"final"`
	History []StateMetadata `json:"history"`

	// Duration is the time between the first and last history entries.
	Duration time.Duration `json:"duration"`

	Result *Result             `json:"result,omitempty"`
	Err    *cferrors.FlowError `json:"error,omitempty"`
}

// StageFunc is an injected local transform. It may rewrite in.
type StageFunc func(ctx context.Context, in *Input) error

// Stages are the local collaborators run before hashing. Nil stages pass
// the input through unchanged.
type Stages struct {
	Select  StageFunc
	Extract StageFunc
	Detect  StageFunc
	Clean   StageFunc
}

// Observer receives every transition. It runs synchronously on the flow's
// goroutine and must not block.
type Observer func(StateMetadata)
