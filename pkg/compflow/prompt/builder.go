// Package prompt renders the generation prompt sent to the remote caller.
//
// Templates use ${var} placeholders. A Builder picks a template by target
// framework, falling back to a generic one, and fills it from Data.
package prompt

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Data is everything a template can refer to.
type Data struct {
	Framework  string
	Styling    string
	TypeScript bool
	Markup     string
	Styles     string
	Frameworks []string
	Libraries  []string

	// Extra values are exposed as ${extra.<key>}.
	Extra map[string]any
}

// Vars flattens d into template variables.
func (d Data) Vars() map[string]any {
	lang := "JavaScript"
	if d.TypeScript {
		lang = "TypeScript"
	}
	styling := d.Styling
	if styling == "" {
		styling = "plain CSS"
	}

	vars := map[string]any{
		"framework":  d.Framework,
		"styling":    styling,
		"language":   lang,
		"markup":     d.Markup,
		"styles":     d.Styles,
		"frameworks": joinOr(d.Frameworks, "none detected"),
		"libraries":  joinOr(d.Libraries, "none detected"),
	}
	for k, v := range d.Extra {
		vars["extra."+k] = v
	}
	return vars
}

func joinOr(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// Prompt is a rendered system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// Builder renders prompts. Safe for concurrent use after construction.
type Builder struct {
	expander  *Expander
	system    string
	generic   string
	templates map[string]string
}

// Option configures a Builder.
type Option func(*Builder)

// WithSystemPrompt replaces the system prompt template.
func WithSystemPrompt(tmpl string) Option {
	return func(b *Builder) { b.system = tmpl }
}

// WithTemplate sets the user template for one framework.
func WithTemplate(framework, tmpl string) Option {
	return func(b *Builder) { b.templates[strings.ToLower(framework)] = tmpl }
}

// WithGenericTemplate sets the template used for frameworks without one.
func WithGenericTemplate(tmpl string) Option {
	return func(b *Builder) { b.generic = tmpl }
}

// WithMissingAction sets how unknown placeholders are handled.
// The default is MissingError.
func WithMissingAction(action MissingAction) Option {
	return func(b *Builder) { b.expander = NewExpander(action) }
}

// NewBuilder creates a Builder seeded with the built-in templates.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		expander:  NewExpander(MissingError),
		system:    defaultSystem,
		generic:   genericTemplate,
		templates: maps.Clone(defaultTemplates),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Template returns the user template that would be used for framework.
func (b *Builder) Template(framework string) string {
	if t, ok := b.templates[strings.ToLower(framework)]; ok {
		return t
	}
	return b.generic
}

// Build renders the prompt for d.
func (b *Builder) Build(d Data) (Prompt, error) {
	if strings.TrimSpace(d.Framework) == "" {
		return Prompt{}, fmt.Errorf("prompt: framework is required")
	}

	vars := d.Vars()
	system, err := b.expander.Expand(b.system, vars)
	if err != nil {
		return Prompt{}, fmt.Errorf("render system prompt: %w", err)
	}
	user, err := b.expander.Expand(b.Template(d.Framework), vars)
	if err != nil {
		return Prompt{}, fmt.Errorf("render %s prompt: %w", d.Framework, err)
	}
	return Prompt{System: system, User: user}, nil
}
