// Package cachekey derives deterministic cache keys from a processed
// component, its detection context and the caller's generation options.
//
// A Key is a pure function of three sub-hashes, one per input facet. Lists
// inside the context and options facets are sorted before hashing, so two
// inputs that differ only in incidental ordering (for example the order in
// which frameworks were detected) produce the same key.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Algorithm names a hash function.
type Algorithm string

const (
	// SHA256 is the default, collision-resistant algorithm.
	SHA256 Algorithm = "sha256"

	// XXHash64 is a fast non-cryptographic algorithm for low-risk reuse.
	XXHash64 Algorithm = "xxhash64"
)

// ParseAlgorithm returns the Algorithm for name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case SHA256, "":
		return SHA256, nil
	case XXHash64, "xxhash":
		return XXHash64, nil
	}
	return "", fmt.Errorf("unknown hash algorithm %q", name)
}

// Sum hashes data and returns the lowercase hex digest.
func (a Algorithm) Sum(data []byte) (string, error) {
	switch a {
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case XXHash64:
		return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
	}
	return "", fmt.Errorf("unknown hash algorithm %q", string(a))
}

// Key identifies a previously computed result.
type Key struct {
	// Key is the opaque cache key.
	Key string `json:"key"`

	Algorithm     Algorithm `json:"algorithm"`
	ComponentHash string    `json:"component_hash"`
	ContextHash   string    `json:"context_hash"`
	OptionsHash   string    `json:"options_hash"`
}

// String returns the opaque key.
func (k Key) String() string {
	return k.Key
}

// Diff names the facets that differ between k and other: any of
// "component", "context", "options". Keys built with different algorithms
// differ in every facet.
func (k Key) Diff(other Key) []string {
	if k.Algorithm != other.Algorithm {
		return []string{"component", "context", "options"}
	}
	var diff []string
	if k.ComponentHash != other.ComponentHash {
		diff = append(diff, "component")
	}
	if k.ContextHash != other.ContextHash {
		diff = append(diff, "context")
	}
	if k.OptionsHash != other.OptionsHash {
		diff = append(diff, "options")
	}
	return diff
}

// Generator derives Keys. A Generator is immutable and safe for concurrent use.
type Generator struct {
	algorithm Algorithm
	prefix    string
	version   int
}

// Option configures a Generator.
type Option func(*Generator)

// WithAlgorithm sets the hash algorithm.
func WithAlgorithm(a Algorithm) Option {
	return func(g *Generator) {
		g.algorithm = a
	}
}

// WithPrefix namespaces every key, so several producers can share one store.
func WithPrefix(prefix string) Option {
	return func(g *Generator) {
		g.prefix = prefix
	}
}

// WithVersion salts every key. Bump it when the prompt format changes so
// results produced under the old format are never reused.
func WithVersion(v int) Option {
	return func(g *Generator) {
		g.version = v
	}
}

// NewGenerator creates a Generator. The default algorithm is SHA256.
func NewGenerator(opts ...Option) (*Generator, error) {
	g := &Generator{algorithm: SHA256}
	for _, opt := range opts {
		opt(g)
	}
	if _, err := g.algorithm.Sum(nil); err != nil {
		return nil, err
	}
	return g, nil
}

// Algorithm returns the generator's hash algorithm.
func (g *Generator) Algorithm() Algorithm {
	return g.algorithm
}

// Generate derives the key for (content, context, options). Each argument
// must be JSON-serializable. Lists within context and options are treated
// as unordered; lists within content keep their order.
func (g *Generator) Generate(content, context, options any) (Key, error) {
	componentHash, err := g.facet(content, false)
	if err != nil {
		return Key{}, fmt.Errorf("hash component: %w", err)
	}
	contextHash, err := g.facet(context, true)
	if err != nil {
		return Key{}, fmt.Errorf("hash context: %w", err)
	}
	optionsHash, err := g.facet(options, true)
	if err != nil {
		return Key{}, fmt.Errorf("hash options: %w", err)
	}

	return g.FromHashes(componentHash, contextHash, optionsHash)
}

// FromHashes combines three facet hashes into a Key.
func (g *Generator) FromHashes(componentHash, contextHash, optionsHash string) (Key, error) {
	combined := "v" + strconv.Itoa(g.version) + ":" + componentHash + ":" + contextHash + ":" + optionsHash
	sum, err := g.algorithm.Sum([]byte(combined))
	if err != nil {
		return Key{}, err
	}

	return Key{
		Key:           g.prefix + sum,
		Algorithm:     g.algorithm,
		ComponentHash: componentHash,
		ContextHash:   contextHash,
		OptionsHash:   optionsHash,
	}, nil
}

func (g *Generator) facet(v any, unordered bool) (string, error) {
	data, err := Canonical(v, unordered)
	if err != nil {
		return "", err
	}
	return g.algorithm.Sum(data)
}
