// Package model selects which LLM serves an agent invocation. Agent roles
// map to capabilities, capabilities map to ordered candidate chains, and
// candidate names map to provider endpoints. The registry also tracks
// endpoint health: repeated failures trip a per-endpoint circuit breaker
// that steers selection toward working candidates (see breaker.go).
package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Capability names the kind of work a model is picked for.
type Capability string

const (
	// CapabilityPlanning covers task decomposition and high-level reasoning.
	CapabilityPlanning Capability = "planning"

	// CapabilityWriting covers documentation and prose deliverables.
	CapabilityWriting Capability = "writing"

	// CapabilityCoding covers code generation.
	CapabilityCoding Capability = "coding"

	// CapabilityReviewing covers quality verification and scoring.
	CapabilityReviewing Capability = "reviewing"

	// CapabilityFast covers cheap, low-latency calls.
	CapabilityFast Capability = "fast"
)

// roleCapabilities maps agent roles to the capability their calls select
// models with.
var roleCapabilities = map[string]Capability{
	"pm":     CapabilityPlanning,
	"worker": CapabilityCoding,
	"qc":     CapabilityReviewing,
}

// CapabilityForRole returns the capability an agent role selects models
// with. Unknown roles get CapabilityCoding, the worker default.
func CapabilityForRole(role string) Capability {
	if c, ok := roleCapabilities[role]; ok {
		return c
	}
	return CapabilityCoding
}

// EndpointConfig describes one callable model endpoint.
type EndpointConfig struct {
	// Provider is the adapter name ("ollama", "openai", "anthropic").
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API base URL. Empty selects the provider's default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the identifier sent to the provider.
	Model string `json:"model" yaml:"model"`

	// MaxTokens is the context window size, informational.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// entry pairs an endpoint's config with its breaker state. Both are
// guarded by the registry lock.
type entry struct {
	cfg     EndpointConfig
	breaker breaker
}

// Registry holds the capability chains and endpoints for one process.
type Registry struct {
	mu       sync.RWMutex
	chains   map[Capability][]string
	entries  map[string]*entry
	fallback string
	breakerC BreakerConfig
}

// NewRegistry returns an empty registry. Populate it with AddEndpoint and
// SetChain, then Validate.
func NewRegistry() *Registry {
	return &Registry{
		chains:   make(map[Capability][]string),
		entries:  make(map[string]*entry),
		breakerC: DefaultBreakerConfig(),
	}
}

// DefaultRegistry returns a registry wired for a local Ollama install,
// matching the orchestrator's zero-config defaults.
func DefaultRegistry() *Registry {
	const local = "http://localhost:11434/v1"
	r := NewRegistry()
	r.AddEndpoint("qwen-coder", EndpointConfig{
		Provider: "ollama", URL: local, Model: "qwen2.5-coder:32b", MaxTokens: 128000,
	})
	r.AddEndpoint("qwen-small", EndpointConfig{
		Provider: "ollama", URL: local, Model: "qwen2.5-coder:14b", MaxTokens: 128000,
	})
	r.AddEndpoint("llama", EndpointConfig{
		Provider: "ollama", URL: local, Model: "llama3.2", MaxTokens: 128000,
	})
	r.SetChain(CapabilityPlanning, "qwen-coder", "llama")
	r.SetChain(CapabilityWriting, "qwen-coder", "qwen-small")
	r.SetChain(CapabilityCoding, "qwen-coder", "qwen-small")
	r.SetChain(CapabilityReviewing, "qwen-small", "qwen-coder")
	r.SetChain(CapabilityFast, "qwen-small", "llama")
	r.SetFallback("qwen-coder")
	return r
}

// AddEndpoint registers or replaces a named endpoint.
func (r *Registry) AddEndpoint(name string, cfg EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{cfg: cfg}
}

// SetChain sets a capability's candidates in preference order.
func (r *Registry) SetChain(c Capability, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[c] = append([]string(nil), names...)
}

// SetFallback names the model used for capabilities with no chain.
func (r *Registry) SetFallback(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Candidates returns a capability's chain in preference order. A capability
// with no chain resolves to the fallback model, when one is set.
func (r *Registry) Candidates(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if chain, ok := r.chains[c]; ok && len(chain) > 0 {
		return append([]string(nil), chain...)
	}
	if r.fallback != "" {
		return []string{r.fallback}
	}
	return nil
}

// Endpoint returns the config for a named endpoint.
func (r *Registry) Endpoint(name string) (EndpointConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return EndpointConfig{}, false
	}
	return e.cfg, true
}

// Capabilities lists the configured capabilities, sorted for stable output.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]Capability, 0, len(r.chains))
	for c := range r.chains {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// Validate checks that every name a chain or the fallback references has a
// configured endpoint. All problems are reported, not just the first.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var problems []string
	for c, chain := range r.chains {
		for _, name := range chain {
			if _, ok := r.entries[name]; !ok {
				problems = append(problems, fmt.Sprintf("capability %q references unknown endpoint %q", c, name))
			}
		}
	}
	if r.fallback != "" {
		if _, ok := r.entries[r.fallback]; !ok {
			problems = append(problems, fmt.Sprintf("fallback references unknown endpoint %q", r.fallback))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("model registry invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}
