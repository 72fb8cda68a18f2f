package llms

import (
	"fmt"
	"sync"
)

// Family groups providers by operating model, which decides how the session
// layer dispatches to them.
type Family string

const (
	// FamilyStatelessReplay providers require the full message history on
	// every call. Their reported usage is turn-local: prefix caching makes
	// resent history cheap, so prompt figures reflect incremental content.
	FamilyStatelessReplay Family = "stateless-replay"
	// FamilyStatefulSession providers keep conversation state runtime-side
	// behind a handle; callers send only the new message. Some models in
	// this family support a single exchange per handle.
	FamilyStatefulSession Family = "stateful-session"
)

// Capabilities are the static per-provider/per-model facts the session layer
// consults once, at creation, to pick its dispatch strategy and to reject
// unsupported operations early.
type Capabilities struct {
	Family                Family
	SupportsMultiTurn     bool
	SupportsTokenTracking bool
	// MaxContextTokens is the model's full context window.
	MaxContextTokens int
}

type registryKey struct{ provider, model string }

// Registry is the capability lookup, keyed by (provider, model). It is owned
// by the host application and passed by reference wherever it is needed, so
// tests can substitute their own catalog.
type Registry struct {
	mu     sync.RWMutex
	models map[registryKey]Capabilities
}

// NewRegistry returns a registry seeded with the built-in catalog.
func NewRegistry() *Registry {
	registry := &Registry{models: make(map[registryKey]Capabilities, len(builtinCatalog))}
	for key, capabilities := range builtinCatalog {
		registry.models[key] = capabilities
	}
	return registry
}

// Register adds or overrides the capabilities recorded for provider/model.
func (r *Registry) Register(provider, model string, capabilities Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[registryKey{provider: provider, model: model}] = capabilities
}

// CapabilitiesFor returns the recorded capabilities for provider/model, or an
// error wrapping ErrUnknownModel when the pair is not in the catalog.
func (r *Registry) CapabilitiesFor(provider, model string) (Capabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	capabilities, ok := r.models[registryKey{provider: provider, model: model}]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s/%s", ErrUnknownModel, provider, model)
	}
	return capabilities, nil
}

var builtinCatalog = map[registryKey]Capabilities{
	{provider: "openai", model: "gpt-4o"}: {
		Family:                FamilyStatelessReplay,
		SupportsMultiTurn:     true,
		SupportsTokenTracking: true,
		MaxContextTokens:      128000,
	},
	{provider: "openai", model: "gpt-4o-mini"}: {
		Family:                FamilyStatelessReplay,
		SupportsMultiTurn:     true,
		SupportsTokenTracking: true,
		MaxContextTokens:      128000,
	},
	{provider: "groq", model: "llama-3.3-70b-versatile"}: {
		Family:                FamilyStatelessReplay,
		SupportsMultiTurn:     true,
		SupportsTokenTracking: true,
		MaxContextTokens:      131072,
	},
	{provider: "local", model: "llama-3.2-3b-instruct"}: {
		Family:                FamilyStatefulSession,
		SupportsMultiTurn:     true,
		SupportsTokenTracking: true,
		MaxContextTokens:      8192,
	},
	{provider: "local", model: "phi-3.5-mini-instruct"}: {
		Family:                FamilyStatefulSession,
		SupportsMultiTurn:     true,
		SupportsTokenTracking: true,
		MaxContextTokens:      16384,
	},
	{provider: "local", model: "qwen2.5-0.5b-instruct"}: {
		Family:                FamilyStatefulSession,
		SupportsMultiTurn:     true,
		SupportsTokenTracking: false,
		MaxContextTokens:      4096,
	},
	{provider: "local", model: "smollm2-360m-instruct"}: {
		Family:                FamilyStatefulSession,
		SupportsMultiTurn:     false,
		SupportsTokenTracking: true,
		MaxContextTokens:      2048,
	},
}
