package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/parleyhq/parley/internal/expr"
)

// ErrUnknownModel is returned when a request names a model outside the catalog.
var ErrUnknownModel = errors.New("unknown model")

// Capability names a model feature class.
type Capability string

const (
	CapabilityText   Capability = "text"
	CapabilityVision Capability = "vision"
)

// ModelInfo describes a routable model.
type ModelInfo struct {
	Provider     string
	Capabilities []Capability

	// Internal models can be resolved but are hidden from the public
	// model list. Used for models reserved for backend tasks such as
	// file analysis.
	Internal bool
}

// HasCapability reports whether the model advertises the given capability.
func (mi ModelInfo) HasCapability(c Capability) bool {
	for _, have := range mi.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

func textModel(provider string) ModelInfo {
	return ModelInfo{Provider: provider, Capabilities: []Capability{CapabilityText}}
}

func visionModel(provider string) ModelInfo {
	return ModelInfo{Provider: provider, Capabilities: []Capability{CapabilityText, CapabilityVision}}
}

// builtinModels is the model catalog shipped with the backend. It is
// never written after init; configured models land in the per-Router
// map copy instead.
var builtinModels = map[string]ModelInfo{
	"meta/llama-4-maverick-17b-128e-instruct": textModel("nim"),
	"deepseek-ai/deepseek-r1":                 textModel("nim"),
	"deepseek-ai/deepseek-v3.1":               textModel("nim"),
	"deepseek-ai/deepseek-v3.2":               textModel("nim"),
	"qwen/qwen2.5-coder-32b-instruct":         textModel("nim"),
	"qwen/qwen3-coder-480b-a35b-instruct":     textModel("nim"),
	"openai/gpt-oss-120b":                     textModel("nim"),
	"moonshotai/kimi-k2-thinking":             textModel("nim"),
	"nvidia/llama-3.1-nemotron-nano-vl-8b-v1": visionModel("nim"),
	"qwen/qwen3-235b-a22b:free":               textModel("openrouter"),
	"google/gemma-3-27b-it:free":              textModel("openrouter"),
	"qwen/qwen-2.5-vl-7b-instruct:free":       visionModel("openrouter"),
	"nvidia/nemotron-nano-12b-v2-vl:free": {
		Provider:     "openrouter",
		Capabilities: []Capability{CapabilityText, CapabilityVision},
		Internal:     true,
	},
}

// rule pairs a compiled condition with a routing override. Empty
// override fields leave the resolved value unchanged.
type rule struct {
	condition *expr.Program
	provider  string
	model     string
}

// Router resolves model identifiers to provider clients. It holds the
// model catalog, the registered provider clients, and an ordered list
// of routing rules evaluated per request.
type Router struct {
	mu      sync.RWMutex
	clients map[string]Client
	models  map[string]ModelInfo
	rules   []rule
}

// NewRouter creates a router seeded with the builtin model catalog and
// no provider clients.
func NewRouter() *Router {
	r := &Router{
		clients: make(map[string]Client),
		models:  make(map[string]ModelInfo, len(builtinModels)),
	}
	for id, info := range builtinModels {
		r.models[id] = info
	}
	return r
}

// RegisterClient installs the client serving the given provider name.
// Registering the same provider twice replaces the client.
func (r *Router) RegisterClient(provider string, c Client) {
	r.mu.Lock()
	r.clients[provider] = c
	r.mu.Unlock()
}

// RegisterModel adds or replaces a catalog entry.
func (r *Router) RegisterModel(id string, info ModelInfo) {
	if id == "" {
		return
	}
	if len(info.Capabilities) == 0 {
		info.Capabilities = []Capability{CapabilityText}
	}
	r.mu.Lock()
	r.models[id] = info
	r.mu.Unlock()
}

// AddRule compiles and appends a routing rule. Rules are evaluated in
// insertion order during Resolve; the first match wins. At least one of
// provider or model must be set.
func (r *Router) AddRule(condition, provider, model string) error {
	if provider == "" && model == "" {
		return fmt.Errorf("routing rule: no provider or model override")
	}
	prog, err := expr.Compile(condition)
	if err != nil {
		return fmt.Errorf("routing rule: %w", err)
	}
	r.mu.Lock()
	r.rules = append(r.rules, rule{condition: prog, provider: provider, model: model})
	r.mu.Unlock()
	return nil
}

// Lookup returns the catalog entry for id.
func (r *Router) Lookup(id string) (ModelInfo, bool) {
	r.mu.RLock()
	info, ok := r.models[id]
	r.mu.RUnlock()
	return info, ok
}

// Known reports whether id is in the catalog.
func (r *Router) Known(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// SupportsVision reports whether id is a catalog model that accepts images.
func (r *Router) SupportsVision(id string) bool {
	info, ok := r.Lookup(id)
	return ok && info.HasCapability(CapabilityVision)
}

// Models lists the public model ids, sorted. Internal models are omitted.
func (r *Router) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id, info := range r.models {
		if info.Internal {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllowedModels lists every resolvable model id, sorted, including
// internal ones.
func (r *Router) AllowedModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve maps a requested model to the client and model id to call.
// The catalog supplies the default provider; routing rules may override
// the provider, the model, or both. Rules are tried in order against
// env with Model and Provider filled in; a rule that fails to evaluate
// is treated as not matching. A rule may redirect to a model outside
// the catalog, in which case the provider override must say where it
// lives.
func (r *Router) Resolve(model string, env expr.Env) (Client, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.models[model]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	provider := info.Provider

	env.Model = model
	env.Provider = provider

	for _, ru := range r.rules {
		match, err := ru.condition.EvalBool(env)
		if err != nil || !match {
			continue
		}
		if ru.model != "" {
			model = ru.model
			if next, ok := r.models[model]; ok {
				provider = next.Provider
			}
		}
		if ru.provider != "" {
			provider = ru.provider
		}
		break
	}

	client, ok := r.clients[provider]
	if !ok {
		return nil, "", fmt.Errorf("llm: no client for provider %q", provider)
	}
	return client, model, nil
}
