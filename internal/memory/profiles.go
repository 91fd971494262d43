package memory

import (
	"sort"
	"sync"
)

// Defaults applied to models the profile table does not know.
const (
	DefaultMaxTokens        = 32000
	DefaultReserveTokens    = 1000
	DefaultSummaryThreshold = 0.7
)

// Profile describes the context-window economics of one model.
type Profile struct {
	DisplayName      string
	MaxTokens        int
	ReserveTokens    int
	SummaryThreshold float64
}

// EffectiveBudget is the window capacity left after the response
// reserve.
func (p Profile) EffectiveBudget() int {
	return p.MaxTokens - p.ReserveTokens
}

func newProfile(name string, maxTokens int) Profile {
	return Profile{
		DisplayName:      name,
		MaxTokens:        maxTokens,
		ReserveTokens:    DefaultReserveTokens,
		SummaryThreshold: DefaultSummaryThreshold,
	}
}

// builtinProfiles is the shipped model table. It is never written
// after init; unknown models land in a per-Profiles overlay instead.
var builtinProfiles = map[string]Profile{
	"meta/llama-4-maverick-17b-128e-instruct": newProfile("Llama 4 Maverick", 1000000),
	"deepseek-ai/deepseek-r1":                 newProfile("DeepSeek R1", 128000),
	"deepseek-ai/deepseek-v3.1":               newProfile("DeepSeek V3.1", 128000),
	"deepseek-ai/deepseek-v3.2":               newProfile("DeepSeek V3.2", 128000),
	"qwen/qwen2.5-coder-32b-instruct":         newProfile("Qwen 2.5 Coder", 32000),
	"qwen/qwen3-coder-480b-a35b-instruct":     newProfile("Qwen3 Coder 480B", 256000),
	"qwen/qwen3-235b-a22b:free":               newProfile("Qwen3 235B", 131000),
	"openai/gpt-oss-120b":                     newProfile("GPT OSS", 128000),
	"google/gemma-3-27b-it:free":              newProfile("Gemma 3", 96000),
	"moonshotai/kimi-k2-thinking":             newProfile("Kimi K2 Thinking", 256000),
}

// Profiles resolves model ids to window profiles. Lookups consult the
// shipped table first, then an overlay holding configured overrides
// and auto-created defaults for unknown models. Each Registry owns one
// Profiles instance, so unknown-model defaults never leak between
// deployments sharing a process.
type Profiles struct {
	mu      sync.RWMutex
	overlay map[string]Profile
}

// NewProfiles returns an empty overlay over the shipped table.
func NewProfiles() *Profiles {
	return &Profiles{overlay: make(map[string]Profile)}
}

// Lookup resolves model without side effects. An empty model gets the
// stock default profile; an unknown one gets defaults under an
// Unknown- prefixed display name.
func (p *Profiles) Lookup(model string) Profile {
	if model == "" {
		return newProfile("Default", DefaultMaxTokens)
	}
	if prof, ok := builtinProfiles[model]; ok {
		return prof
	}
	p.mu.RLock()
	prof, ok := p.overlay[model]
	p.mu.RUnlock()
	if ok {
		return prof
	}
	return newProfile("Unknown-"+model, DefaultMaxTokens)
}

// Ensure is Lookup plus persistence: an unknown model is registered in
// the overlay so later lookups and listings see the same profile.
func (p *Profiles) Ensure(model string) Profile {
	if model == "" {
		return newProfile("Default", DefaultMaxTokens)
	}
	if prof, ok := builtinProfiles[model]; ok {
		return prof
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prof, ok := p.overlay[model]; ok {
		return prof
	}
	prof := newProfile("Unknown-"+model, DefaultMaxTokens)
	p.overlay[model] = prof
	return prof
}

// Register installs a profile for model, normalizing unset fields to
// the defaults. Shipped entries cannot be overridden: the table wins
// on lookup, so Register only matters for ids the table lacks.
func (p *Profiles) Register(model string, prof Profile) {
	if model == "" {
		return
	}
	if prof.DisplayName == "" {
		prof.DisplayName = model
	}
	if prof.MaxTokens <= 0 {
		prof.MaxTokens = DefaultMaxTokens
	}
	if prof.ReserveTokens <= 0 {
		prof.ReserveTokens = DefaultReserveTokens
	}
	if prof.SummaryThreshold <= 0 {
		prof.SummaryThreshold = DefaultSummaryThreshold
	}
	p.mu.Lock()
	p.overlay[model] = prof
	p.mu.Unlock()
}

// Known reports whether model resolves without falling back to
// defaults.
func (p *Profiles) Known(model string) bool {
	if _, ok := builtinProfiles[model]; ok {
		return true
	}
	p.mu.RLock()
	_, ok := p.overlay[model]
	p.mu.RUnlock()
	return ok
}

// Models lists every known model id, sorted.
func (p *Profiles) Models() []string {
	ids := make([]string, 0, len(builtinProfiles))
	for id := range builtinProfiles {
		ids = append(ids, id)
	}
	p.mu.RLock()
	for id := range p.overlay {
		if _, ok := builtinProfiles[id]; !ok {
			ids = append(ids, id)
		}
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
