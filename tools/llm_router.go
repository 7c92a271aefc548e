package tools

import (
	"fmt"
	"strings"
	"time"
)

// === LLM Router: Model Selection ===

// ModelTier represents different quality/speed tiers
type ModelTier string

const (
	TierLocal    ModelTier = "local"    // Local models via Ollama (free, offline)
	TierFast     ModelTier = "fast"     // Cheap and quick, used in fast mode
	TierBalanced ModelTier = "balanced" // Default for parlay generation
	TierElite    ModelTier = "elite"    // Highest quality
)

const (
	openRouterURL = "https://openrouter.ai/api/v1"
	anthropicURL  = "https://api.anthropic.com/v1"
	openAIURL     = "https://api.openai.com/v1"
)

// ModelPreset contains curated model configurations
type ModelPreset struct {
	Name        string
	Provider    string
	Model       string
	BaseURL     string
	Description string
	Tier        ModelTier
	AvgLatency  time.Duration
	CostPer1k   float64 // USD per 1k tokens (avg prompt+completion)
	ContextSize int     // Context window in tokens
}

// APIKeys holds provider credentials.
type APIKeys struct {
	OpenAI     string
	Anthropic  string
	OpenRouter string
}

// RouterOptions configures the router.
type RouterOptions struct {
	Keys      APIKeys
	OllamaURL string
	MaxTokens int
	Timeout   time.Duration
	Retries   int

	// Model and FastModel pin a preset (by name or model id) for thorough and
	// fast mode. Empty or unknown values use tier selection.
	Model     string
	FastModel string
}

// ModelRouter helps select the best model for a task
type ModelRouter struct {
	presets map[ModelTier][]ModelPreset
	opts    RouterOptions
}

// NewModelRouter creates a router with curated presets
func NewModelRouter(opts RouterOptions) *ModelRouter {
	if opts.OllamaURL == "" {
		opts.OllamaURL = "http://localhost:11434"
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if opts.Timeout == 0 {
		opts.Timeout = 90 * time.Second
	}
	router := &ModelRouter{
		presets: make(map[ModelTier][]ModelPreset),
		opts:    opts,
	}
	router.initPresets()
	return router
}

func (r *ModelRouter) initPresets() {
	r.presets[TierLocal] = []ModelPreset{
		{
			Name:        "Ollama Qwen3 8B",
			Provider:    "ollama",
			Model:       "qwen3:8b",
			BaseURL:     r.opts.OllamaURL,
			Description: "Local Qwen3 8B - great all-rounder",
			Tier:        TierLocal,
			AvgLatency:  3 * time.Second,
			ContextSize: 32000,
		},
		{
			Name:        "Ollama Llama3.2 3B",
			Provider:    "ollama",
			Model:       "llama3.2:3b",
			BaseURL:     r.opts.OllamaURL,
			Description: "Local Llama3.2 3B - ultra fast",
			Tier:        TierLocal,
			AvgLatency:  1 * time.Second,
			ContextSize: 128000,
		},
	}

	r.presets[TierFast] = []ModelPreset{
		{
			Name:        "GPT-4o Mini",
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			BaseURL:     openAIURL,
			Description: "Cheap, quick structured output",
			Tier:        TierFast,
			AvgLatency:  3 * time.Second,
			CostPer1k:   0.0004,
			ContextSize: 128000,
		},
		{
			Name:        "Gemini 2.5 Flash-Lite",
			Provider:    "openrouter",
			Model:       "google/gemini-2.5-flash-lite",
			BaseURL:     openRouterURL,
			Description: "Ultra-cheap, 1M context",
			Tier:        TierFast,
			AvgLatency:  2 * time.Second,
			CostPer1k:   0.00025,
			ContextSize: 1000000,
		},
		{
			Name:        "Claude Haiku 3.5",
			Provider:    "anthropic",
			Model:       "claude-3-5-haiku-latest",
			BaseURL:     anthropicURL,
			Description: "Fast Anthropic model",
			Tier:        TierFast,
			AvgLatency:  3 * time.Second,
			CostPer1k:   0.0024,
			ContextSize: 200000,
		},
	}

	r.presets[TierBalanced] = []ModelPreset{
		{
			Name:        "GPT-4.1",
			Provider:    "openai",
			Model:       "gpt-4.1",
			BaseURL:     openAIURL,
			Description: "Strong instruction following",
			Tier:        TierBalanced,
			AvgLatency:  8 * time.Second,
			CostPer1k:   0.005,
			ContextSize: 1000000,
		},
		{
			Name:        "Claude Sonnet 4",
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			BaseURL:     anthropicURL,
			Description: "Careful reasoning over long context",
			Tier:        TierBalanced,
			AvgLatency:  10 * time.Second,
			CostPer1k:   0.009,
			ContextSize: 200000,
		},
		{
			Name:        "Gemini 2.5 Flash",
			Provider:    "openrouter",
			Model:       "google/gemini-2.5-flash",
			BaseURL:     openRouterURL,
			Description: "Good balance via OpenRouter",
			Tier:        TierBalanced,
			AvgLatency:  5 * time.Second,
			CostPer1k:   0.0014,
			ContextSize: 1000000,
		},
	}

	r.presets[TierElite] = []ModelPreset{
		{
			Name:        "Claude Opus 4",
			Provider:    "anthropic",
			Model:       "claude-opus-4-20250514",
			BaseURL:     anthropicURL,
			Description: "Highest quality",
			Tier:        TierElite,
			AvgLatency:  15 * time.Second,
			CostPer1k:   0.045,
			ContextSize: 200000,
		},
		{
			Name:        "Gemini 2.5 Pro",
			Provider:    "openrouter",
			Model:       "google/gemini-2.5-pro",
			BaseURL:     openRouterURL,
			Description: "Excellent long-context reasoning",
			Tier:        TierElite,
			AvgLatency:  12 * time.Second,
			CostPer1k:   0.006,
			ContextSize: 1000000,
		},
	}
}

func (r *ModelRouter) keyFor(preset ModelPreset) string {
	switch preset.Provider {
	case "ollama":
		return "ollama" // Ollama doesn't need a key, but set something
	case "anthropic":
		return r.opts.Keys.Anthropic
	case "openrouter":
		return r.opts.Keys.OpenRouter
	case "openai":
		return r.opts.Keys.OpenAI
	}
	return ""
}

func (r *ModelRouter) configFor(preset ModelPreset) LLMConfig {
	return LLMConfig{
		Provider:    preset.Provider,
		Model:       preset.Model,
		Tier:        string(preset.Tier),
		Preset:      preset.Name,
		APIKey:      r.keyFor(preset),
		BaseURL:     preset.BaseURL,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: 0.7,
		Timeout:     r.opts.Timeout,
		RetryPolicy: RetryPolicy{MaxRetries: r.opts.Retries, Backoff: 2 * time.Second},
	}
}

// GetConfig returns an LLMConfig for the specified tier and index
func (r *ModelRouter) GetConfig(tier ModelTier, index int) (LLMConfig, error) {
	preset, err := r.GetPreset(tier, index)
	if err != nil {
		return LLMConfig{}, err
	}
	return r.configFor(preset), nil
}

// FirstAvailable returns the first preset in tier that has credentials.
func (r *ModelRouter) FirstAvailable(tier ModelTier) (LLMConfig, error) {
	presets, ok := r.presets[tier]
	if !ok {
		return LLMConfig{}, fmt.Errorf("unknown tier: %s", tier)
	}
	for _, p := range presets {
		if r.keyFor(p) != "" {
			return r.configFor(p), nil
		}
	}
	return LLMConfig{}, fmt.Errorf("no credentials for any %s model", tier)
}

// ForMode picks a model for a pipeline mode. A pinned preset wins. Otherwise
// fast mode prefers the fast tier and thorough mode the balanced tier,
// falling back through the other tiers and ending with a local model.
func (r *ModelRouter) ForMode(fast bool) LLMConfig {
	pinned := r.opts.Model
	if fast {
		pinned = r.opts.FastModel
	}
	if pinned != "" {
		if cfg, err := r.GetConfigByName(pinned); err == nil {
			return cfg
		}
	}

	order := []ModelTier{TierBalanced, TierElite, TierFast}
	if fast {
		order = []ModelTier{TierFast, TierBalanced}
	}
	for _, tier := range order {
		if cfg, err := r.FirstAvailable(tier); err == nil {
			return cfg
		}
	}
	cfg, _ := r.GetConfig(TierLocal, 0)
	return cfg
}

// GetPreset returns the ModelPreset for a tier and index
func (r *ModelRouter) GetPreset(tier ModelTier, index int) (ModelPreset, error) {
	presets, ok := r.presets[tier]
	if !ok {
		return ModelPreset{}, fmt.Errorf("unknown tier: %s", tier)
	}

	if index < 0 || index >= len(presets) {
		return ModelPreset{}, fmt.Errorf("index %d out of range for tier %s (has %d models)", index, tier, len(presets))
	}

	return presets[index], nil
}

// GetConfigByName finds a preset by display name or model id across all
// tiers. Names match case-insensitively.
func (r *ModelRouter) GetConfigByName(name string) (LLMConfig, error) {
	want := strings.TrimSpace(name)
	for _, tier := range []ModelTier{TierFast, TierBalanced, TierElite, TierLocal} {
		for _, preset := range r.presets[tier] {
			if strings.EqualFold(preset.Name, want) || preset.Model == want {
				return r.configFor(preset), nil
			}
		}
	}
	return LLMConfig{}, fmt.Errorf("model not found: %s", name)
}
