package tools

import (
	"testing"
)

func TestModelRouter(t *testing.T) {
	router := NewModelRouter(RouterOptions{})

	tiers := []struct {
		name  string
		tier  ModelTier
		index int
	}{
		{"Local", TierLocal, 0},
		{"Fast", TierFast, 0},
		{"Balanced", TierBalanced, 0},
		{"Elite", TierElite, 0},
	}

	for _, tt := range tiers {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := router.GetConfig(tt.tier, tt.index)
			if err != nil {
				t.Errorf("Failed to get %s config: %v", tt.name, err)
				return
			}
			if cfg.Model == "" {
				t.Errorf("%s model is empty", tt.name)
			}
			if cfg.BaseURL == "" {
				t.Errorf("%s baseURL is empty", tt.name)
			}
			if cfg.Provider == "" {
				t.Errorf("%s provider is empty", tt.name)
			}
			if cfg.Tier != string(tt.tier) {
				t.Errorf("Expected tier %s, got %s", tt.tier, cfg.Tier)
			}
		})
	}
}

// TestRouterActuallyRoutes verifies router returns DIFFERENT configs for different tiers
func TestRouterActuallyRoutes(t *testing.T) {
	router := NewModelRouter(RouterOptions{})

	fastCfg, _ := router.GetConfig(TierFast, 0)
	eliteCfg, _ := router.GetConfig(TierElite, 0)
	localCfg, _ := router.GetConfig(TierLocal, 0)

	if fastCfg.Model == eliteCfg.Model {
		t.Errorf("Fast and Elite returned same model: %s", fastCfg.Model)
	}
	if fastCfg.Model == localCfg.Model {
		t.Errorf("Fast and Local returned same model: %s", fastCfg.Model)
	}
}

func TestRouterIndexing(t *testing.T) {
	router := NewModelRouter(RouterOptions{})

	if _, err := router.GetConfig(TierFast, 99); err == nil {
		t.Error("Expected error for out of range index")
	}
	if _, err := router.GetConfig("vision", 0); err == nil {
		t.Error("Expected error for unknown tier")
	}
}

func TestKeyInjection(t *testing.T) {
	router := NewModelRouter(RouterOptions{Keys: APIKeys{OpenAI: "sk-openai", Anthropic: "sk-ant"}})

	for _, preset := range router.presets[TierBalanced] {
		cfg, err := router.GetConfigByName(preset.Name)
		if err != nil {
			t.Fatalf("GetConfigByName(%s): %v", preset.Name, err)
		}
		switch preset.Provider {
		case "openai":
			if cfg.APIKey != "sk-openai" {
				t.Errorf("Expected openai key for %s, got %q", preset.Name, cfg.APIKey)
			}
		case "anthropic":
			if cfg.APIKey != "sk-ant" {
				t.Errorf("Expected anthropic key for %s, got %q", preset.Name, cfg.APIKey)
			}
		case "openrouter":
			if cfg.APIKey != "" {
				t.Errorf("Expected no openrouter key for %s, got %q", preset.Name, cfg.APIKey)
			}
		}
	}

	local, _ := router.GetConfig(TierLocal, 0)
	if local.APIKey != "ollama" {
		t.Errorf("Expected placeholder key for ollama, got %q", local.APIKey)
	}
}

func TestForMode(t *testing.T) {
	tests := []struct {
		name     string
		keys     APIKeys
		fast     bool
		wantTier ModelTier
		wantProv string
	}{
		{"fast with openai", APIKeys{OpenAI: "k"}, true, TierFast, "openai"},
		{"thorough with openai", APIKeys{OpenAI: "k"}, false, TierBalanced, "openai"},
		{"thorough with anthropic only", APIKeys{Anthropic: "k"}, false, TierBalanced, "anthropic"},
		{"fast with openrouter only", APIKeys{OpenRouter: "k"}, true, TierFast, "openrouter"},
		{"no keys falls back to local", APIKeys{}, false, TierLocal, "ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewModelRouter(RouterOptions{Keys: tt.keys})
			cfg := router.ForMode(tt.fast)
			if cfg.Tier != string(tt.wantTier) {
				t.Errorf("Expected tier %s, got %s", tt.wantTier, cfg.Tier)
			}
			if cfg.Provider != tt.wantProv {
				t.Errorf("Expected provider %s, got %s", tt.wantProv, cfg.Provider)
			}
		})
	}
}

func TestForMode_PinnedPreset(t *testing.T) {
	tests := []struct {
		name      string
		opts      RouterOptions
		fast      bool
		wantModel string
	}{
		{"thorough pinned by name", RouterOptions{Keys: APIKeys{OpenAI: "k"}, Model: "Claude Opus 4"}, false, "claude-opus-4-20250514"},
		{"fast pinned by model id", RouterOptions{Keys: APIKeys{OpenAI: "k"}, FastModel: "llama3.2:3b"}, true, "llama3.2:3b"},
		{"fast pin ignored in thorough mode", RouterOptions{Keys: APIKeys{OpenAI: "k"}, FastModel: "llama3.2:3b"}, false, "gpt-4.1"},
		{"unknown pin falls back to tiers", RouterOptions{Keys: APIKeys{OpenAI: "k"}, Model: "gpt-99"}, false, "gpt-4.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewModelRouter(tt.opts).ForMode(tt.fast)
			if cfg.Model != tt.wantModel {
				t.Errorf("Expected %s, got %s", tt.wantModel, cfg.Model)
			}
		})
	}
}

func TestGetConfigByName(t *testing.T) {
	router := NewModelRouter(RouterOptions{Keys: APIKeys{Anthropic: "sk-ant"}})

	for _, name := range []string{"Claude Sonnet 4", "claude sonnet 4", "claude-sonnet-4-20250514"} {
		cfg, err := router.GetConfigByName(name)
		if err != nil {
			t.Fatalf("GetConfigByName(%s): %v", name, err)
		}
		if cfg.Preset != "Claude Sonnet 4" || cfg.APIKey != "sk-ant" {
			t.Errorf("%s: unexpected config %+v", name, cfg)
		}
	}
}

func TestGetConfigByName_NonExistent(t *testing.T) {
	router := NewModelRouter(RouterOptions{})
	if _, err := router.GetConfigByName("Does Not Exist"); err == nil {
		t.Error("Expected error for non-existent model, got nil")
	}
}

func TestModelPresetFields(t *testing.T) {
	router := NewModelRouter(RouterOptions{})

	for tier, presets := range router.presets {
		for i, preset := range presets {
			t.Run(preset.Name, func(t *testing.T) {
				if preset.Name == "" {
					t.Errorf("Tier %s[%d]: Name is empty", tier, i)
				}
				if preset.Provider == "" {
					t.Errorf("Tier %s[%d]: Provider is empty", tier, i)
				}
				if preset.Model == "" {
					t.Errorf("Tier %s[%d]: Model is empty", tier, i)
				}
				if preset.BaseURL == "" {
					t.Errorf("Tier %s[%d]: BaseURL is empty", tier, i)
				}
				if preset.Description == "" {
					t.Errorf("Tier %s[%d]: Description is empty", tier, i)
				}
				if preset.AvgLatency == 0 {
					t.Errorf("Tier %s[%d]: AvgLatency is zero", tier, i)
				}
				if preset.ContextSize == 0 {
					t.Errorf("Tier %s[%d]: ContextSize is zero", tier, i)
				}
			})
		}
	}
}
