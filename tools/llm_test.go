package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(provider, model, baseURL string) LLMConfig {
	return LLMConfig{
		Provider:    provider,
		Model:       model,
		BaseURL:     baseURL,
		MaxTokens:   4096,
		Temperature: 0.7,
		Timeout:     10 * time.Second,
	}
}

func TestLLMTool_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		msgs := body["messages"].([]any)
		if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
			t.Errorf("Expected system message first, got %v", msgs)
		}
		w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"content":"three legs"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1000,"completion_tokens":500,"total_tokens":1500}}`))
	}))
	defer server.Close()

	cfg := testConfig("openai", "gpt-4o-mini", server.URL)
	cfg.APIKey = "sk-test"
	tool := NewLLMTool(cfg)

	resp, err := tool.Complete(context.Background(), LLMRequest{
		System:   "be brief",
		Messages: []LLMMessage{{Role: "user", Content: "build a parlay"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "three legs" {
		t.Errorf("Expected content, got %q", resp.Content)
	}
	// 1000 * 0.00000015 + 500 * 0.0000006
	want := 0.00045
	if diff := resp.CostUSD - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected cost %v, got %v", want, resp.CostUSD)
	}
	if tool.Cost().TotalTokens != 1500 {
		t.Errorf("Expected 1500 tokens tracked, got %d", tool.Cost().TotalTokens)
	}
}

func TestLLMTool_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" {
			t.Errorf("Unexpected key header %q", r.Header.Get("x-api-key"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["system"] != "sys" {
			t.Errorf("Expected system field, got %v", body["system"])
		}
		w.Write([]byte(`{"model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer server.Close()

	cfg := testConfig("anthropic", "claude-sonnet-4-20250514", server.URL)
	cfg.APIKey = "sk-ant"
	resp, err := NewLLMTool(cfg).Complete(context.Background(), LLMRequest{
		System:   "sys",
		Messages: []LLMMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("Expected joined text, got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestLLMTool_Retries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"model":"gpt-4o-mini","choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	cfg := testConfig("openai", "gpt-4o-mini", server.URL)
	cfg.RetryPolicy = RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}
	resp, err := NewLLMTool(cfg).Complete(context.Background(), LLMRequest{
		Messages: []LLMMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("Expected ok, got %q", resp.Content)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
	// Usage missing from the response is estimated.
	if resp.Usage.PromptTokens == 0 {
		t.Error("Expected estimated prompt tokens")
	}
}

func TestLLMTool_UnknownProvider(t *testing.T) {
	_, err := NewLLMTool(LLMConfig{Provider: "carrier-pigeon"}).Complete(context.Background(), LLMRequest{})
	if err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestLLMTool_EstimateCost(t *testing.T) {
	cfg := testConfig("openai", "gpt-4o-mini", "http://unused")
	cfg.MaxTokens = 1000
	usd, prompt, completion := NewLLMTool(cfg).EstimateCost(LLMRequest{
		System:   "be brief",
		Messages: []LLMMessage{{Role: "user", Content: "build a three leg parlay from tonight's games"}},
	})
	if prompt == 0 {
		t.Error("Expected prompt tokens to be estimated")
	}
	if completion != 1000 {
		t.Errorf("Expected completion bound of 1000, got %d", completion)
	}
	if want := calculateCost("gpt-4o-mini", prompt, completion); usd != want {
		t.Errorf("Expected %v, got %v", want, usd)
	}
}

func TestCalculateCost(t *testing.T) {
	if c := calculateCost("openai/gpt-4o-mini", 1_000_000, 0); c < 0.149 || c > 0.151 {
		t.Errorf("Expected ~0.15, got %v", c)
	}
	if c := calculateCost("qwen3:8b", 1000, 1000); c != 0 {
		t.Errorf("Expected local model to be free, got %v", c)
	}
	if c := calculateCost("mystery-model", 1000, 0); c <= 0 {
		t.Errorf("Expected fallback rate, got %v", c)
	}
}
