// Package tools provides the generative-text provider client and the model
// router used to pick a provider preset per pipeline mode.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// === LLM Tool Configuration ===

type LLMConfig struct {
	Provider    string // "openai", "anthropic", "ollama", "deepseek", "openrouter"
	Model       string
	Tier        string // optional router tier metadata
	Preset      string // optional preset/name from router
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	RetryPolicy RetryPolicy
}

type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

type CostTracker struct {
	mu               sync.Mutex
	TotalTokens      int64
	PromptTokens     int64
	CompletionTokens int64
	EstimatedCostUSD float64
}

// Rough rate table (USD per token); fallback uses heuristics.
var modelRates = []struct {
	match       string
	inputRate   float64
	outputRate  float64
	matchPrefix bool
}{
	{"claude-opus-4", 0.000015, 0.000075, false},
	{"claude-sonnet-4", 0.000003, 0.000015, false},
	{"claude-3-5-haiku", 0.0000008, 0.000004, false},
	{"claude-3-haiku", 0.00000025, 0.00000125, false},

	{"gpt-5.1", 0.00000125, 0.000010, true},
	{"gpt-5", 0.000002, 0.000008, true},
	{"gpt-4o-mini", 0.000000150, 0.000000600, false},
	{"gpt-4o", 0.0000050, 0.0000150, true},
	{"gpt-4.1-mini", 0.0000004, 0.0000016, true},
	{"gpt-4.1", 0.000002, 0.000008, true},

	{"gemini-2.5-flash-lite", 0.0000001, 0.0000004, false},
	{"gemini-2.5-flash", 0.0000003, 0.0000025, false},
	{"gemini-2.5-pro", 0.00000125, 0.000010, false},

	{"deepseek-v3", 0.00000015, 0.00000075, true},
	{"deepseek", 0.00000014, 0.00000028, true},

	{"llama3", 0, 0, true},
	{"qwen", 0, 0, true},
}

func rateForModel(model string) (float64, float64, bool) {
	lower := strings.ToLower(model)
	// OpenRouter style "vendor/model"
	if i := strings.LastIndex(lower, "/"); i >= 0 {
		lower = lower[i+1:]
	}
	for _, r := range modelRates {
		if r.matchPrefix {
			if strings.HasPrefix(lower, strings.ToLower(r.match)) {
				return r.inputRate, r.outputRate, true
			}
		} else if strings.Contains(lower, strings.ToLower(r.match)) {
			return r.inputRate, r.outputRate, true
		}
	}
	return 0, 0, false
}

func calculateCost(model string, promptTokens, completionTokens int) float64 {
	if in, out, ok := rateForModel(model); ok {
		return (float64(promptTokens) * in) + (float64(completionTokens) * out)
	}

	// Fallback heuristic
	rateInput := 0.000005  // $5 per 1M tokens
	rateOutput := 0.000015 // $15 per 1M tokens
	return (float64(promptTokens) * rateInput) + (float64(completionTokens) * rateOutput)
}

func (c *CostTracker) AddUsage(prompt, completion int, model string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PromptTokens += int64(prompt)
	c.CompletionTokens += int64(completion)
	c.TotalTokens += int64(prompt + completion)
	cost := calculateCost(model, prompt, completion)
	c.EstimatedCostUSD += cost
	return cost
}

// === LLM Request/Response ===

type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type LLMRequest struct {
	Messages    []LLMMessage `json:"messages"`
	System      string       `json:"system,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type LLMResponse struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	FinishReason string  `json:"finish_reason"`
	Usage        Usage   `json:"usage"`
	CostUSD      float64 `json:"cost_usd"`
}

// === LLM Tool ===

type LLMTool struct {
	config      LLMConfig
	client      *http.Client
	costTracker *CostTracker
}

func NewLLMTool(config LLMConfig) *LLMTool {
	// Connection pooling; LLM responses can take a while to start.
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
	}

	return &LLMTool{
		config: config,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		costTracker: &CostTracker{},
	}
}

func (t *LLMTool) Cost() *CostTracker {
	return t.costTracker
}

func (t *LLMTool) Config() LLMConfig {
	return t.config
}

func (t *LLMTool) applyDefaults(req *LLMRequest) {
	if req.MaxTokens == 0 {
		req.MaxTokens = t.config.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = t.config.Temperature
	}
}

// EstimateCost provides a preflight cost estimate (tokens + USD) for budgeting.
func (t *LLMTool) EstimateCost(req LLMRequest) (float64, int, int) {
	t.applyDefaults(&req)
	promptTokens := estimatePromptTokens(&req)
	// Completion tokens unknown pre-call; use MaxTokens as an upper bound.
	completionTokens := req.MaxTokens
	return calculateCost(t.config.Model, promptTokens, completionTokens), promptTokens, completionTokens
}

// Complete sends one request, retrying per the configured policy.
func (t *LLMTool) Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	t.applyDefaults(&req)

	var resp *LLMResponse
	var err error

	maxRetries := t.config.RetryPolicy.MaxRetries
	if maxRetries == 0 {
		maxRetries = 1
	}

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.config.RetryPolicy.Backoff * time.Duration(i)):
			}
		}

		switch t.config.Provider {
		case "openai", "openrouter", "deepseek":
			resp, err = t.callOpenAI(ctx, &req)
		case "anthropic":
			resp, err = t.callAnthropic(ctx, &req)
		case "ollama":
			resp, err = t.callOllama(ctx, &req)
		default:
			return nil, fmt.Errorf("unknown provider: %s", t.config.Provider)
		}

		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}

	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		resp.Usage.PromptTokens = estimatePromptTokens(&req)
		resp.Usage.CompletionTokens = estimateTokens(resp.Content)
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	model := resp.Model
	if model == "" {
		model = t.config.Model
	}
	resp.CostUSD = t.costTracker.AddUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, model)
	return resp, nil
}

// === Provider Implementations ===

func (t *LLMTool) callOpenAI(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	messages := req.Messages
	if req.System != "" {
		messages = append([]LLMMessage{{Role: "system", Content: req.System}}, messages...)
	}
	openaiReq := map[string]any{
		"model":    t.config.Model,
		"messages": messages,
	}

	// Reasoning models take max_completion_tokens and a fixed temperature.
	isReasoningModel := strings.HasPrefix(t.config.Model, "gpt-5") || strings.HasPrefix(t.config.Model, "o1") || strings.HasPrefix(t.config.Model, "o3")
	if isReasoningModel {
		openaiReq["max_completion_tokens"] = req.MaxTokens
	} else {
		openaiReq["max_tokens"] = req.MaxTokens
		openaiReq["temperature"] = req.Temperature
	}

	body, _ := json.Marshal(openaiReq)

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		t.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	if t.config.Provider == "openrouter" {
		httpReq.Header.Set("HTTP-Referer", "https://github.com/phenomenon0/parlay-agents")
		httpReq.Header.Set("X-Title", "Parlay Agents")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI API error %d: %s", resp.StatusCode, string(body))
	}

	var openaiResp struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				Reasoning string `json:"reasoning"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage Usage  `json:"usage"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, err
	}

	if len(openaiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	// Some models put the answer in "reasoning" and leave content empty.
	content := openaiResp.Choices[0].Message.Content
	if content == "" && openaiResp.Choices[0].Message.Reasoning != "" {
		content = openaiResp.Choices[0].Message.Reasoning
	}

	return &LLMResponse{
		Content:      content,
		Model:        openaiResp.Model,
		FinishReason: openaiResp.Choices[0].FinishReason,
		Usage:        openaiResp.Usage,
	}, nil
}

func (t *LLMTool) callAnthropic(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	anthropicReq := map[string]any{
		"model":       t.config.Model,
		"max_tokens":  req.MaxTokens,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}

	if req.System != "" {
		anthropicReq["system"] = req.System
	}

	body, _ := json.Marshal(anthropicReq)

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		t.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", t.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Anthropic API error %d: %s", resp.StatusCode, string(body))
	}

	var anthropicResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&anthropicResp); err != nil {
		return nil, err
	}

	content := ""
	for _, c := range anthropicResp.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	return &LLMResponse{
		Content:      content,
		Model:        anthropicResp.Model,
		FinishReason: anthropicResp.StopReason,
		Usage: Usage{
			PromptTokens:     anthropicResp.Usage.InputTokens,
			CompletionTokens: anthropicResp.Usage.OutputTokens,
			TotalTokens:      anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		},
	}, nil
}

func (t *LLMTool) callOllama(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	messages := req.Messages
	if req.System != "" {
		messages = append([]LLMMessage{{Role: "system", Content: req.System}}, messages...)
	}
	ollamaReq := map[string]any{
		"model":    t.config.Model,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	body, _ := json.Marshal(ollamaReq)

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		t.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Ollama API error %d: %s", resp.StatusCode, string(body))
	}

	var ollamaResp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Model string `json:"model"`
		Done  bool   `json:"done"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, err
	}

	finishReason := "stop"
	if !ollamaResp.Done {
		finishReason = "length"
	}

	return &LLMResponse{
		Content:      ollamaResp.Message.Content,
		Model:        ollamaResp.Model,
		FinishReason: finishReason,
	}, nil
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Very rough heuristic: ~4 characters per token for mixed English.
	return (len(text) + 3) / 4
}

func estimatePromptTokens(req *LLMRequest) int {
	if req == nil {
		return 0
	}
	total := estimateTokens(req.System)
	for _, msg := range req.Messages {
		total += estimateTokens(msg.Content)
	}
	return total
}
