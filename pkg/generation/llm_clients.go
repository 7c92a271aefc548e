package generation

import (
	"context"
	"fmt"

	"github.com/phenomenon0/parlay-agents/tools"
)

// Completion is one model response.
type Completion struct {
	Text    string
	Model   string
	CostUSD float64
}

// LLMClient is the generative-text provider.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, systemPrompt string) (*Completion, error)
	Model() string
}

// CostEstimator is implemented by clients that can price a prompt before it
// is sent. Completion tokens are bounded by the client's max tokens.
type CostEstimator interface {
	EstimateCost(prompt string, systemPrompt string) (usd float64, promptTokens, completionTokens int)
}

// LLMToolClient wraps tools.LLMTool to implement LLMClient.
type LLMToolClient struct {
	tool *tools.LLMTool
}

// NewLLMToolClient creates an LLMClient from an LLMConfig.
func NewLLMToolClient(config tools.LLMConfig) *LLMToolClient {
	return &LLMToolClient{tool: tools.NewLLMTool(config)}
}

// Complete implements LLMClient.Complete.
func (c *LLMToolClient) Complete(ctx context.Context, prompt string, systemPrompt string) (*Completion, error) {
	resp, err := c.tool.Complete(ctx, request(prompt, systemPrompt))
	if err != nil {
		return nil, fmt.Errorf("LLM call failed: %w", err)
	}
	model := resp.Model
	if model == "" {
		model = c.tool.Config().Model
	}
	return &Completion{Text: resp.Content, Model: model, CostUSD: resp.CostUSD}, nil
}

// Model implements LLMClient.Model.
func (c *LLMToolClient) Model() string {
	return c.tool.Config().Model
}

// EstimateCost implements CostEstimator.
func (c *LLMToolClient) EstimateCost(prompt string, systemPrompt string) (float64, int, int) {
	return c.tool.EstimateCost(request(prompt, systemPrompt))
}

func request(prompt, systemPrompt string) tools.LLMRequest {
	return tools.LLMRequest{
		Messages: []tools.LLMMessage{
			{Role: "user", Content: prompt},
		},
		System: systemPrompt,
	}
}

// ClientSet holds one client per pipeline mode.
type ClientSet struct {
	Thorough LLMClient
	Fast     LLMClient
}

// NewClientSet builds clients from the router's mode presets.
func NewClientSet(router *tools.ModelRouter) ClientSet {
	return ClientSet{
		Thorough: NewLLMToolClient(router.ForMode(false)),
		Fast:     NewLLMToolClient(router.ForMode(true)),
	}
}

// For returns the client for a mode. A missing fast client falls back to the
// thorough one.
func (s ClientSet) For(fast bool) LLMClient {
	if fast && s.Fast != nil {
		return s.Fast
	}
	return s.Thorough
}
