// Package generation turns acquired odds and research into a validated parlay
// proposal by prompting a generative model and checking its answer.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/policy"
	"github.com/phenomenon0/parlay-agents/pkg/research"
)

// State is a step of the attempt loop.
type State string

const (
	StateBuildPrompt State = "BUILD_PROMPT"
	StateInvokeModel State = "INVOKE_MODEL"
	StateValidate    State = "VALIDATE"
	StateAccept      State = "ACCEPT"
	StateRetry       State = "RETRY"
	StateExhausted   State = "EXHAUSTED"
)

// ErrNoOutput means every attempt failed before the model produced text.
var ErrNoOutput = errors.New("model produced no output")

// Attempt records one pass through the loop.
type Attempt struct {
	Number     int           `json:"number"`
	Prompt     string        `json:"-"`
	Output     Output        `json:"-"`
	Evaluation Evaluation    `json:"evaluation"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
	CostUSD    float64       `json:"cost_usd"`

	// EstimatedCostUSD is the pre-call upper bound, when the client can price prompts.
	EstimatedCostUSD float64 `json:"estimated_cost_usd,omitempty"`
}

// Request is one generation job.
type Request struct {
	Events   []research.Enriched
	Legs     int
	Tier     core.RiskTier
	Sports   []string
	BetTypes []string
	Fast     bool
}

// Result is the accepted attempt, or the last one when attempts ran out.
type Result struct {
	Final     Attempt
	Attempts  int
	Validated bool
	State     State
	Model     string
	CostUSD   float64
}

// Metrics receives loop counters.
type Metrics interface {
	RecordAttempt(tier, outcome string)
	RecordViolation(rule string)
	RecordLLMError(model string)
}

// Observer is told about every finished attempt.
type Observer func(a Attempt)

// Generator runs the attempt loop.
type Generator struct {
	clients ClientSet
	catalog *catalog.Catalog
	limits  PromptLimits
	metrics Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithPromptLimits overrides the prompt bounds.
func WithPromptLimits(l PromptLimits) Option { return func(g *Generator) { g.limits = l } }

// WithMetrics records attempt counters.
func WithMetrics(m Metrics) Option { return func(g *Generator) { g.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(g *Generator) { g.log = l } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// NewGenerator creates a Generator.
func NewGenerator(clients ClientSet, cat *catalog.Catalog, opts ...Option) *Generator {
	g := &Generator{
		clients: clients,
		catalog: cat,
		limits:  DefaultPromptLimits(),
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.WithField("component", "generation")
	return g
}

// Run drives BUILD_PROMPT -> INVOKE_MODEL -> VALIDATE until an attempt is
// accepted or the tier's attempt budget is spent. Attempts are sequential so
// feedback always describes the previous attempt. An error is returned only
// when no attempt produced any output.
func (g *Generator) Run(ctx context.Context, req Request, observe Observer) (*Result, error) {
	pol := policy.For(req.Tier)
	client := g.clients.For(req.Fast)
	if client == nil {
		return nil, fmt.Errorf("no model client configured")
	}

	maxAttempts := pol.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		state    = StateBuildPrompt
		feedback []string
		current  Attempt
		last     *Attempt
		lastErr  error
		res      = &Result{Model: client.Model()}
	)

	for {
		switch state {
		case StateBuildPrompt:
			current = Attempt{Number: res.Attempts + 1}
			current.Prompt = BuildPrompt(g.catalog, PromptInput{
				Events:   req.Events,
				Legs:     req.Legs,
				Policy:   pol,
				Sports:   req.Sports,
				BetTypes: req.BetTypes,
				Feedback: feedback,
				Now:      g.now(),
			}, g.limits)
			state = StateInvokeModel

		case StateInvokeModel:
			res.Attempts++
			if est, ok := client.(CostEstimator); ok {
				usd, in, out := est.EstimateCost(current.Prompt, SystemPrompt)
				current.EstimatedCostUSD = usd
				g.log.WithFields(logrus.Fields{
					"attempt":           current.Number,
					"model":             client.Model(),
					"prompt_tokens":     in,
					"completion_tokens": out,
					"estimated_usd":     usd,
				}).Debug("pre-flight cost estimate")
			}
			start := g.now()
			completion, err := client.Complete(ctx, current.Prompt, SystemPrompt)
			current.Duration = g.now().Sub(start)
			if err != nil {
				current.Err = err
				lastErr = err
				g.log.WithError(err).WithField("attempt", current.Number).Warn("model call failed")
				if g.metrics != nil {
					g.metrics.RecordLLMError(client.Model())
				}
				g.finish(req, current, "error", observe)
				// Feedback from the last validated attempt still applies.
				state = g.next(res.Attempts, maxAttempts)
				continue
			}
			current.CostUSD = completion.CostUSD
			res.CostUSD += completion.CostUSD
			if completion.Model != "" {
				res.Model = completion.Model
			}
			current.Output = ParseOutput(completion.Text)
			state = StateValidate

		case StateValidate:
			current.Evaluation = Evaluate(Check{Output: current.Output, Target: req.Legs, Policy: pol})
			a := current
			last = &a

			if current.Evaluation.Accepted {
				g.finish(req, current, "accepted", observe)
				state = StateAccept
				continue
			}
			for _, rule := range current.Evaluation.Failed() {
				if g.metrics != nil {
					g.metrics.RecordViolation(rule)
				}
			}
			g.log.WithFields(logrus.Fields{
				"attempt": current.Number,
				"failed":  current.Evaluation.Failed(),
			}).Info("attempt rejected")
			g.finish(req, current, "rejected", observe)
			feedback = current.Evaluation.Feedback
			state = g.next(res.Attempts, maxAttempts)

		case StateRetry:
			state = StateBuildPrompt

		case StateAccept:
			res.Final = *last
			res.Validated = true
			res.State = StateAccept
			return res, nil

		case StateExhausted:
			if last == nil {
				if lastErr == nil {
					lastErr = ErrNoOutput
				}
				return nil, fmt.Errorf("%w: %v", ErrNoOutput, lastErr)
			}
			g.log.WithFields(logrus.Fields{
				"attempts": res.Attempts,
				"tier":     req.Tier,
			}).Warn("validation attempts exhausted, keeping last attempt")
			res.Final = *last
			res.Validated = false
			res.State = StateExhausted
			return res, nil
		}
	}
}

func (g *Generator) next(done, max int) State {
	if done < max {
		return StateRetry
	}
	return StateExhausted
}

func (g *Generator) finish(req Request, a Attempt, outcome string, observe Observer) {
	if g.metrics != nil {
		g.metrics.RecordAttempt(string(req.Tier), outcome)
	}
	if observe != nil {
		observe(a)
	}
}
