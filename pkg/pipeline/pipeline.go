// Package pipeline runs one parlay or picks request end to end:
// acquire -> filter -> research -> generate -> postprocess.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/acquisition"
	"github.com/phenomenon0/parlay-agents/pkg/filter"
	"github.com/phenomenon0/parlay-agents/pkg/generation"
	"github.com/phenomenon0/parlay-agents/pkg/odds"
	"github.com/phenomenon0/parlay-agents/pkg/picks"
	"github.com/phenomenon0/parlay-agents/pkg/policy"
	"github.com/phenomenon0/parlay-agents/pkg/postprocess"
	"github.com/phenomenon0/parlay-agents/pkg/research"
)

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// ErrGenerationFailed means the model never produced usable output.
var ErrGenerationFailed = errors.New("generation failed")

// Retry hints returned with structured failures.
const (
	RetryHintInsufficient = "Try more sports, a longer window or another bookmaker, or retry later when more games are posted."
	RetryHintGeneration   = "The model provider did not answer. Retry in a moment or switch to fast mode."
)

// PhaseResult holds the result of a phase execution.
type PhaseResult struct {
	Phase     core.Phase    `json:"phase"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Acquirer supplies odds.
type Acquirer interface {
	Acquire(ctx context.Context, req acquisition.Request) *acquisition.Result
}

// Enricher attaches research.
type Enricher interface {
	Enrich(ctx context.Context, events []core.Event, opts research.Options) []research.Enriched
}

// Generator runs the attempt loop.
type Generator interface {
	Run(ctx context.Context, req generation.Request, observe generation.Observer) (*generation.Result, error)
}

// Suggester produces picks.
type Suggester interface {
	Suggest(ctx context.Context, req picks.Request) (*picks.Result, error)
}

// Notifier receives progress events.
type Notifier interface {
	Notify(requestID, kind string, data interface{})
}

// Metrics receives pipeline measurements.
type Metrics interface {
	RecordPhase(phase string, durationSec float64)
	RecordRequest(kind, tier, status string, durationSec float64)
	RecordAcquisition(source string, events, quality int, fallback, expanded bool)
	RecordCorrection(changed bool)
	RecordLLMCost(model string, cost decimal.Decimal)
}

// Config bounds requests.
type Config struct {
	DefaultLegs  int
	MaxLegs      int
	DefaultDays  int
	MaxDays      int
	DefaultPicks int
	AllowLive    bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLegs:  3,
		MaxLegs:      10,
		DefaultDays:  3,
		MaxDays:      14,
		DefaultPicks: picks.DefaultCount,
		AllowLive:    true,
	}
}

// ParlayRequest is one parlay job.
type ParlayRequest struct {
	Sports    []string `json:"sports"`
	BetTypes  []string `json:"bet_types"`
	Legs      int      `json:"legs"`
	Tier      string   `json:"risk_tier"`
	Bookmaker string   `json:"bookmaker"`
	Days      int      `json:"days"`
	Fast      bool     `json:"fast"`
}

// PicksRequest is one pick-suggestions job.
type PicksRequest struct {
	Sports    []string `json:"sports"`
	BetTypes  []string `json:"bet_types"`
	Count     int      `json:"count"`
	Bookmaker string   `json:"bookmaker"`
	Days      int      `json:"days"`
	Fast      bool     `json:"fast"`
}

// PicksResult is the pick-suggestions payload.
type PicksResult struct {
	Picks    []core.Leg      `json:"picks"`
	Dropped  []picks.Dropped `json:"dropped,omitempty"`
	Metadata core.Metadata   `json:"metadata"`

	Insufficient bool   `json:"insufficient,omitempty"`
	Message      string `json:"message,omitempty"`
	RetryHint    string `json:"retry_hint,omitempty"`
}

// Pipeline coordinates the phases of one request. It holds no per-request
// state; concurrent calls are independent.
type Pipeline struct {
	cfg       Config
	acquirer  Acquirer
	enricher  Enricher
	generator Generator
	suggester Suggester
	post      *postprocess.Processor
	notifier  Notifier
	metrics   Metrics
	log       logrus.FieldLogger
	now       func() time.Time
	newID     func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnricher enables the research phase.
func WithEnricher(e Enricher) Option { return func(p *Pipeline) { p.enricher = e } }

// WithSuggester enables picks.
func WithSuggester(s Suggester) Option { return func(p *Pipeline) { p.suggester = s } }

// WithNotifier streams progress.
func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

// WithMetrics records measurements.
func WithMetrics(m Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(p *Pipeline) { p.log = l } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithIDs replaces the request id generator.
func WithIDs(newID func() string) Option { return func(p *Pipeline) { p.newID = newID } }

// New creates a Pipeline.
func New(cfg Config, acquirer Acquirer, generator Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		acquirer:  acquirer,
		generator: generator,
		log:       logrus.StandardLogger(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("component", "pipeline")
	p.post = postprocess.New(p.log)
	return p
}

// run is the request-scoped state shared by the phases of one call.
type run struct {
	id      string
	start   time.Time
	meta    core.Metadata
	log     logrus.FieldLogger
	results []PhaseResult
}

func (p *Pipeline) newRun() *run {
	id := p.newID()
	return &run{
		id:    id,
		start: p.now(),
		meta:  core.Metadata{RequestID: id, Timings: make(map[core.Phase]time.Duration)},
		log:   p.log.WithField("request_id", id),
	}
}

// runPhase times fn, records it and reports it.
func (p *Pipeline) runPhase(r *run, phase core.Phase, fn func() (interface{}, error)) error {
	start := p.now()
	p.notify(r.id, "phase", map[string]interface{}{"phase": phase, "status": "started"})

	data, err := fn()

	result := PhaseResult{
		Phase:     phase,
		Success:   err == nil,
		Data:      data,
		Duration:  p.now().Sub(start),
		Timestamp: p.now(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	r.results = append(r.results, result)
	r.meta.Timings[phase] = result.Duration

	if p.metrics != nil {
		p.metrics.RecordPhase(string(phase), result.Duration.Seconds())
	}
	p.notify(r.id, "phase", result)
	r.log.WithFields(logrus.Fields{"phase": phase, "duration": result.Duration, "ok": result.Success}).Debug("phase complete")
	return err
}

func (p *Pipeline) notify(id, kind string, data interface{}) {
	if p.notifier != nil {
		p.notifier.Notify(id, kind, data)
	}
}

func (p *Pipeline) finish(r *run, kind, tier, status string) {
	if p.metrics != nil {
		p.metrics.RecordRequest(kind, tier, status, p.now().Sub(r.start).Seconds())
	}
}

func (p *Pipeline) normalizeDays(days int) int {
	if days <= 0 {
		return p.cfg.DefaultDays
	}
	if p.cfg.MaxDays > 0 && days > p.cfg.MaxDays {
		return p.cfg.MaxDays
	}
	return days
}

// BuildParlay runs the full parlay pipeline. Missing data comes back as a
// structured result; an error is returned only for invalid requests or when
// the model never answered.
func (p *Pipeline) BuildParlay(ctx context.Context, req ParlayRequest) (*core.ParlayResult, error) {
	legs := req.Legs
	if legs == 0 {
		legs = p.cfg.DefaultLegs
	}
	if legs < 1 || legs > p.cfg.MaxLegs {
		return nil, fmt.Errorf("%w: legs must be between 1 and %d", ErrInvalidRequest, p.cfg.MaxLegs)
	}
	if len(req.Sports) == 0 {
		return nil, fmt.Errorf("%w: at least one sport is required", ErrInvalidRequest)
	}
	tier := core.ParseRiskTier(req.Tier)
	pol := policy.For(tier)
	days := p.normalizeDays(req.Days)

	r := p.newRun()
	r.log.WithFields(logrus.Fields{"sports": req.Sports, "legs": legs, "tier": tier, "fast": req.Fast}).Info("parlay request")

	// Acquire
	acq, events := p.acquire(ctx, r, acquisition.Request{
		Sports:    req.Sports,
		BetTypes:  req.BetTypes,
		Legs:      legs,
		Days:      days,
		Bookmaker: req.Bookmaker,
		AllowLive: p.cfg.AllowLive,
	})
	if acq.Insufficient {
		p.finish(r, "parlay", string(tier), "insufficient")
		out := &core.ParlayResult{
			Metadata:     r.meta,
			Insufficient: true,
			Message:      insufficientMessage(req.Sports, days),
			RetryHint:    RetryHintInsufficient,
		}
		p.notify(r.id, "result", out)
		return out, nil
	}

	// Research
	enriched := p.enrich(ctx, r, events, research.Options{Depth: research.DepthFor(tier), Fast: req.Fast})

	// Generate
	var gen *generation.Result
	err := p.runPhase(r, core.PhaseGenerate, func() (interface{}, error) {
		var err error
		gen, err = p.generator.Run(ctx, generation.Request{
			Events:   enriched,
			Legs:     legs,
			Tier:     tier,
			Sports:   req.Sports,
			BetTypes: req.BetTypes,
			Fast:     req.Fast,
		}, func(a generation.Attempt) {
			p.notify(r.id, "attempt", map[string]interface{}{
				"number":     a.Number,
				"accepted":   a.Evaluation.Accepted,
				"verdicts":   a.Evaluation.Verdicts,
				"duration":   a.Duration,
				"cost_usd":   a.CostUSD,
				"call_error": errString(a.Err),
			})
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"attempts": gen.Attempts, "validated": gen.Validated}, nil
	})
	if err != nil {
		p.finish(r, "parlay", string(tier), "error")
		r.log.WithError(err).Error("generation failed")
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	r.meta.Attempts = gen.Attempts
	r.meta.Validated = gen.Validated
	r.meta.Model = gen.Model
	r.meta.CostUSD = gen.CostUSD
	if p.metrics != nil {
		p.metrics.RecordLLMCost(gen.Model, decimal.NewFromFloat(gen.CostUSD))
	}

	// Postprocess
	out := &core.ParlayResult{}
	output := gen.Final.Output
	_ = p.runPhase(r, core.PhasePostprocess, func() (interface{}, error) {
		var structured []core.Leg
		if output.Kind == generation.Structured {
			structured = output.Legs
		}
		opts := postprocess.Options{Legs: structured, LockSection: pol.LockSection}
		if acq.Expanded {
			opts.ExpandedBetTypes = acq.ExpandedBetTypes
		}
		processed := p.post.Process(output.Raw, opts)
		for _, c := range processed.Corrections {
			if p.metrics != nil {
				p.metrics.RecordCorrection(c.Old != c.New)
			}
		}
		r.meta.OddsCorrections = len(processed.Corrections)

		out.Text = processed.Text
		out.Legs = structured
		if len(structured) > 0 {
			combo, err := odds.CombineLegs(legOdds(structured))
			if err != nil {
				r.log.WithError(err).Warn("structured legs could not be priced")
			} else {
				out.CombinedOdds = combo.American
				out.Payout = combo.PayoutString()
			}
		}
		return map[string]interface{}{"corrections": len(processed.Corrections), "lock_legs": len(processed.LockLegs)}, nil
	})

	out.Metadata = r.meta
	status := "validated"
	if !gen.Validated {
		status = "unvalidated"
	}
	p.finish(r, "parlay", string(tier), status)
	p.notify(r.id, "result", out)
	r.log.WithFields(logrus.Fields{"attempts": gen.Attempts, "validated": gen.Validated, "cost_usd": gen.CostUSD}).Info("parlay complete")
	return out, nil
}

// SuggestPicks runs acquisition and research, then asks for independent picks.
func (p *Pipeline) SuggestPicks(ctx context.Context, req PicksRequest) (*PicksResult, error) {
	if p.suggester == nil {
		return nil, fmt.Errorf("picks are not configured")
	}
	if len(req.Sports) == 0 {
		return nil, fmt.Errorf("%w: at least one sport is required", ErrInvalidRequest)
	}
	count := req.Count
	if count == 0 {
		count = p.cfg.DefaultPicks
	}
	if count < 1 || count > picks.MaxCount {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRequest, picks.MaxCount)
	}
	days := p.normalizeDays(req.Days)

	r := p.newRun()
	r.log.WithFields(logrus.Fields{"sports": req.Sports, "count": count}).Info("picks request")

	acq, events := p.acquire(ctx, r, acquisition.Request{
		Sports:    req.Sports,
		BetTypes:  req.BetTypes,
		Legs:      count,
		Days:      days,
		Bookmaker: req.Bookmaker,
		AllowLive: p.cfg.AllowLive,
	})
	if acq.Insufficient {
		p.finish(r, "picks", "", "insufficient")
		return &PicksResult{
			Metadata:     r.meta,
			Insufficient: true,
			Message:      insufficientMessage(req.Sports, days),
			RetryHint:    RetryHintInsufficient,
		}, nil
	}

	enriched := p.enrich(ctx, r, events, research.Options{Depth: research.DepthModerate, Fast: req.Fast})

	var res *picks.Result
	err := p.runPhase(r, core.PhaseGenerate, func() (interface{}, error) {
		var err error
		res, err = p.suggester.Suggest(ctx, picks.Request{
			Events:   enriched,
			Count:    count,
			Sports:   req.Sports,
			BetTypes: req.BetTypes,
			Fast:     req.Fast,
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"picks": len(res.Picks), "dropped": len(res.Dropped)}, nil
	})
	if err != nil {
		p.finish(r, "picks", "", "error")
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	r.meta.Attempts = 1
	r.meta.Validated = true
	r.meta.Model = res.Model
	r.meta.CostUSD = res.CostUSD
	if p.metrics != nil {
		p.metrics.RecordLLMCost(res.Model, decimal.NewFromFloat(res.CostUSD))
	}

	out := &PicksResult{Picks: res.Picks, Dropped: res.Dropped, Metadata: r.meta}
	p.finish(r, "picks", "", "validated")
	p.notify(r.id, "result", out)
	return out, nil
}

// acquire runs the acquire and filter phases and fills the acquisition
// metadata.
func (p *Pipeline) acquire(ctx context.Context, r *run, req acquisition.Request) (*acquisition.Result, []core.Event) {
	var acq *acquisition.Result
	_ = p.runPhase(r, core.PhaseAcquire, func() (interface{}, error) {
		acq = p.acquirer.Acquire(ctx, req)
		return map[string]interface{}{
			"events":   len(acq.Events),
			"source":   acq.Source,
			"fallback": acq.FallbackUsed,
			"expanded": acq.Expanded,
		}, acq.Err
	})

	r.meta.OddsSource = acq.Source
	r.meta.DegradedFreshness = acq.Degraded
	r.meta.FallbackUsed = acq.FallbackUsed
	r.meta.FallbackBookmakers = acq.FallbackBookmakers
	r.meta.MarketsExpanded = acq.Expanded
	r.meta.ExpandedBetTypes = acq.ExpandedBetTypes
	r.meta.DataQuality = acq.DataQuality
	if p.metrics != nil {
		p.metrics.RecordAcquisition(acq.Source, len(acq.Events), int(acq.DataQuality), acq.FallbackUsed, acq.Expanded)
	}
	if acq.Insufficient {
		r.log.WithError(acq.Err).Warn("no events acquired")
		return acq, nil
	}

	var events []core.Event
	_ = p.runPhase(r, core.PhaseFilter, func() (interface{}, error) {
		f := filter.ByKeys(acq.Events, acq.MarketKeys)
		events = f.Events
		if f.Unfiltered {
			r.log.WithField("keys", acq.MarketKeys).Info("no markets matched the selection, using unfiltered events")
		}
		return map[string]interface{}{"events": len(f.Events), "markets": f.Markets, "unfiltered": f.Unfiltered}, nil
	})
	r.meta.EventCount = len(events)
	return acq, events
}

// enrich runs the research phase. Without an enricher, events pass through
// in their acquired order.
func (p *Pipeline) enrich(ctx context.Context, r *run, events []core.Event, opts research.Options) []research.Enriched {
	var enriched []research.Enriched
	_ = p.runPhase(r, core.PhaseResearch, func() (interface{}, error) {
		if p.enricher == nil {
			enriched = make([]research.Enriched, len(events))
			for i, ev := range events {
				enriched[i] = research.Enriched{Event: ev}
			}
			return map[string]interface{}{"researched": 0}, nil
		}
		enriched = p.enricher.Enrich(ctx, events, opts)
		return map[string]interface{}{"researched": countResearched(enriched)}, nil
	})
	r.meta.ResearchedEvents = countResearched(enriched)
	return enriched
}

func countResearched(events []research.Enriched) int {
	n := 0
	for _, e := range events {
		if e.Research != nil {
			n++
		}
	}
	return n
}

func legOdds(legs []core.Leg) []string {
	out := make([]string, len(legs))
	for i, l := range legs {
		out[i] = l.Odds
	}
	return out
}

func insufficientMessage(sports []string, days int) string {
	window := "today"
	if days > 1 {
		window = fmt.Sprintf("in the next %d days", days)
	}
	return fmt.Sprintf("No betting opportunities found for %s %s.", strings.Join(sports, ", "), window)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
