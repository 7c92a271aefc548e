package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/acquisition"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
	"github.com/phenomenon0/parlay-agents/pkg/generation"
	"github.com/phenomenon0/parlay-agents/pkg/oddsapi"
	"github.com/phenomenon0/parlay-agents/pkg/picks"
	"github.com/phenomenon0/parlay-agents/pkg/research"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// bookSource serves canned bulk odds per bookmaker.
type bookSource struct {
	bulk map[string][]core.Event
}

func (s *bookSource) GetOdds(ctx context.Context, q oddsapi.OddsQuery) ([]core.Event, error) {
	var out []core.Event
	for _, ev := range s.bulk[q.Bookmakers[0]] {
		if ev.Sport == q.Sport {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *bookSource) ListEvents(ctx context.Context, sport string, from, to time.Time) ([]oddsapi.EventSummary, error) {
	return nil, nil
}

func (s *bookSource) GetEventOdds(ctx context.Context, sport, eventID string, markets, bookmakers []string) (*core.Event, error) {
	return nil, &oddsapi.StatusError{Code: 404, Body: "not found"}
}

type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (c *scriptedClient) Complete(ctx context.Context, prompt, system string) (*generation.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return &generation.Completion{Text: c.responses[i], Model: "scripted", CostUSD: 0.01}, nil
}

func (c *scriptedClient) Model() string { return "scripted" }

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
	ids   map[string]bool
}

func (n *recordingNotifier) Notify(requestID, kind string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ids == nil {
		n.ids = make(map[string]bool)
	}
	n.ids[requestID] = true
	n.kinds = append(n.kinds, kind)
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, k := range n.kinds {
		if k == kind {
			c++
		}
	}
	return c
}

type recordingMetrics struct {
	mu       sync.Mutex
	phases   map[string]int
	statuses []string
	cost     decimal.Decimal
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{phases: make(map[string]int)}
}

func (m *recordingMetrics) RecordPhase(phase string, d float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases[phase]++
}

func (m *recordingMetrics) RecordRequest(kind, tier, status string, d float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, kind+":"+status)
}

func (m *recordingMetrics) RecordAcquisition(source string, events, quality int, fallback, expanded bool) {}

func (m *recordingMetrics) RecordCorrection(changed bool) {}

func (m *recordingMetrics) RecordLLMCost(model string, cost decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cost = m.cost.Add(cost)
}

func pt(f float64) *float64 { return &f }

func nflEvent(id, book string, hours int, markets ...core.Market) core.Event {
	return core.Event{
		ID:           id,
		Sport:        "americanfootball_nfl",
		CommenceTime: testNow.Add(time.Duration(hours) * time.Hour),
		HomeTeam:     "Home " + id,
		AwayTeam:     "Away " + id,
		Bookmakers:   []core.BookmakerQuote{{Key: book, Markets: markets}},
	}
}

func h2h(id string) core.Market {
	return core.Market{Key: "h2h", Outcomes: []core.Outcome{
		{Name: "Home " + id, Price: -200},
		{Name: "Away " + id, Price: 170},
	}}
}

func spreads(id string) core.Market {
	return core.Market{Key: "spreads", Outcomes: []core.Outcome{
		{Name: "Home " + id, Point: pt(-3.5), Price: -110},
		{Name: "Away " + id, Point: pt(3.5), Price: -110},
	}}
}

func fallbackSource() *bookSource {
	return &bookSource{bulk: map[string][]core.Event{
		"draftkings": {nflEvent("e1", "draftkings", 5, h2h("e1"))},
		"fanduel": {
			nflEvent("e1", "fanduel", 5, h2h("e1"), spreads("e1")),
			nflEvent("e2", "fanduel", 6, h2h("e2"), spreads("e2")),
			nflEvent("e3", "fanduel", 7, h2h("e3"), spreads("e3")),
			nflEvent("e4", "fanduel", 8, h2h("e4"), spreads("e4")),
			nflEvent("e5", "fanduel", 9, h2h("e5"), spreads("e5")),
		},
	}}
}

func newAcquirer(src acquisition.OddsSource) *acquisition.Acquirer {
	cfg := acquisition.DefaultConfig()
	cfg.FallbackBookmakers = []string{"fanduel", "betmgm"}
	return acquisition.New(cfg, catalog.Default(), src,
		acquisition.WithLogger(quietLogger()),
		acquisition.WithClock(func() time.Time { return testNow }),
	)
}

func newGenerator(client generation.LLMClient) *generation.Generator {
	return generation.NewGenerator(generation.ClientSet{Thorough: client}, catalog.Default(),
		generation.WithLogger(quietLogger()),
		generation.WithClock(func() time.Time { return testNow }),
	)
}

func conservativeAnswer(combined string) string {
	return strings.Join([]string{
		"## Conservative 3-Leg Parlay",
		"Leg 1: Home e1 ML (-200) - Away e1 @ Home e1",
		"Leg 2: Home e2 ML (-200) - Away e2 @ Home e2",
		"Leg 3: Home e3 ML (-200) - Away e3 @ Home e3",
		"**Combined Odds:** " + combined,
		"**Payout on $100:** $999.99",
		"## LOCK of the day",
		"Leg 1: Home e4 ML (-200)",
		generation.LegsStart,
		`[{"date":"2026-10-19","game":"Away e1 @ Home e1","bet":"Home e1 ML","odds":"-200","confidence":7,"reasoning":"a"},
		  {"date":"2026-10-19","game":"Away e2 @ Home e2","bet":"Home e2 ML","odds":"-200","confidence":8,"reasoning":"b"},
		  {"date":"2026-10-19","game":"Away e3 @ Home e3","bet":"Home e3 ML","odds":"-200","confidence":6,"reasoning":"c"}]`,
		generation.LegsEnd,
	}, "\n")
}

func TestBuildParlay_EndToEndWithFallback(t *testing.T) {
	client := &scriptedClient{responses: []string{conservativeAnswer("+500")}}
	notifier := &recordingNotifier{}
	metrics := newRecordingMetrics()

	p := New(DefaultConfig(), newAcquirer(fallbackSource()), newGenerator(client),
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return testNow }),
		WithIDs(func() string { return "req-1" }),
		WithNotifier(notifier),
		WithMetrics(metrics),
	)

	res, err := p.BuildParlay(context.Background(), ParlayRequest{
		Sports:    []string{"NFL"},
		BetTypes:  []string{"Moneyline/Spread"},
		Legs:      3,
		Tier:      "conservative",
		Bookmaker: "DraftKings",
		Days:      1,
	})
	if err != nil {
		t.Fatalf("BuildParlay failed: %v", err)
	}

	md := res.Metadata
	if !md.FallbackUsed {
		t.Error("Expected fallbackUsed=true")
	}
	if md.EventCount != 5 {
		t.Errorf("Expected 5 merged events, got %d", md.EventCount)
	}
	if md.RequestID != "req-1" || !md.Validated || md.Attempts != 1 {
		t.Errorf("Unexpected metadata: %+v", md)
	}
	for _, phase := range []core.Phase{core.PhaseAcquire, core.PhaseFilter, core.PhaseResearch, core.PhaseGenerate, core.PhasePostprocess} {
		if _, ok := md.Timings[phase]; !ok {
			t.Errorf("Expected timing for %s", phase)
		}
	}

	// -200 x3 = 1.5^3 = 3.375 -> +238
	if res.CombinedOdds != "+238" || res.Payout != "$337.50" {
		t.Errorf("Expected +238 / $337.50, got %s / %s", res.CombinedOdds, res.Payout)
	}
	if strings.Contains(res.Text, "+500") || strings.Contains(res.Text, "$999.99") {
		t.Errorf("Expected model numbers replaced, got:\n%s", res.Text)
	}
	if strings.Contains(res.Text, "LEGS_JSON") || strings.Contains(res.Text, "LOCK of the day") {
		t.Errorf("Expected structured block and model lock removed, got:\n%s", res.Text)
	}
	if !strings.Contains(res.Text, "### Lock Parlay") || !strings.Contains(res.Text, "Home e2 ML") {
		t.Errorf("Expected rebuilt lock section, got:\n%s", res.Text)
	}
	if len(res.Legs) != 3 {
		t.Errorf("Expected 3 legs, got %d", len(res.Legs))
	}

	if notifier.count("result") != 1 || notifier.count("attempt") != 1 || notifier.count("phase") != 10 {
		t.Errorf("Unexpected notifications: %v", notifier.kinds)
	}
	if len(metrics.statuses) != 1 || metrics.statuses[0] != "parlay:validated" {
		t.Errorf("Unexpected request statuses %v", metrics.statuses)
	}
	if !metrics.cost.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("Expected cost 0.01, got %s", metrics.cost)
	}
}

func TestBuildParlay_Insufficient(t *testing.T) {
	client := &scriptedClient{responses: []string{"unused"}}
	p := New(DefaultConfig(), newAcquirer(&bookSource{}), newGenerator(client), WithLogger(quietLogger()))

	res, err := p.BuildParlay(context.Background(), ParlayRequest{Sports: []string{"NFL"}, Legs: 3})
	if err != nil {
		t.Fatalf("Expected structured result, got error %v", err)
	}
	if !res.Insufficient || res.Message == "" || res.RetryHint != RetryHintInsufficient {
		t.Errorf("Expected insufficient result, got %+v", res)
	}
	if client.calls != 0 {
		t.Errorf("Expected no model calls, got %d", client.calls)
	}
}

func TestBuildParlay_InvalidRequests(t *testing.T) {
	p := New(DefaultConfig(), newAcquirer(&bookSource{}), newGenerator(&scriptedClient{responses: []string{""}}), WithLogger(quietLogger()))

	tests := []struct {
		name string
		req  ParlayRequest
	}{
		{"no sports", ParlayRequest{Legs: 3}},
		{"too many legs", ParlayRequest{Sports: []string{"NFL"}, Legs: 11}},
		{"negative legs", ParlayRequest{Sports: []string{"NFL"}, Legs: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.BuildParlay(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestBuildParlay_ModelDown(t *testing.T) {
	client := &scriptedClient{err: errors.New("503")}
	metrics := newRecordingMetrics()
	p := New(DefaultConfig(), newAcquirer(fallbackSource()), newGenerator(client),
		WithLogger(quietLogger()), WithClock(func() time.Time { return testNow }), WithMetrics(metrics))

	_, err := p.BuildParlay(context.Background(), ParlayRequest{Sports: []string{"NFL"}, Legs: 2, Tier: "moderate", Days: 1})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Expected ErrGenerationFailed, got %v", err)
	}
	if len(metrics.statuses) != 1 || metrics.statuses[0] != "parlay:error" {
		t.Errorf("Unexpected statuses %v", metrics.statuses)
	}
}

func TestBuildParlay_UnvalidatedKeepsLastAttempt(t *testing.T) {
	// Every leg is too long for the conservative heavy-favorite limit.
	answer := strings.Join([]string{
		"Leg 1: Away e1 ML (+170)",
		"Leg 2: Away e2 ML (+170)",
		"Combined Odds: +100",
		generation.LegsStart,
		`[{"date":"2026-10-19","game":"Away e1 @ Home e1","bet":"Away e1 ML","odds":"+170","confidence":5},
		  {"date":"2026-10-19","game":"Away e2 @ Home e2","bet":"Away e2 ML","odds":"+170","confidence":5}]`,
		generation.LegsEnd,
	}, "\n")
	client := &scriptedClient{responses: []string{answer}}
	p := New(DefaultConfig(), newAcquirer(fallbackSource()), newGenerator(client),
		WithLogger(quietLogger()), WithClock(func() time.Time { return testNow }))

	res, err := p.BuildParlay(context.Background(), ParlayRequest{Sports: []string{"NFL"}, Legs: 2, Tier: "conservative", Days: 1})
	if err != nil {
		t.Fatalf("BuildParlay failed: %v", err)
	}
	if res.Metadata.Validated || res.Metadata.Attempts != 3 {
		t.Errorf("Expected 3 unvalidated attempts, got %+v", res.Metadata)
	}
	// 2.7 x 2.7 = 7.29 -> +629
	if res.CombinedOdds != "+629" || !strings.Contains(res.Text, "Combined Odds: +629") {
		t.Errorf("Expected recomputed +629, got %s\n%s", res.CombinedOdds, res.Text)
	}
}

type stubEnricher struct{ opts research.Options }

func (s *stubEnricher) Enrich(ctx context.Context, events []core.Event, opts research.Options) []research.Enriched {
	s.opts = opts
	out := make([]research.Enriched, len(events))
	for i, ev := range events {
		out[i] = research.Enriched{Event: ev}
		if i == 0 {
			out[i].Research = &research.Research{Summary: "healthy"}
		}
	}
	return out
}

func TestBuildParlay_ResearchDepthFollowsTier(t *testing.T) {
	enricher := &stubEnricher{}
	client := &scriptedClient{responses: []string{conservativeAnswer("+1")}}
	p := New(DefaultConfig(), newAcquirer(fallbackSource()), newGenerator(client),
		WithLogger(quietLogger()), WithClock(func() time.Time { return testNow }), WithEnricher(enricher))

	res, err := p.BuildParlay(context.Background(), ParlayRequest{Sports: []string{"NFL"}, Legs: 3, Tier: "conservative", Days: 1, Fast: true})
	if err != nil {
		t.Fatalf("BuildParlay failed: %v", err)
	}
	if enricher.opts.Depth != research.DepthDeep || !enricher.opts.Fast {
		t.Errorf("Expected deep fast research, got %+v", enricher.opts)
	}
	if res.Metadata.ResearchedEvents != 1 {
		t.Errorf("Expected 1 researched event, got %d", res.Metadata.ResearchedEvents)
	}
}

type stubSuggester struct {
	res *picks.Result
	err error
	req picks.Request
}

func (s *stubSuggester) Suggest(ctx context.Context, req picks.Request) (*picks.Result, error) {
	s.req = req
	return s.res, s.err
}

func TestSuggestPicks(t *testing.T) {
	sugg := &stubSuggester{res: &picks.Result{
		Picks: []core.Leg{{Event: "Away e1 @ Home e1", Bet: "Home e1 ML", Odds: "-200"}},
		Model: "scripted",
	}}
	p := New(DefaultConfig(), newAcquirer(fallbackSource()), nil,
		WithLogger(quietLogger()), WithClock(func() time.Time { return testNow }), WithSuggester(sugg))

	res, err := p.SuggestPicks(context.Background(), PicksRequest{Sports: []string{"NFL"}, Count: 2, Days: 1})
	if err != nil {
		t.Fatalf("SuggestPicks failed: %v", err)
	}
	if len(res.Picks) != 1 || res.Metadata.Model != "scripted" {
		t.Errorf("Unexpected result %+v", res)
	}
	if sugg.req.Count != 2 || len(sugg.req.Events) != 5 {
		t.Errorf("Expected 2 picks over 5 events, got %d over %d", sugg.req.Count, len(sugg.req.Events))
	}

	if _, err := p.SuggestPicks(context.Background(), PicksRequest{Sports: []string{"NFL"}, Count: 50}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for count 50, got %v", err)
	}

	sugg.err = picks.ErrNoPicks
	if _, err := p.SuggestPicks(context.Background(), PicksRequest{Sports: []string{"NFL"}, Days: 1}); !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Expected ErrGenerationFailed, got %v", err)
	}
}

func TestInsufficientMessage(t *testing.T) {
	if got := insufficientMessage([]string{"NFL", "NBA"}, 1); got != "No betting opportunities found for NFL, NBA today." {
		t.Errorf("Unexpected message %q", got)
	}
	if got := insufficientMessage([]string{"NFL"}, 3); !strings.Contains(got, "the next 3 days") {
		t.Errorf("Unexpected message %q", got)
	}
}
