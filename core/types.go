// Package core provides the shared data model for the parlay pipeline.
// Types here are plain values; every pipeline run works on its own copies.
package core

import (
	"fmt"
	"strings"
	"time"
)

// RiskTier selects the acceptance policy used by the generation loop.
type RiskTier string

const (
	RiskConservative RiskTier = "conservative"
	RiskModerate     RiskTier = "moderate"
	RiskAggressive   RiskTier = "aggressive"
)

// ParseRiskTier maps caller input onto a tier. Unknown values map to moderate.
func ParseRiskTier(s string) RiskTier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conservative", "low", "safe":
		return RiskConservative
	case "aggressive", "high", "degen":
		return RiskAggressive
	default:
		return RiskModerate
	}
}

// Market keys understood by the odds provider.
const (
	MarketMoneyline = "h2h"
	MarketSpread    = "spreads"
	MarketTotal     = "totals"
)

// Outcome is a single priced selection inside a market.
type Outcome struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"` // player name on prop markets
	Point       *float64 `json:"point,omitempty"`
	Price       int      `json:"price"`
}

// Market is one bettable category for an event.
type Market struct {
	Key      string    `json:"key"`
	Outcomes []Outcome `json:"outcomes"`
}

// BookmakerQuote holds every market a bookmaker offers for an event.
type BookmakerQuote struct {
	Key        string    `json:"key"`
	Title      string    `json:"title,omitempty"`
	Markets    []Market  `json:"markets"`
	LastUpdate time.Time `json:"last_update"`
}

// Event is a snapshot of one fixture with its bookmaker odds tree.
type Event struct {
	ID           string           `json:"id"`
	Sport        string           `json:"sport"`
	CommenceTime time.Time        `json:"commence_time"`
	HomeTeam     string           `json:"home_team"`
	AwayTeam     string           `json:"away_team"`
	Bookmakers   []BookmakerQuote `json:"bookmakers"`
}

// Key returns the provider id, or a key synthesized from sport, teams and start time.
func (e Event) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s_%s_%s_%s",
		e.Sport,
		e.CommenceTime.UTC().Format("20060102T1504"),
		strings.ReplaceAll(strings.ToLower(e.AwayTeam), " ", "-"),
		strings.ReplaceAll(strings.ToLower(e.HomeTeam), " ", "-"),
	)
}

// Clone returns a deep copy; no slice or pointer is shared with e.
func (e Event) Clone() Event {
	cp := e
	if e.Bookmakers == nil {
		return cp
	}
	cp.Bookmakers = make([]BookmakerQuote, len(e.Bookmakers))
	for i, bm := range e.Bookmakers {
		cp.Bookmakers[i] = bm
		if bm.Markets == nil {
			continue
		}
		cp.Bookmakers[i].Markets = make([]Market, len(bm.Markets))
		for j, m := range bm.Markets {
			cp.Bookmakers[i].Markets[j] = m
			if m.Outcomes == nil {
				continue
			}
			outs := make([]Outcome, len(m.Outcomes))
			for k, o := range m.Outcomes {
				outs[k] = o
				if o.Point != nil {
					p := *o.Point
					outs[k].Point = &p
				}
			}
			cp.Bookmakers[i].Markets[j].Outcomes = outs
		}
	}
	return cp
}

// CloneEvents deep-copies a slice of events.
func CloneEvents(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}

// Matchup renders the event as "Away @ Home".
func (e Event) Matchup() string {
	return e.AwayTeam + " @ " + e.HomeTeam
}

// MarketKeys returns the distinct market keys with at least one outcome, in first-seen order.
func (e Event) MarketKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, bm := range e.Bookmakers {
		for _, m := range bm.Markets {
			if len(m.Outcomes) == 0 || seen[m.Key] {
				continue
			}
			seen[m.Key] = true
			keys = append(keys, m.Key)
		}
	}
	return keys
}

// Leg is one wager line proposed by the model.
type Leg struct {
	Date       string `json:"date"`
	Event      string `json:"game"`
	Bet        string `json:"bet"`
	Odds       string `json:"odds"`
	Confidence int    `json:"confidence"`
	Rationale  string `json:"reasoning,omitempty"`
}

// Phase names a pipeline stage for timing and progress reporting.
type Phase string

const (
	PhaseAcquire     Phase = "acquire"
	PhaseFilter      Phase = "filter"
	PhaseResearch    Phase = "research"
	PhaseGenerate    Phase = "generate"
	PhasePostprocess Phase = "postprocess"
)

// Metadata describes how a result was produced.
type Metadata struct {
	RequestID          string                  `json:"request_id"`
	OddsSource         string                  `json:"odds_source"`
	DegradedFreshness  bool                    `json:"degraded_freshness"`
	FallbackUsed       bool                    `json:"fallback_used"`
	FallbackBookmakers []string                `json:"fallback_bookmakers,omitempty"`
	MarketsExpanded    bool                    `json:"markets_expanded"`
	ExpandedBetTypes   []string                `json:"expanded_bet_types,omitempty"`
	DataQuality        float64                 `json:"data_quality"`
	EventCount         int                     `json:"event_count"`
	ResearchedEvents   int                     `json:"researched_events"`
	Attempts           int                     `json:"attempts"`
	Validated          bool                    `json:"validated"`
	OddsCorrections    int                     `json:"odds_corrections"`
	Model              string                  `json:"model,omitempty"`
	CostUSD            float64                 `json:"cost_usd,omitempty"`
	Timings            map[Phase]time.Duration `json:"timings"`
}

// ParlayResult is the pipeline output handed back to the caller.
type ParlayResult struct {
	Text         string   `json:"text"`
	Legs         []Leg    `json:"legs"`
	CombinedOdds string   `json:"combined_odds,omitempty"`
	Payout       string   `json:"payout_on_100,omitempty"`
	Metadata     Metadata `json:"metadata"`

	// Insufficient is set when no events could be acquired at all.
	Insufficient bool   `json:"insufficient,omitempty"`
	Message      string `json:"message,omitempty"`
	RetryHint    string `json:"retry_hint,omitempty"`
}
