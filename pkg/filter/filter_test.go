package filter

import (
	"testing"
	"time"

	"github.com/phenomenon0/parlay-agents/core"
	"github.com/phenomenon0/parlay-agents/pkg/catalog"
)

func market(key string) core.Market {
	return core.Market{Key: key, Outcomes: []core.Outcome{{Name: "A", Price: -110}}}
}

func sampleEvents() []core.Event {
	return []core.Event{
		{
			ID: "e1", Sport: "americanfootball_nfl", CommenceTime: time.Now(),
			Bookmakers: []core.BookmakerQuote{
				{Key: "draftkings", Markets: []core.Market{market("h2h"), market("totals")}},
				{Key: "fanduel", Markets: []core.Market{market("spreads")}},
			},
		},
		{
			ID: "e2", Sport: "americanfootball_nfl", CommenceTime: time.Now(),
			Bookmakers: []core.BookmakerQuote{
				{Key: "draftkings", Markets: []core.Market{market("spreads")}},
			},
		},
	}
}

func TestByKeys_Prunes(t *testing.T) {
	res := ByKeys(sampleEvents(), []string{"totals"})

	if res.Unfiltered {
		t.Error("Expected filtered result")
	}
	if len(res.Events) != 1 || res.Events[0].ID != "e1" {
		t.Fatalf("Expected only e1, got %+v", res.Events)
	}
	if len(res.Events[0].Bookmakers) != 1 || res.Events[0].Bookmakers[0].Key != "draftkings" {
		t.Errorf("Expected only draftkings, got %+v", res.Events[0].Bookmakers)
	}
	if res.Markets != 1 {
		t.Errorf("Expected 1 market, got %d", res.Markets)
	}
}

func TestByKeys_DoesNotMutateInput(t *testing.T) {
	events := sampleEvents()
	ByKeys(events, []string{"totals"})

	if len(events[0].Bookmakers) != 2 || len(events[0].Bookmakers[0].Markets) != 2 {
		t.Error("Expected input events untouched")
	}
}

func TestByKeys_NoMatchFallsBack(t *testing.T) {
	events := sampleEvents()
	res := ByKeys(events, []string{"player_pass_yds"})

	if !res.Unfiltered {
		t.Error("Expected fallback to unfiltered")
	}
	if len(res.Events) != len(events) {
		t.Errorf("Expected %d events, got %d", len(events), len(res.Events))
	}
	if res.Markets != 4 {
		t.Errorf("Expected 4 markets, got %d", res.Markets)
	}
}

func TestByKeys_EmptyInput(t *testing.T) {
	res := ByKeys(nil, []string{"h2h"})
	if len(res.Events) != 0 || res.Unfiltered {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestByBetTypes(t *testing.T) {
	cat := catalog.Default()

	tests := []struct {
		name   string
		labels []string
		extra  []string
		events int
	}{
		{"all sentinel keeps everything", []string{catalog.AllBetTypes}, nil, 2},
		{"totals only", []string{"Totals (O/U)"}, nil, 1},
		{"extra keys widen selection", []string{"Totals (O/U)"}, []string{"spreads"}, 2},
		{"unknown label falls back", []string{"Curling Specials"}, nil, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ByBetTypes(cat, sampleEvents(), tt.labels, tt.extra...)
			if len(res.Events) != tt.events {
				t.Errorf("Expected %d events, got %d", tt.events, len(res.Events))
			}
		})
	}
}
