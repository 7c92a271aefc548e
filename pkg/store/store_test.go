package store

import (
	"testing"
	"time"

	"github.com/phenomenon0/parlay-agents/core"
)

func point(f float64) *float64 { return &f }

func sampleEvents() []core.Event {
	start := time.Date(2026, 10, 20, 0, 20, 0, 0, time.UTC)
	updated := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	return []core.Event{
		{
			ID: "evt1", Sport: "americanfootball_nfl", CommenceTime: start,
			HomeTeam: "Buffalo Bills", AwayTeam: "Kansas City Chiefs",
			Bookmakers: []core.BookmakerQuote{
				{Key: "draftkings", LastUpdate: updated, Markets: []core.Market{
					{Key: "totals", Outcomes: []core.Outcome{
						{Name: "Over", Point: point(47.5), Price: -110},
						{Name: "Under", Point: point(47.5), Price: -110},
					}},
					{Key: "h2h", Outcomes: []core.Outcome{
						{Name: "Buffalo Bills", Price: -135},
						{Name: "Kansas City Chiefs", Price: 115},
					}},
				}},
				{Key: "fanduel", LastUpdate: updated, Markets: []core.Market{
					{Key: "h2h", Outcomes: []core.Outcome{
						{Name: "Buffalo Bills", Price: -130},
						{Name: "Kansas City Chiefs", Price: 110},
					}},
				}},
			},
		},
		{
			Sport: "americanfootball_nfl", CommenceTime: start.Add(3 * time.Hour),
			HomeTeam: "Green Bay Packers", AwayTeam: "Chicago Bears",
			Bookmakers: []core.BookmakerQuote{
				{Key: "draftkings", Markets: []core.Market{
					{Key: "spreads", Outcomes: []core.Outcome{
						{Name: "Green Bay Packers", Point: point(-6.5), Price: -108},
						{Name: "Chicago Bears", Point: point(6.5), Price: -112},
					}},
				}},
			},
		},
	}
}

func TestEventsToRows(t *testing.T) {
	fetched := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	rows, err := EventsToRows(sampleEvents(), fetched)
	if err != nil {
		t.Fatalf("EventsToRows failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	if rows[3].EventID == "" {
		t.Error("Expected synthesized id for event without provider id")
	}
	for _, r := range rows {
		if !r.FetchedAt.Equal(fetched) {
			t.Errorf("Expected fetched_at %v, got %v", fetched, r.FetchedAt)
		}
	}
}

func TestRowsToEvents_RoundTrip(t *testing.T) {
	events := sampleEvents()
	rows, err := EventsToRows(events, time.Now())
	if err != nil {
		t.Fatalf("EventsToRows failed: %v", err)
	}

	back, err := RowsToEvents(rows)
	if err != nil {
		t.Fatalf("RowsToEvents failed: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(back))
	}

	first := back[0]
	if first.ID != "evt1" || len(first.Bookmakers) != 2 {
		t.Fatalf("Unexpected first event: %+v", first)
	}
	dk := first.Bookmakers[0]
	if dk.Key != "draftkings" || len(dk.Markets) != 2 {
		t.Fatalf("Unexpected draftkings quote: %+v", dk)
	}
	// markets come back sorted by key
	if dk.Markets[0].Key != "h2h" || dk.Markets[1].Key != "totals" {
		t.Errorf("Expected h2h then totals, got %s then %s", dk.Markets[0].Key, dk.Markets[1].Key)
	}
	over := dk.Markets[1].Outcomes[0]
	if over.Point == nil || *over.Point != 47.5 {
		t.Errorf("Expected point 47.5, got %+v", over.Point)
	}
	if back[1].ID != events[1].Key() {
		t.Errorf("Expected synthesized id %s, got %s", events[1].Key(), back[1].ID)
	}
}

func TestRowsToEvents_BadPayload(t *testing.T) {
	rows := []OddsRow{{EventID: "e", Bookmaker: "b", MarketKey: "h2h", Outcomes: []byte("{")}}
	if _, err := RowsToEvents(rows); err == nil {
		t.Error("Expected decode error")
	}
}
