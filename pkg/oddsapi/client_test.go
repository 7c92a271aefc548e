package oddsapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const oddsPayload = `[
  {
    "id": "evt1",
    "sport_key": "americanfootball_nfl",
    "commence_time": "2026-10-20T00:20:00Z",
    "home_team": "Buffalo Bills",
    "away_team": "Kansas City Chiefs",
    "bookmakers": [
      {
        "key": "draftkings",
        "title": "DraftKings",
        "last_update": "2026-10-19T12:00:00Z",
        "markets": [
          {"key": "h2h", "outcomes": [{"name": "Buffalo Bills", "price": -135}, {"name": "Kansas City Chiefs", "price": 115}]},
          {"key": "totals", "outcomes": [{"name": "Over", "price": -110, "point": 47.5}, {"name": "Under", "price": -110, "point": 47.5}]}
        ]
      }
    ]
  }
]`

func TestGetOdds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sports/americanfootball_nfl/odds" {
			t.Errorf("Expected odds path, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("apiKey") != "secret" {
			t.Errorf("Expected apiKey secret, got %s", q.Get("apiKey"))
		}
		if q.Get("markets") != "h2h,totals" {
			t.Errorf("Expected markets h2h,totals, got %s", q.Get("markets"))
		}
		if q.Get("bookmakers") != "draftkings" {
			t.Errorf("Expected bookmakers draftkings, got %s", q.Get("bookmakers"))
		}
		if q.Get("regions") != "" {
			t.Errorf("Expected no regions when bookmakers set, got %s", q.Get("regions"))
		}
		if q.Get("oddsFormat") != "american" {
			t.Errorf("Expected american odds format, got %s", q.Get("oddsFormat"))
		}
		if q.Get("commenceTimeFrom") != "2026-10-19T00:00:00Z" {
			t.Errorf("Unexpected commenceTimeFrom %s", q.Get("commenceTimeFrom"))
		}
		w.Header().Set("x-requests-remaining", "487")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(oddsPayload))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithAPIKey("secret"))

	from := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	events, err := client.GetOdds(context.Background(), OddsQuery{
		Sport:      "americanfootball_nfl",
		Markets:    []string{"h2h", "totals"},
		Bookmakers: []string{"draftkings"},
		From:       from,
		To:         from.Add(30 * time.Hour),
	})
	if err != nil {
		t.Fatalf("GetOdds failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if ev.HomeTeam != "Buffalo Bills" {
		t.Errorf("Expected Buffalo Bills, got %s", ev.HomeTeam)
	}
	if len(ev.Bookmakers) != 1 || len(ev.Bookmakers[0].Markets) != 2 {
		t.Fatalf("Unexpected odds tree: %+v", ev.Bookmakers)
	}
	total := ev.Bookmakers[0].Markets[1].Outcomes[0]
	if total.Point == nil || *total.Point != 47.5 || total.Price != -110 {
		t.Errorf("Unexpected total outcome: %+v", total)
	}
	if client.RemainingRequests() != 487 {
		t.Errorf("Expected 487 remaining, got %d", client.RemainingRequests())
	}
}

func TestGetOdds_RegionWithoutBookmakers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("regions") != "us" {
			t.Errorf("Expected regions=us, got %s", r.URL.Query().Get("regions"))
		}
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	if _, err := client.GetOdds(context.Background(), OddsQuery{Sport: "basketball_nba"}); err != nil {
		t.Fatalf("GetOdds failed: %v", err)
	}
}

func TestGetEventOdds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sports/basketball_nba/events/abc/odds" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"abc","sport_key":"basketball_nba","home_team":"Lakers","away_team":"Celtics",
			"bookmakers":[{"key":"fanduel","markets":[{"key":"player_points","outcomes":[
			{"name":"Over","description":"LeBron James","price":-115,"point":25.5}]}]}]}`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	ev, err := client.GetEventOdds(context.Background(), "basketball_nba", "abc", []string{"player_points"}, []string{"fanduel"})
	if err != nil {
		t.Fatalf("GetEventOdds failed: %v", err)
	}
	out := ev.Bookmakers[0].Markets[0].Outcomes[0]
	if out.Description != "LeBron James" {
		t.Errorf("Expected LeBron James, got %s", out.Description)
	}
}

func TestListEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sports/icehockey_nhl/events" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"e1","home_team":"Bruins","away_team":"Rangers"},{"id":"e2"}]`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))
	events, err := client.ListEvents(context.Background(), "icehockey_nhl", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithRetry(2, time.Millisecond))
	if _, err := client.GetOdds(context.Background(), OddsQuery{Sport: "baseball_mlb"}); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestGet_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid market"}`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithRetry(3, time.Millisecond))
	_, err := client.GetOdds(context.Background(), OddsQuery{Sport: "baseball_mlb"})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}
