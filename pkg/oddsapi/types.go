package oddsapi

import (
	"time"

	"github.com/phenomenon0/parlay-agents/core"
)

// apiOutcome is an outcome as returned by the provider.
type apiOutcome struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Point       *float64 `json:"point,omitempty"`
}

type apiMarket struct {
	Key        string       `json:"key"`
	LastUpdate time.Time    `json:"last_update"`
	Outcomes   []apiOutcome `json:"outcomes"`
}

type apiBookmaker struct {
	Key        string      `json:"key"`
	Title      string      `json:"title"`
	LastUpdate time.Time   `json:"last_update"`
	Markets    []apiMarket `json:"markets"`
}

// apiEvent is one fixture with its odds tree.
type apiEvent struct {
	ID           string         `json:"id"`
	SportKey     string         `json:"sport_key"`
	SportTitle   string         `json:"sport_title"`
	CommenceTime time.Time      `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []apiBookmaker `json:"bookmakers,omitempty"`
}

// EventSummary identifies a fixture without odds, used for per-event lookups.
type EventSummary struct {
	ID           string    `json:"id"`
	SportKey     string    `json:"sport_key"`
	CommenceTime time.Time `json:"commence_time"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
}

// OddsQuery selects bulk odds for a sport.
type OddsQuery struct {
	Sport      string
	Markets    []string
	Bookmakers []string
	From       time.Time
	To         time.Time
}

func (e apiEvent) toCore() core.Event {
	ev := core.Event{
		ID:           e.ID,
		Sport:        e.SportKey,
		CommenceTime: e.CommenceTime,
		HomeTeam:     e.HomeTeam,
		AwayTeam:     e.AwayTeam,
	}
	for _, bm := range e.Bookmakers {
		q := core.BookmakerQuote{
			Key:        bm.Key,
			Title:      bm.Title,
			LastUpdate: bm.LastUpdate,
		}
		for _, m := range bm.Markets {
			cm := core.Market{Key: m.Key}
			for _, o := range m.Outcomes {
				price := int(o.Price)
				if price == 0 {
					continue
				}
				cm.Outcomes = append(cm.Outcomes, core.Outcome{
					Name:        o.Name,
					Description: o.Description,
					Point:       o.Point,
					Price:       price,
				})
			}
			if len(cm.Outcomes) > 0 {
				q.Markets = append(q.Markets, cm)
			}
		}
		ev.Bookmakers = append(ev.Bookmakers, q)
	}
	return ev
}
