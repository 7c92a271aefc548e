package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/phenomenon0/parlay-agents/core"
)

// OddsFilter selects stored rows.
type OddsFilter struct {
	Sports     []string
	Bookmakers []string
	MarketKeys []string
	From       time.Time
	To         time.Time
}

// OddsRepository reads and writes odds rows keyed by (event, bookmaker, market).
type OddsRepository interface {
	UpsertEvents(ctx context.Context, events []core.Event, fetchedAt time.Time) error
	// LoadEvents returns stored events commencing inside the filter window
	// and the oldest fetch time among the rows used.
	LoadEvents(ctx context.Context, f OddsFilter) ([]core.Event, time.Time, error)
	DeleteBefore(ctx context.Context, commence time.Time) (int64, error)
}

type oddsRepository struct {
	db *gorm.DB
}

// NewOddsRepository creates a Postgres-backed odds repository.
func NewOddsRepository(db *gorm.DB) OddsRepository {
	return &oddsRepository{db: db}
}

func (r *oddsRepository) UpsertEvents(ctx context.Context, events []core.Event, fetchedAt time.Time) error {
	rows, err := EventsToRows(events, fetchedAt)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}, {Name: "bookmaker"}, {Name: "market_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sport", "commence_time", "home_team", "away_team",
			"outcomes", "last_update", "fetched_at", "updated_at",
		}),
	}).CreateInBatches(rows, 200).Error
}

func (r *oddsRepository) LoadEvents(ctx context.Context, f OddsFilter) ([]core.Event, time.Time, error) {
	db := r.db.WithContext(ctx).Model(&OddsRow{}).
		Where("commence_time >= ? AND commence_time <= ?", f.From, f.To)
	if len(f.Sports) > 0 {
		db = db.Where("sport IN ?", f.Sports)
	}
	if len(f.Bookmakers) > 0 {
		db = db.Where("bookmaker IN ?", f.Bookmakers)
	}
	if len(f.MarketKeys) > 0 {
		db = db.Where("market_key IN ?", f.MarketKeys)
	}

	var rows []OddsRow
	if err := db.Order("commence_time ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, time.Time{}, fmt.Errorf("load odds rows: %w", err)
	}

	var oldest time.Time
	for _, row := range rows {
		if oldest.IsZero() || row.FetchedAt.Before(oldest) {
			oldest = row.FetchedAt
		}
	}
	events, err := RowsToEvents(rows)
	return events, oldest, err
}

func (r *oddsRepository) DeleteBefore(ctx context.Context, commence time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("commence_time < ?", commence).Delete(&OddsRow{})
	return res.RowsAffected, res.Error
}

// EventsToRows flattens events into one row per bookmaker market.
func EventsToRows(events []core.Event, fetchedAt time.Time) ([]OddsRow, error) {
	var rows []OddsRow
	for _, ev := range events {
		for _, bm := range ev.Bookmakers {
			for _, m := range bm.Markets {
				data, err := json.Marshal(m.Outcomes)
				if err != nil {
					return nil, fmt.Errorf("marshaling outcomes: %w", err)
				}
				rows = append(rows, OddsRow{
					EventID:      ev.Key(),
					Bookmaker:    bm.Key,
					MarketKey:    m.Key,
					Sport:        ev.Sport,
					CommenceTime: ev.CommenceTime,
					HomeTeam:     ev.HomeTeam,
					AwayTeam:     ev.AwayTeam,
					Outcomes:     datatypes.JSON(data),
					LastUpdate:   bm.LastUpdate,
					FetchedAt:    fetchedAt,
				})
			}
		}
	}
	return rows, nil
}

// RowsToEvents rebuilds event trees from flat rows. Events keep the order
// in which they first appear.
func RowsToEvents(rows []OddsRow) ([]core.Event, error) {
	var order []string
	byID := make(map[string]*core.Event)
	bookIdx := make(map[string]map[string]int)

	for _, row := range rows {
		ev, ok := byID[row.EventID]
		if !ok {
			ev = &core.Event{
				ID:           row.EventID,
				Sport:        row.Sport,
				CommenceTime: row.CommenceTime,
				HomeTeam:     row.HomeTeam,
				AwayTeam:     row.AwayTeam,
			}
			byID[row.EventID] = ev
			bookIdx[row.EventID] = make(map[string]int)
			order = append(order, row.EventID)
		}

		var outcomes []core.Outcome
		if err := json.Unmarshal(row.Outcomes, &outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes for %s/%s/%s: %w", row.EventID, row.Bookmaker, row.MarketKey, err)
		}

		idx, ok := bookIdx[row.EventID][row.Bookmaker]
		if !ok {
			ev.Bookmakers = append(ev.Bookmakers, core.BookmakerQuote{Key: row.Bookmaker, LastUpdate: row.LastUpdate})
			idx = len(ev.Bookmakers) - 1
			bookIdx[row.EventID][row.Bookmaker] = idx
		}
		bm := &ev.Bookmakers[idx]
		bm.Markets = append(bm.Markets, core.Market{Key: row.MarketKey, Outcomes: outcomes})
		if row.LastUpdate.After(bm.LastUpdate) {
			bm.LastUpdate = row.LastUpdate
		}
	}

	out := make([]core.Event, 0, len(order))
	for _, id := range order {
		ev := byID[id]
		for i := range ev.Bookmakers {
			ms := ev.Bookmakers[i].Markets
			sort.SliceStable(ms, func(a, b int) bool { return ms[a].Key < ms[b].Key })
		}
		out = append(out, *ev)
	}
	return out, nil
}
