package store

import (
	"time"

	"gorm.io/datatypes"
)

// OddsRow is one market of one bookmaker for one event.
type OddsRow struct {
	ID           uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	EventID      string         `gorm:"column:event_id;type:varchar(128);not null;uniqueIndex:uk_odds_event_book_market"`
	Bookmaker    string         `gorm:"column:bookmaker;type:varchar(64);not null;uniqueIndex:uk_odds_event_book_market"`
	MarketKey    string         `gorm:"column:market_key;type:varchar(64);not null;uniqueIndex:uk_odds_event_book_market"`
	Sport        string         `gorm:"column:sport;type:varchar(64);not null;index"`
	CommenceTime time.Time      `gorm:"column:commence_time;type:timestamptz;not null;index"`
	HomeTeam     string         `gorm:"column:home_team;type:varchar(128)"`
	AwayTeam     string         `gorm:"column:away_team;type:varchar(128)"`
	Outcomes     datatypes.JSON `gorm:"column:outcomes;type:jsonb;not null"`
	LastUpdate   time.Time      `gorm:"column:last_update;type:timestamptz"`
	FetchedAt    time.Time      `gorm:"column:fetched_at;type:timestamptz;not null;index"`
	CreatedAt    time.Time      `gorm:"column:created_at;type:timestamptz;default:now()"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;type:timestamptz;default:now()"`
}

func (OddsRow) TableName() string { return "odds_cache" }

// NewsEntry caches research text for a (sport, search type, subject) triple.
type NewsEntry struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Sport      string         `gorm:"column:sport;type:varchar(64);not null;uniqueIndex:uk_news_sport_type_team"`
	SearchType string         `gorm:"column:search_type;type:varchar(32);not null;uniqueIndex:uk_news_sport_type_team"`
	Team       string         `gorm:"column:team;type:varchar(256);not null;uniqueIndex:uk_news_sport_type_team"`
	Query      string         `gorm:"column:query;type:text"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb;not null"`
	FetchedAt  time.Time      `gorm:"column:fetched_at;type:timestamptz;not null"`
	ExpiresAt  time.Time      `gorm:"column:expires_at;type:timestamptz;not null;index"`
	CreatedAt  time.Time      `gorm:"column:created_at;type:timestamptz;default:now()"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;type:timestamptz;default:now()"`
}

func (NewsEntry) TableName() string { return "news_cache" }

// Player maps a roster entry to its current team.
type Player struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Sport          string    `gorm:"column:sport;type:varchar(64);not null;uniqueIndex:uk_player_sport_name"`
	NormalizedName string    `gorm:"column:normalized_name;type:varchar(128);not null;uniqueIndex:uk_player_sport_name"`
	Name           string    `gorm:"column:name;type:varchar(128);not null"`
	Team           string    `gorm:"column:team;type:varchar(128);not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;default:now()"`
}

func (Player) TableName() string { return "players" }
