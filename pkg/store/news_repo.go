package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NewsRepository caches research payloads keyed by (sport, search type, team).
type NewsRepository interface {
	// Get returns the entry if it has not expired at now, or nil.
	Get(ctx context.Context, sport, searchType, team string, now time.Time) (*NewsEntry, error)
	Put(ctx context.Context, entry *NewsEntry) error
}

type newsRepository struct {
	db *gorm.DB
}

// NewNewsRepository creates a Postgres-backed news cache.
func NewNewsRepository(db *gorm.DB) NewsRepository {
	return &newsRepository{db: db}
}

func (r *newsRepository) Get(ctx context.Context, sport, searchType, team string, now time.Time) (*NewsEntry, error) {
	var e NewsEntry
	err := r.db.WithContext(ctx).
		Where("sport = ? AND search_type = ? AND team = ? AND expires_at > ?", sport, searchType, team, now).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load news entry: %w", err)
	}
	return &e, nil
}

func (r *newsRepository) Put(ctx context.Context, entry *NewsEntry) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sport"}, {Name: "search_type"}, {Name: "team"}},
		DoUpdates: clause.AssignmentColumns([]string{"query", "payload", "fetched_at", "expires_at", "updated_at"}),
	}).Create(entry).Error
}
