package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/phenomenon0/parlay-agents/pkg/catalog"
)

// PlayerRepository resolves players to their current team.
type PlayerRepository interface {
	TeamOf(ctx context.Context, sport, name string) (string, bool, error)
	Upsert(ctx context.Context, players []Player) error
}

type playerRepository struct {
	db *gorm.DB
}

// NewPlayerRepository creates a Postgres-backed roster.
func NewPlayerRepository(db *gorm.DB) PlayerRepository {
	return &playerRepository{db: db}
}

func (r *playerRepository) TeamOf(ctx context.Context, sport, name string) (string, bool, error) {
	var p Player
	err := r.db.WithContext(ctx).
		Where("sport = ? AND normalized_name = ?", sport, catalog.NormalizeName(name)).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup player: %w", err)
	}
	return p.Team, true, nil
}

func (r *playerRepository) Upsert(ctx context.Context, players []Player) error {
	if len(players) == 0 {
		return nil
	}
	for i := range players {
		players[i].NormalizedName = catalog.NormalizeName(players[i].Name)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sport"}, {Name: "normalized_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "team", "updated_at"}),
	}).Create(&players).Error
}
