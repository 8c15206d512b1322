package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tradeengine/src/database"
	"tradeengine/src/model"
)

// SymbolRankRepository stores the ranked symbol universe the scheduler
// rotates over.
type SymbolRankRepository struct {
	db *gorm.DB
}

func NewSymbolRankRepository() *SymbolRankRepository {
	return &SymbolRankRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SymbolRankRepository) WithDB(db *gorm.DB) *SymbolRankRepository {
	return &SymbolRankRepository{db: db}
}

// ReplaceUniverse swaps the ranked universe in one transaction. User-pinned
// symbols survive the swap.
func (r *SymbolRankRepository) ReplaceUniverse(ctx context.Context, ranks []model.SymbolRank) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_pinned = ?", false).Delete(&model.SymbolRank{}).Error; err != nil {
			return err
		}
		for i := range ranks {
			ranks[i].UpdatedAt = time.Now().UTC()
			if err := tx.Create(&ranks[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PinSymbol adds a user-requested symbol to the universe. Pinned symbols
// rank ahead of the volume-ranked ones.
func (r *SymbolRankRepository) PinSymbol(ctx context.Context, symbol string) error {
	rank := model.SymbolRank{
		Symbol:     symbol,
		Rank:       0,
		UserPinned: true,
		UpdatedAt:  time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Create(&rank).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

// ListUniverse returns all symbols ordered pinned-first, then by rank.
func (r *SymbolRankRepository) ListUniverse(ctx context.Context) ([]string, error) {
	var rows []model.SymbolRank
	err := r.db.WithContext(ctx).
		Order("user_pinned DESC, rank ASC, symbol ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(rows))
	for _, row := range rows {
		symbols = append(symbols, row.Symbol)
	}
	return symbols, nil
}
