package repository

import (
	"context"

	"netyora-chat/internal/domain/swap"

	"gorm.io/gorm"
)

type PostgresSwapRepository struct {
	db *gorm.DB
}

func NewSwapRepository(db *gorm.DB) SwapRepository {
	return &PostgresSwapRepository{db: db}
}

func (r *PostgresSwapRepository) GetByID(ctx context.Context, id string) (swap.Swap, error) {
	var s swap.Swap
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return swap.Swap{}, mapError(err)
	}
	return s, nil
}
