package repository

import (
	"context"

	"netyora-chat/internal/domain/user"

	"gorm.io/gorm"
)

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return user.User{}, mapError(err)
	}
	return u, nil
}

func (r *PostgresUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]user.User, error) {
	out := make(map[string]user.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []user.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
