package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"netyora-chat/internal/domain/swap"
	"netyora-chat/internal/domain/user"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedConfig holds configuration for seeding the database
type SeedConfig struct {
	TestUserCount int
	// CreateSwaps pairs consecutive test users in accepted swaps.
	CreateSwaps bool
}

// DefaultSeedConfig returns default seed configuration
func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		TestUserCount: 5,
		CreateSwaps:   true,
	}
}

// SeedResult holds the result of the seeding operation
type SeedResult struct {
	Users []user.User
	Swaps []swap.Swap
}

// Seed fills the read-only collaborator tables with development data. Rows
// that already exist are left untouched.
func Seed(ctx context.Context, db *gorm.DB, cfg *SeedConfig) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	result := &SeedResult{}
	now := time.Now().UTC()

	log.Println("Starting database seeding...")

	for i := 1; i <= cfg.TestUserCount; i++ {
		u := user.User{
			ID:          fmt.Sprintf("test-user-%d", i),
			DisplayName: fmt.Sprintf("Test User %d", i),
			CreatedAt:   now,
		}
		if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
			return nil, fmt.Errorf("failed to seed user %s: %w", u.ID, err)
		}
		result.Users = append(result.Users, u)
	}

	if cfg.CreateSwaps {
		for i := 0; i+1 < len(result.Users); i += 2 {
			s := swap.Swap{
				ID:          uuid.NewString(),
				RequesterID: result.Users[i].ID,
				OwnerID:     result.Users[i+1].ID,
				Status:      "accepted",
				CreatedAt:   now,
			}
			if err := db.WithContext(ctx).Create(&s).Error; err != nil {
				return nil, fmt.Errorf("failed to seed swap: %w", err)
			}
			result.Swaps = append(result.Swaps, s)
		}
	}

	log.Println("Database seeding completed successfully!")
	return result, nil
}

// chatTables are emptied by Truncate, children first.
var chatTables = []string{"chat_messages", "chat_participants", "chats"}

// Truncate removes every chat, keeping users and swaps.
func Truncate(ctx context.Context, db *gorm.DB) error {
	for _, table := range chatTables {
		if err := db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}
