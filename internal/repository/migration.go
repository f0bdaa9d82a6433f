package repository

import (
	"fmt"

	"netyora-chat/internal/domain/chat"
	"netyora-chat/internal/domain/swap"
	"netyora-chat/internal/domain/user"

	"gorm.io/gorm"
)

// InitSchema migrates the chat tables. users and swaps belong to other
// services; they are created here only when missing so that a fresh
// database can serve reads.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&user.User{},
		&swap.Swap{},
		&chat.Chat{},
		&chat.Participant{},
		&chat.Message{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	// Sweep scans only live attachments with an expiry.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_expiring
			ON chat_messages (expires_at, chat_id)
			WHERE is_deleted = false AND expires_at IS NOT NULL`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
