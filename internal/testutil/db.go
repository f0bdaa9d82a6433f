// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"
	"time"

	"netyora-chat/internal/domain/swap"
	"netyora-chat/internal/domain/user"
	"netyora-chat/internal/repository"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory SQLite database. A single connection keeps
// the in-memory schema alive and serializes transactions the way row locks do.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repository.InitSchema(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// SeedUsers inserts users whose display name equals their id.
func SeedUsers(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		u := user.User{ID: id, DisplayName: id, CreatedAt: time.Now().UTC()}
		if err := db.Create(&u).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", id, err)
		}
	}
}

// SeedSwap inserts a swap between requester and owner.
func SeedSwap(t *testing.T, db *gorm.DB, id, requester, owner string) {
	t.Helper()
	s := swap.Swap{ID: id, RequesterID: requester, OwnerID: owner, Status: "accepted", CreatedAt: time.Now().UTC()}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("failed to seed swap %s: %v", id, err)
	}
}
