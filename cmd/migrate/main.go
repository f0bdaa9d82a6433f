package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"netyora-chat/config"
	"netyora-chat/internal/repository"
	"netyora-chat/pkg/database"

	"gorm.io/gorm"
)

const usage = `
Netyora Chat - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Create or update the chat schema
  status      Show database connection status
  seed-dev    Seed with development users and swaps
  truncate    Delete every chat, keeping users and swaps (DANGEROUS)

Flags:
  -users int   Number of development users to seed (default 5)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed-dev -users 10
`

func main() {
	users := flag.Int("users", 5, "Number of development users to seed")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	switch command {
	case "up":
		runMigrationsUp(db)
	case "status":
		showStatus(db)
	case "seed-dev":
		runSeedDevelopment(ctx, db, *users)
	case "truncate":
		runTruncate(ctx, db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(db *gorm.DB) {
	log.Println("🚀 Running migrations UP...")

	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func showStatus(db *gorm.DB) {
	log.Println("🔍 Checking database status...")

	if err := database.HealthCheck(); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	tables := []string{"users", "swaps", "chats", "chat_participants", "chat_messages"}
	for _, table := range tables {
		if !db.Migrator().HasTable(table) {
			log.Printf("❌ Table %-20s does not exist", table)
			continue
		}
		var count int64
		if err := db.Table(table).Count(&count).Error; err != nil {
			log.Printf("⚠️  Error counting table %s: %v", table, err)
			continue
		}
		log.Printf("✅ Table %-20s exists (%d rows)", table, count)
	}
}

func runSeedDevelopment(ctx context.Context, db *gorm.DB, users int) {
	log.Println("🌱 Seeding database (development mode)...")

	result, err := database.Seed(ctx, db, &database.SeedConfig{TestUserCount: users, CreateSwaps: true})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("📊 Seed Summary:")
	log.Printf("   - Users: %d", len(result.Users))
	log.Printf("   - Swaps: %d", len(result.Swaps))
	log.Println("✅ Development seeding completed!")
}

func runTruncate(ctx context.Context, db *gorm.DB) {
	log.Println("⚠️  WARNING: This will delete every chat!")

	if err := database.Truncate(ctx, db); err != nil {
		log.Fatalf("❌ Truncate failed: %v", err)
	}

	log.Println("✅ Chat tables truncated!")
}
