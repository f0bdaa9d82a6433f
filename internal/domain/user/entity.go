package user

import "time"

// User represents the users table. Profiles are owned by the account service;
// the chat core only reads the fields it projects into participant lists.
type User struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	DisplayName string    `gorm:"type:varchar(255);not null"`
	AvatarURL   string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }
