package swap

import "time"

// Swap represents the swaps table, read only. A swap binds the user who
// requested it to the owner of the swap card.
type Swap struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	RequesterID string    `gorm:"type:varchar(64);not null"`
	OwnerID     string    `gorm:"type:varchar(64);not null"`
	Status      string    `gorm:"type:varchar(32)"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Swap) TableName() string { return "swaps" }

// Parties returns the two users of the swap.
func (s Swap) Parties() (string, string) {
	return s.RequesterID, s.OwnerID
}
