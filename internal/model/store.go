package model

import (
	"time"

	"github.com/google/uuid"
)

// Store is a merchant's public storefront. Unauthenticated shoppers
// reference it by ID; generation charges land on the owning account.
type Store struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	AccountID uuid.UUID `json:"account_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Store) TableName() string {
	return "stores"
}
