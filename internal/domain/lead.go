package domain

import "time"

type Lead struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;index" json:"email"`
	Phone     string    `gorm:"size:64" json:"phone"`
	Company   string    `gorm:"size:255" json:"company"`
	Status    string    `gorm:"size:32;not null;default:new" json:"status"`
	Source    string    `gorm:"size:64" json:"source"`
	OwnerID   *uint     `gorm:"index" json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
