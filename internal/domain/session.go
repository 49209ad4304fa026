package domain

import "time"

// Session binds an issued access token to a user and an expiry. The row is
// the authority for "is this session still valid": deleting it revokes the
// token server-side even before the token's own expiry claim fires. Expiry
// is enforced at read time, not by deletion.
type Session struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"size:512;uniqueIndex;not null" json:"-"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
