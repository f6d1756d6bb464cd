package users

import (
	"strings"
	"time"
)

const defaultProvider = "folio"

// Identity maps a session provider and subject onto the canonical Folio user id
// and carries the profile used to render author names.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// AuthorName is the label shown next to documents owned by this identity.
func (i Identity) AuthorName() string {
	if name := normalize(i.DisplayName); name != "" {
		return name
	}
	return normalize(i.Email)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
