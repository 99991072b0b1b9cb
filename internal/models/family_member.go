package models

import "time"

// FamilyMember is one membership row: user X belongs to family Y with role Z.
// The composite primary key doubles as a storage-level guarantee that a user
// appears in a family's member set at most once, and it keeps the member list
// and role map structurally in sync (one row carries both).
type FamilyMember struct {
	FamilyID string     `gorm:"primaryKey;type:uuid" json:"family_id"`
	UserID   string     `gorm:"primaryKey" json:"user_id"`
	Role     FamilyRole `gorm:"not null" json:"role"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
