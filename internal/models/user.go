package models

import "time"

// UserStatus tracks the admin-approval state machine for a profile.
type UserStatus string

const (
	StatusPending  UserStatus = "pending"
	StatusApproved UserStatus = "approved"
	StatusRejected UserStatus = "rejected"
)

// User is the profile record for one identity-provider subject. The primary
// key is the subject id issued by the identity provider and never changes.
type User struct {
	ID string `gorm:"primaryKey" json:"id"`

	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`

	Status  UserStatus `gorm:"not null;default:pending;index" json:"status"`
	IsAdmin bool       `gorm:"default:false" json:"is_admin"`

	// FamilyID, when set, must reference a family whose membership rows
	// contain this user. The join transaction is the only writer allowed to
	// leave that invariant transiently violated, and only inside its
	// transaction scope.
	FamilyID *string `gorm:"type:uuid;index" json:"family_id"`
	Family   *Family `gorm:"foreignKey:FamilyID" json:"family,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Approved reports whether the user passed admin review.
func (u *User) Approved() bool {
	return u.Status == StatusApproved
}
