package models

// FamilyRole enumerates the per-member roles within a family.
type FamilyRole string

const (
	RoleAdmin  FamilyRole = "admin"
	RoleEditor FamilyRole = "editor"
	RoleViewer FamilyRole = "viewer"
)

// Family is a household group owning a member list and an invite code.
// Families are never deleted.
type Family struct {
	BaseModel

	FamilyName string `gorm:"not null" json:"family_name"`
	CreatedBy  string `gorm:"not null" json:"created_by"`

	// InviteCode is a lookup key with the fixed shape FAM-XXXXXX. Global
	// uniqueness is probabilistic (32^6 suffixes), not constraint-enforced.
	InviteCode string `gorm:"size:10;not null;index" json:"invite_code"`

	Members []FamilyMember `gorm:"foreignKey:FamilyID" json:"members,omitempty"`
}

// MemberIDs returns the subject ids of all loaded members.
func (f *Family) MemberIDs() []string {
	ids := make([]string, 0, len(f.Members))
	for _, m := range f.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// RoleOf returns the role of the given member, if present among the loaded
// membership rows.
func (f *Family) RoleOf(userID string) (FamilyRole, bool) {
	for _, m := range f.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}
