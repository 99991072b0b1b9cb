package models

import (
	"time"

	"gorm.io/datatypes"
)

// MedicationType classifies the physical form of a medication.
type MedicationType string

const (
	TypeTablet    MedicationType = "tablet"
	TypeCapsule   MedicationType = "capsule"
	TypeLiquid    MedicationType = "liquid"
	TypeOintment  MedicationType = "ointment"
	TypeInjection MedicationType = "injection"
	TypeOther     MedicationType = "other"
)

// MedicationCategory is an optional therapeutic classification.
type MedicationCategory string

const (
	CategoryAnalgesic        MedicationCategory = "analgesic"
	CategoryAntibiotic       MedicationCategory = "antibiotic"
	CategoryAntiInflammatory MedicationCategory = "anti_inflammatory"
	CategoryAntihypertensive MedicationCategory = "antihypertensive"
	CategoryAntidiabetic     MedicationCategory = "antidiabetic"
	CategoryAntihistamine    MedicationCategory = "antihistamine"
	CategoryVitamin          MedicationCategory = "vitamin"
	CategoryOther            MedicationCategory = "other"
)

// ExpiryStatus is derived from the expiry date at read time, never stored.
type ExpiryStatus string

const (
	ExpiryValid        ExpiryStatus = "valid"
	ExpiryExpiringSoon ExpiryStatus = "expiring_soon"
	ExpiryExpired      ExpiryStatus = "expired"
)

// Medication is a stock item owned by a family, not by an individual user.
type Medication struct {
	BaseModel

	FamilyID  string  `gorm:"type:uuid;not null;index" json:"family_id"`
	Family    *Family `gorm:"foreignKey:FamilyID" json:"-"`
	CreatedBy string  `gorm:"not null" json:"created_by"`

	Name    string         `gorm:"not null" json:"name"`
	Drug    string         `gorm:"not null" json:"drug"`
	Generic bool           `json:"generic"`
	Type    MedicationType `gorm:"not null" json:"type"`

	Brand    string             `json:"brand,omitempty"`
	Dosage   string             `json:"dosage,omitempty"`
	Batch    string             `json:"batch,omitempty"`
	Category MedicationCategory `gorm:"index" json:"category,omitempty"`

	ExpiresAt       datatypes.Date `gorm:"not null;index" json:"expires_at"`
	QuantityTotal   int            `gorm:"not null" json:"quantity_total"`
	QuantityCurrent int            `gorm:"not null" json:"quantity_current"`

	PhotoURL string `json:"photo_url,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ExpiryStatusAt classifies the medication's expiry relative to now, using
// the supplied expiring-soon window.
func (m *Medication) ExpiryStatusAt(now time.Time, window time.Duration) ExpiryStatus {
	expiry := time.Time(m.ExpiresAt)
	today := now.Truncate(24 * time.Hour)

	switch {
	case expiry.Before(today):
		return ExpiryExpired
	case !expiry.After(today.Add(window)):
		return ExpiryExpiringSoon
	default:
		return ExpiryValid
	}
}

// LowStock reports whether the current quantity fell under the given fraction
// of the original total.
func (m *Medication) LowStock(ratio float64) bool {
	if m.QuantityTotal <= 0 {
		return false
	}
	return float64(m.QuantityCurrent) < float64(m.QuantityTotal)*ratio
}
