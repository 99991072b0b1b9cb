package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Family{},
		&models.FamilyMember{},
		&models.Medication{},
		&models.AuditLog{},
	)
}

// SeedOptions controls optional start-up data fixes.
type SeedOptions struct {
	// BootstrapAdminEmail promotes the matching profile to admin at start-up.
	// This is the out-of-band bootstrap for the first admin; afterwards admins
	// promote each other through the set-admin operation.
	BootstrapAdminEmail string
}

// SeedData applies idempotent start-up mutations.
func SeedData(db *gorm.DB, opts SeedOptions) error {
	email := strings.ToLower(strings.TrimSpace(opts.BootstrapAdminEmail))
	if email == "" {
		return nil
	}

	result := db.Model(&models.User{}).
		Where("email = ? AND is_admin = ?", email, false).
		Update("is_admin", true)
	if result.Error != nil {
		return fmt.Errorf("bootstrap admin: %w", result.Error)
	}

	return nil
}
