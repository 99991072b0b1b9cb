package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	testutil "github.com/medstock/medstock-server/internal/database/testutil"
	"github.com/medstock/medstock-server/internal/models"
	"github.com/medstock/medstock-server/internal/services"
)

func TestSweepExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	family := seedFamily(t, db, "sweep-owner")
	seedMedication(t, db, family.ID, "Expired A", now.AddDate(0, 0, -5))
	seedMedication(t, db, family.ID, "Expired B", now.AddDate(0, -1, 0))
	seedMedication(t, db, family.ID, "Valid C", now.AddDate(1, 0, 0))

	stats, err := SweepExpired(context.Background(), db, now)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Expired)
	require.Equal(t, int64(1), stats.Families)

	var entry models.AuditLog
	require.NoError(t, db.First(&entry, "action = ?", "maintenance.expiry_sweep").Error)
	require.Equal(t, "success", entry.Result)

	// The sweep reports; it never mutates inventory rows.
	var count int64
	require.NoError(t, db.Model(&models.Medication{}).Count(&count).Error)
	require.Equal(t, int64(3), count)
}

func TestSweepExpiredNothingToReport(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	stats, err := SweepExpired(context.Background(), db, now)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Expired)

	var count int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

	// One audit log older than retention, one recent.
	require.NoError(t, auditSvc.Log(context.Background(), services.AuditEntry{
		Action: "test.old",
		Result: "success",
	}))
	var oldLog models.AuditLog
	require.NoError(t, db.First(&oldLog, "action = ?", "test.old").Error)
	require.NoError(t, db.Model(&oldLog).Update("created_at", now.AddDate(0, 0, -10)).Error)

	require.NoError(t, auditSvc.Log(context.Background(), services.AuditEntry{
		Action: "test.recent",
		Result: "success",
	}))

	family := seedFamily(t, db, "cleaner-owner")
	seedMedication(t, db, family.ID, "Old stock", now.AddDate(0, 0, -1))

	c := NewCleaner(db, auditSvc,
		WithNow(func() time.Time { return now }),
		WithAuditRetentionDays(7),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(context.Background()))

	var count int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", "test.old").Count(&count).Error)
	require.Equal(t, int64(0), count)

	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", "test.recent").Count(&count).Error)
	require.Equal(t, int64(1), count)

	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", "maintenance.expiry_sweep").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func seedFamily(t *testing.T, db *gorm.DB, ownerID string) *models.Family {
	t.Helper()

	owner := models.User{
		ID:     ownerID,
		Email:  ownerID + "@example.com",
		Status: models.StatusApproved,
	}
	require.NoError(t, db.Create(&owner).Error)

	family := models.Family{
		FamilyName: ownerID + " household",
		CreatedBy:  owner.ID,
		InviteCode: "FAM-TEST01",
	}
	require.NoError(t, db.Create(&family).Error)
	require.NoError(t, db.Create(&models.FamilyMember{
		FamilyID: family.ID,
		UserID:   owner.ID,
		Role:     models.RoleAdmin,
	}).Error)

	return &family
}

func seedMedication(t *testing.T, db *gorm.DB, familyID, name string, expires time.Time) {
	t.Helper()

	med := models.Medication{
		FamilyID:        familyID,
		CreatedBy:       "seeder",
		Name:            name,
		Drug:            name,
		Type:            models.TypeOther,
		ExpiresAt:       datatypes.Date(expires),
		QuantityTotal:   10,
		QuantityCurrent: 10,
	}
	require.NoError(t, db.Create(&med).Error)
}
