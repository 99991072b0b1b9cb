package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/database/testutil"
	"github.com/medstock/medstock-server/internal/models"
	apperrors "github.com/medstock/medstock-server/pkg/errors"
)

func TestUserServiceEnsureProfile(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db)
	ctx := context.Background()

	user, err := svc.EnsureProfile(ctx, Subject{
		ID:          "subject-1",
		Email:       "New.User@Example.com",
		DisplayName: "  Maria  ",
	})
	require.NoError(t, err)
	require.Equal(t, "subject-1", user.ID)
	require.Equal(t, "new.user@example.com", user.Email)
	require.Equal(t, "Maria", user.DisplayName)
	require.Equal(t, models.StatusPending, user.Status)
	require.False(t, user.IsAdmin)
	require.Nil(t, user.FamilyID)

	// Second contact returns the stored record without resetting anything.
	require.NoError(t, db.Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("status", models.StatusApproved).Error)

	again, err := svc.EnsureProfile(ctx, Subject{ID: "subject-1", Email: "other@example.com"})
	require.NoError(t, err)
	require.Equal(t, user.ID, again.ID)
	require.Equal(t, "new.user@example.com", again.Email)
	require.Equal(t, models.StatusApproved, again.Status)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestUserServiceEnsureProfileDefaultsDisplayName(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db)

	user, err := svc.EnsureProfile(context.Background(), Subject{ID: "subject-2", Email: "anon@example.com"})
	require.NoError(t, err)
	require.Equal(t, "User", user.DisplayName)

	_, err = svc.EnsureProfile(context.Background(), Subject{})
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestUserServiceUpdateProfile(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db)
	ctx := context.Background()

	_, err := svc.EnsureProfile(ctx, Subject{ID: "subject-3", Email: "edit@example.com", DisplayName: "Before"})
	require.NoError(t, err)

	name := "After"
	photo := "https://example.com/p.png"
	updated, err := svc.UpdateProfile(ctx, "subject-3", UpdateProfileInput{DisplayName: &name, PhotoURL: &photo})
	require.NoError(t, err)
	require.Equal(t, "After", updated.DisplayName)
	require.Equal(t, photo, updated.PhotoURL)

	_, err = svc.UpdateProfile(ctx, "missing", UpdateProfileInput{DisplayName: &name})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserServiceApprove(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db)
	ctx := context.Background()

	admin := createApprovedUser(t, db, "admin-1", "admin@example.com")

	_, err := svc.EnsureProfile(ctx, Subject{ID: "applicant-1", Email: "applicant1@example.com"})
	require.NoError(t, err)
	_, err = svc.EnsureProfile(ctx, Subject{ID: "applicant-2", Email: "applicant2@example.com"})
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	result, err := svc.Approve(ctx, admin.ID, "applicant-1", true)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, models.StatusApproved, result.Status)

	result, err = svc.Approve(ctx, admin.ID, "applicant-2", false)
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, result.Status)

	pending, err = svc.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	_, err = svc.Approve(ctx, admin.ID, "ghost", true)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.Approve(ctx, admin.ID, "", true)
	require.Equal(t, apperrors.ErrInvalidArgument.Code, apperrors.FromError(err).Code)
}

func TestUserServiceSetAdmin(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newUserService(t, db)
	ctx := context.Background()

	actor := createApprovedUser(t, db, "admin-2", "root@example.com")
	target := createApprovedUser(t, db, "target-2", "promote@example.com")
	require.False(t, target.IsAdmin)

	result, err := svc.SetAdmin(ctx, actor.ID, "  Promote@Example.COM ")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, target.ID, result.UID)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", target.ID).Error)
	require.True(t, reloaded.IsAdmin)

	// Granting twice stays idempotent.
	_, err = svc.SetAdmin(ctx, actor.ID, "promote@example.com")
	require.NoError(t, err)

	_, err = svc.SetAdmin(ctx, actor.ID, "nobody@example.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func newUserService(t *testing.T, db *gorm.DB) *UserService {
	t.Helper()

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewUserService(db, audit)
	require.NoError(t, err)
	return svc
}
