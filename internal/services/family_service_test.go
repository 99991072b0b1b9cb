package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/database/testutil"
	"github.com/medstock/medstock-server/internal/models"
	apperrors "github.com/medstock/medstock-server/pkg/errors"
)

func TestNormalizeInviteCode(t *testing.T) {
	code, err := NormalizeInviteCode("fam-ab12cd")
	require.NoError(t, err)
	require.Equal(t, "FAM-AB12CD", code)

	code, err = NormalizeInviteCode("  FAM-AB12CD  ")
	require.NoError(t, err)
	require.Equal(t, "FAM-AB12CD", code)

	_, err = NormalizeInviteCode("FAM-AB12C")
	require.ErrorIs(t, err, ErrInviteCodeMalformed)

	_, err = NormalizeInviteCode("XYZ-AB12CD")
	require.ErrorIs(t, err, ErrInviteCodeMalformed)

	_, err = NormalizeInviteCode("")
	require.ErrorIs(t, err, ErrInviteCodeMalformed)
}

func TestFamilyServiceCreate(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-1", "owner@example.com")

	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Garcia Household"})
	require.NoError(t, err)
	require.Equal(t, "Garcia Household", family.FamilyName)
	require.Len(t, family.InviteCode, 10)
	require.Equal(t, "FAM-", family.InviteCode[:4])
	require.Len(t, family.Members, 1)
	require.Equal(t, models.RoleAdmin, family.Members[0].Role)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", owner.ID).Error)
	require.NotNil(t, reloaded.FamilyID)
	require.Equal(t, family.ID, *reloaded.FamilyID)
}

func TestJoinByInviteCodeLifecycle(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-2", "owner2@example.com")
	joiner := createApprovedUser(t, db, "joiner-2", "joiner2@example.com")

	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Nguyen Household"})
	require.NoError(t, err)

	// Lower-case input normalizes to the stored code.
	familyID, err := svc.JoinByInviteCode(ctx, joiner.ID, "  "+strings.ToLower(family.InviteCode)+"  ")
	require.NoError(t, err)
	require.Equal(t, family.ID, familyID)

	require.Equal(t, int64(2), memberCount(t, db, family.ID))

	var member models.FamilyMember
	require.NoError(t, db.First(&member, "family_id = ? AND user_id = ?", family.ID, joiner.ID).Error)
	require.Equal(t, models.RoleEditor, member.Role)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", joiner.ID).Error)
	require.NotNil(t, reloaded.FamilyID)
	require.Equal(t, family.ID, *reloaded.FamilyID)

	// Retrying with the same code is idempotent.
	familyID, err = svc.JoinByInviteCode(ctx, joiner.ID, family.InviteCode)
	require.NoError(t, err)
	require.Equal(t, family.ID, familyID)
	require.Equal(t, int64(2), memberCount(t, db, family.ID))
}

func TestJoinByInviteCodeUnknownCode(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	user := createApprovedUser(t, db, "lonely-1", "lonely@example.com")

	_, err := svc.JoinByInviteCode(ctx, user.ID, "FAM-ZZZZZZ")
	require.ErrorIs(t, err, ErrInviteCodeUnknown)
}

func TestJoinByInviteCodeRequiresApproval(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-3", "owner3@example.com")
	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Okafor Household"})
	require.NoError(t, err)

	pending := models.User{
		ID:     "pending-3",
		Email:  "pending3@example.com",
		Status: models.StatusPending,
	}
	require.NoError(t, db.Create(&pending).Error)

	_, err = svc.JoinByInviteCode(ctx, pending.ID, family.InviteCode)
	require.ErrorIs(t, err, ErrUserNotApproved)

	// The failed attempt must not mutate anything.
	require.Equal(t, int64(1), memberCount(t, db, family.ID))
	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", pending.ID).Error)
	require.Nil(t, reloaded.FamilyID)

	_, err = svc.JoinByInviteCode(ctx, "no-such-user", family.InviteCode)
	require.ErrorIs(t, err, ErrProfileNotFound)

	_, err = svc.JoinByInviteCode(ctx, "", family.InviteCode)
	require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestJoinByInviteCodeCapacity(t *testing.T) {
	require.Equal(t, 20, DefaultMaxMembers)

	// A small cap keeps the test fast; the guard is cap-agnostic.
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db, WithMaxMembers(2))
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-4", "owner4@example.com")
	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Full House"})
	require.NoError(t, err)

	second := createApprovedUser(t, db, "second-4", "second4@example.com")
	_, err = svc.JoinByInviteCode(ctx, second.ID, family.InviteCode)
	require.NoError(t, err)

	third := createApprovedUser(t, db, "third-4", "third4@example.com")
	_, err = svc.JoinByInviteCode(ctx, third.ID, family.InviteCode)
	require.ErrorIs(t, err, ErrFamilyFull)

	require.Equal(t, int64(2), memberCount(t, db, family.ID))
	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", third.ID).Error)
	require.Nil(t, reloaded.FamilyID)

	// An existing member still gets the idempotent success past the cap check.
	_, err = svc.JoinByInviteCode(ctx, second.ID, family.InviteCode)
	require.NoError(t, err)
	require.Equal(t, int64(2), memberCount(t, db, family.ID))
}

func TestJoinByInviteCodeConcurrent(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-5", "owner5@example.com")
	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Busy Household"})
	require.NoError(t, err)

	const joiners = 5
	const attemptsPerJoiner = 3

	ids := make([]string, 0, joiners)
	for i := 0; i < joiners; i++ {
		user := createApprovedUser(t, db,
			fmt.Sprintf("joiner-5-%d", i),
			fmt.Sprintf("joiner5-%d@example.com", i))
		ids = append(ids, user.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, joiners*attemptsPerJoiner)
	for _, id := range ids {
		for a := 0; a < attemptsPerJoiner; a++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				_, err := svc.JoinByInviteCode(ctx, userID, family.InviteCode)
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// Exactly one membership row per joiner plus the owner.
	require.Equal(t, int64(joiners+1), memberCount(t, db, family.ID))
	for _, id := range ids {
		var count int64
		require.NoError(t, db.Model(&models.FamilyMember{}).
			Where("family_id = ? AND user_id = ?", family.ID, id).
			Count(&count).Error)
		require.Equal(t, int64(1), count)
	}
}

func TestFamilyServiceGetByIDMemberGate(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-6", "owner6@example.com")
	outsider := createApprovedUser(t, db, "outsider-6", "outsider6@example.com")

	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Private Household"})
	require.NoError(t, err)

	loaded, err := svc.GetByID(ctx, owner.ID, family.ID)
	require.NoError(t, err)
	require.Equal(t, family.ID, loaded.ID)

	_, err = svc.GetByID(ctx, outsider.ID, family.ID)
	require.ErrorIs(t, err, ErrNotFamilyMember)
}

func TestFamilyServiceFindByInviteCode(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-7", "owner7@example.com")
	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Preview Household"})
	require.NoError(t, err)

	preview, err := svc.FindByInviteCode(ctx, strings.ToLower(family.InviteCode))
	require.NoError(t, err)
	require.Equal(t, family.ID, preview.ID)
	require.Equal(t, "Preview Household", preview.FamilyName)
	require.Equal(t, 1, preview.MemberCount)

	_, err = svc.FindByInviteCode(ctx, "FAM-QQQQQQ")
	require.ErrorIs(t, err, ErrInviteCodeUnknown)
}

func TestFamilyServiceRemoveMember(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc := newFamilyService(t, db)
	ctx := context.Background()

	owner := createApprovedUser(t, db, "owner-8", "owner8@example.com")
	member := createApprovedUser(t, db, "member-8", "member8@example.com")
	other := createApprovedUser(t, db, "other-8", "other8@example.com")

	family, err := svc.Create(ctx, owner.ID, CreateFamilyInput{FamilyName: "Shrinking Household"})
	require.NoError(t, err)
	_, err = svc.JoinByInviteCode(ctx, member.ID, family.InviteCode)
	require.NoError(t, err)
	_, err = svc.JoinByInviteCode(ctx, other.ID, family.InviteCode)
	require.NoError(t, err)

	// A non-admin member cannot remove someone else.
	err = svc.RemoveMember(ctx, member.ID, family.ID, other.ID)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrPermissionDenied.Code, apperrors.FromError(err).Code)

	// Members may leave on their own.
	require.NoError(t, svc.RemoveMember(ctx, other.ID, family.ID, other.ID))

	// The family admin may remove anyone.
	require.NoError(t, svc.RemoveMember(ctx, owner.ID, family.ID, member.ID))
	require.Equal(t, int64(1), memberCount(t, db, family.ID))

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", member.ID).Error)
	require.Nil(t, reloaded.FamilyID)

	err = svc.RemoveMember(ctx, owner.ID, family.ID, member.ID)
	require.ErrorIs(t, err, ErrFamilyMemberNotFound)
}

func newFamilyService(t *testing.T, db *gorm.DB, opts ...FamilyOption) *FamilyService {
	t.Helper()

	audit, err := NewAuditService(db)
	require.NoError(t, err)

	svc, err := NewFamilyService(db, audit, opts...)
	require.NoError(t, err)
	return svc
}

func createApprovedUser(t *testing.T, db *gorm.DB, id, email string) *models.User {
	t.Helper()

	user := models.User{
		ID:          id,
		Email:       email,
		DisplayName: "Test User",
		Status:      models.StatusApproved,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func memberCount(t *testing.T, db *gorm.DB, familyID string) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&models.FamilyMember{}).
		Where("family_id = ?", familyID).
		Count(&count).Error)
	return count
}
