package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/medstock/medstock-server/internal/models"
	apperrors "github.com/medstock/medstock-server/pkg/errors"
	"github.com/medstock/medstock-server/pkg/metrics"
)

const (
	// DefaultMaxMembers caps family size; configurable via WithMaxMembers.
	DefaultMaxMembers = 20

	inviteCodePrefix = "FAM-"
	inviteCodeLength = 10
	inviteSuffixLen  = 6

	// Uppercase letters minus I/O and digits 2-9: visually unambiguous when
	// codes are shared over the phone or on paper.
	inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	joinTxMaxAttempts = 20
	joinTxBackoff     = 5 * time.Millisecond
)

var (
	// ErrInviteCodeMalformed indicates the supplied code does not have the FAM-XXXXXX shape.
	ErrInviteCodeMalformed = apperrors.ErrInvalidArgument.WithMessage("Invite code format is invalid")
	// ErrProfileNotFound indicates the caller has no profile record.
	ErrProfileNotFound = apperrors.ErrFailedPrecondition.WithMessage("User profile not found")
	// ErrUserNotApproved indicates the caller has not passed admin review.
	ErrUserNotApproved = apperrors.ErrPermissionDenied.WithMessage("User is not approved")
	// ErrInviteCodeUnknown indicates no family carries the supplied code.
	ErrInviteCodeUnknown = apperrors.ErrNotFound.WithMessage("Invite code does not match any family")
	// ErrFamilyNotFound indicates the family record does not exist.
	ErrFamilyNotFound = apperrors.ErrNotFound.WithMessage("Family not found")
	// ErrFamilyFull indicates the membership cap was reached.
	ErrFamilyFull = apperrors.ErrResourceExhausted.WithMessage("Family has reached its member limit")
	// ErrNotFamilyMember indicates the caller does not belong to the family.
	ErrNotFamilyMember = apperrors.ErrPermissionDenied.WithMessage("User is not a member of this family")
	// ErrFamilyMemberNotFound indicates the target membership row does not exist.
	ErrFamilyMemberNotFound = apperrors.ErrNotFound.WithMessage("User is not a member of the family")

	// errJoinRace marks a lost insert race inside the join transaction; the
	// retry loop re-runs the transaction, which then takes the idempotent
	// already-member path.
	errJoinRace = errors.New("family: concurrent join on same membership")
)

// FamilyOption customises FamilyService behaviour.
type FamilyOption func(*FamilyService)

// WithMaxMembers overrides the membership cap.
func WithMaxMembers(n int) FamilyOption {
	return func(s *FamilyService) {
		if n > 0 {
			s.maxMembers = n
		}
	}
}

// WithInviteCodeGenerator injects a deterministic code generator for tests.
func WithInviteCodeGenerator(gen func() (string, error)) FamilyOption {
	return func(s *FamilyService) {
		if gen != nil {
			s.genCode = gen
		}
	}
}

// FamilyService owns family lifecycle and the invite-code join transaction.
type FamilyService struct {
	db         *gorm.DB
	audit      *AuditService
	maxMembers int
	genCode    func() (string, error)
}

// NewFamilyService constructs a FamilyService instance.
func NewFamilyService(db *gorm.DB, audit *AuditService, opts ...FamilyOption) (*FamilyService, error) {
	if db == nil {
		return nil, errors.New("family service: db is required")
	}

	s := &FamilyService{
		db:         db,
		audit:      audit,
		maxMembers: DefaultMaxMembers,
		genCode:    generateInviteCode,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// NormalizeInviteCode upper-cases and trims a raw invite code and checks the
// fixed FAM-XXXXXX shape. Lower-case input is valid; wrong prefix or length
// is not.
func NormalizeInviteCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !strings.HasPrefix(code, inviteCodePrefix) || len(code) != inviteCodeLength {
		return "", ErrInviteCodeMalformed
	}
	return code, nil
}

func generateInviteCode() (string, error) {
	suffix, err := gonanoid.Generate(inviteCodeAlphabet, inviteSuffixLen)
	if err != nil {
		return "", fmt.Errorf("family service: generate invite code: %w", err)
	}
	return inviteCodePrefix + suffix, nil
}

// JoinByInviteCode adds the caller to the family matching the invite code.
//
// The membership check, capacity check, and dual write (membership row plus
// the caller's profile pointer) run inside one transaction per attempt, and
// the whole transaction is retried on storage conflicts, so concurrent joins
// against the same family are linearized: repeated calls are idempotent and
// the member cap is never exceeded. Every failure path leaves both records
// untouched.
func (s *FamilyService) JoinByInviteCode(ctx context.Context, callerID, inviteCodeRaw string) (string, error) {
	ctx = ensureContext(ctx)

	familyID, err := s.joinByInviteCode(ctx, callerID, inviteCodeRaw)
	if err != nil {
		metrics.FamilyJoins.WithLabelValues(apperrors.FromError(err).Code).Inc()
		return "", err
	}

	metrics.FamilyJoins.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &callerID,
		Action:   "family.join",
		Resource: familyID,
		Result:   "success",
	})

	return familyID, nil
}

func (s *FamilyService) joinByInviteCode(ctx context.Context, callerID, inviteCodeRaw string) (string, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return "", apperrors.ErrUnauthenticated
	}

	code, err := NormalizeInviteCode(inviteCodeRaw)
	if err != nil {
		return "", err
	}

	if _, err := s.approvedUser(ctx, callerID); err != nil {
		return "", err
	}

	// Resolve the family by code before entering the transaction; the
	// transaction re-reads by id so a stale snapshot here is harmless.
	var family models.Family
	err = s.db.WithContext(ctx).Where("invite_code = ?", code).First(&family).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrInviteCodeUnknown
	}
	if err != nil {
		return "", apperrors.Wrap(err, "failed to resolve invite code")
	}

	familyID := family.ID

	for attempt := 1; ; attempt++ {
		err = s.joinTx(ctx, familyID, callerID)
		if err == nil {
			return familyID, nil
		}
		if attempt < joinTxMaxAttempts && (errors.Is(err, errJoinRace) || isRetryableTxError(err)) {
			time.Sleep(time.Duration(attempt) * joinTxBackoff)
			continue
		}
		if errors.Is(err, errJoinRace) || isRetryableTxError(err) {
			return "", apperrors.Wrap(err, "join transaction kept conflicting")
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return "", err
		}
		return "", apperrors.Wrap(err, "join transaction failed")
	}
}

// joinTx is one attempt at the atomic membership mutation. It is a pure
// function of freshly-read state, so re-running it after a conflict is safe.
func (s *FamilyService) joinTx(ctx context.Context, familyID, callerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var family models.Family
		err := lockForUpdate(tx).First(&family, "id = ?", familyID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFamilyNotFound
		}
		if err != nil {
			return fmt.Errorf("family service: reload family: %w", err)
		}

		var membership models.FamilyMember
		err = tx.Where("family_id = ? AND user_id = ?", familyID, callerID).First(&membership).Error
		switch {
		case err == nil:
			// Already a member: only repair the profile pointer.
			return setUserFamily(tx, callerID, familyID)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("family service: check membership: %w", err)
		}

		var count int64
		if err := tx.Model(&models.FamilyMember{}).Where("family_id = ?", familyID).Count(&count).Error; err != nil {
			return fmt.Errorf("family service: count members: %w", err)
		}
		if count >= int64(s.maxMembers) {
			return ErrFamilyFull
		}

		member := models.FamilyMember{
			FamilyID: familyID,
			UserID:   callerID,
			Role:     models.RoleEditor,
		}
		if err := tx.Create(&member).Error; err != nil {
			if isUniqueConstraintError(err) {
				return errJoinRace
			}
			return fmt.Errorf("family service: insert membership: %w", err)
		}

		return setUserFamily(tx, callerID, familyID)
	})
}

// CreateFamilyInput captures new family metadata.
type CreateFamilyInput struct {
	FamilyName string
}

// Create registers a new family with the caller as its sole admin member and
// points the caller's profile at it.
func (s *FamilyService) Create(ctx context.Context, callerID string, input CreateFamilyInput) (*models.Family, error) {
	ctx = ensureContext(ctx)

	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	name := strings.TrimSpace(input.FamilyName)
	if name == "" {
		return nil, apperrors.NewInvalidArgument("family name is required")
	}

	user, err := s.approvedUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	code, err := s.genCode()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to generate invite code")
	}

	family := models.Family{
		FamilyName: name,
		CreatedBy:  user.ID,
		InviteCode: code,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&family).Error; err != nil {
			return fmt.Errorf("family service: create family: %w", err)
		}

		creator := models.FamilyMember{
			FamilyID: family.ID,
			UserID:   user.ID,
			Role:     models.RoleAdmin,
		}
		if err := tx.Create(&creator).Error; err != nil {
			return fmt.Errorf("family service: insert creator membership: %w", err)
		}

		return setUserFamily(tx, user.ID, family.ID)
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &callerID,
		Action:   "family.create",
		Resource: family.ID,
		Result:   "success",
		Metadata: map[string]any{"family_name": name},
	})

	return s.loadFamily(ctx, family.ID)
}

// GetByID returns a family with its members. Restricted to members.
func (s *FamilyService) GetByID(ctx context.Context, callerID, familyID string) (*models.Family, error) {
	ctx = ensureContext(ctx)

	family, err := s.loadFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}

	if _, ok := family.RoleOf(strings.TrimSpace(callerID)); !ok {
		return nil, ErrNotFamilyMember
	}

	return family, nil
}

// FamilyPreview is the reduced view shown before joining.
type FamilyPreview struct {
	ID          string `json:"id"`
	FamilyName  string `json:"family_name"`
	MemberCount int    `json:"member_count"`
}

// FindByInviteCode resolves an invite code to a family preview without
// mutating anything. Used by the join flow to confirm the target family.
func (s *FamilyService) FindByInviteCode(ctx context.Context, inviteCodeRaw string) (*FamilyPreview, error) {
	ctx = ensureContext(ctx)

	code, err := NormalizeInviteCode(inviteCodeRaw)
	if err != nil {
		return nil, err
	}

	var family models.Family
	err = s.db.WithContext(ctx).Preload("Members").Where("invite_code = ?", code).First(&family).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteCodeUnknown
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to resolve invite code")
	}

	return &FamilyPreview{
		ID:          family.ID,
		FamilyName:  family.FamilyName,
		MemberCount: len(family.Members),
	}, nil
}

// RemoveMember deletes a membership row and clears the target's profile
// pointer. Family admins may remove anyone; members may remove themselves.
// Takes the same transactional discipline as the join: the membership pair is
// the shared resource.
func (s *FamilyService) RemoveMember(ctx context.Context, callerID, familyID, userID string) error {
	ctx = ensureContext(ctx)

	callerID = strings.TrimSpace(callerID)
	familyID = strings.TrimSpace(familyID)
	userID = strings.TrimSpace(userID)
	if callerID == "" {
		return apperrors.ErrUnauthenticated
	}
	if familyID == "" || userID == "" {
		return apperrors.NewInvalidArgument("family id and user id are required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var family models.Family
		err := lockForUpdate(tx).First(&family, "id = ?", familyID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFamilyNotFound
		}
		if err != nil {
			return fmt.Errorf("family service: load family: %w", err)
		}

		if callerID != userID {
			var caller models.FamilyMember
			err := tx.Where("family_id = ? AND user_id = ?", familyID, callerID).First(&caller).Error
			if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && caller.Role != models.RoleAdmin) {
				return ErrNotFamilyMember.WithMessage("Only the family admin can remove other members")
			}
			if err != nil {
				return fmt.Errorf("family service: load caller membership: %w", err)
			}
		}

		result := tx.Where("family_id = ? AND user_id = ?", familyID, userID).Delete(&models.FamilyMember{})
		if result.Error != nil {
			return fmt.Errorf("family service: delete membership: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrFamilyMemberNotFound
		}

		// Clear the profile pointer only when it still references this family.
		return tx.Model(&models.User{}).
			Where("id = ? AND family_id = ?", userID, familyID).
			Updates(map[string]any{"family_id": nil, "updated_at": time.Now()}).Error
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &callerID,
		Action:   "family.remove_member",
		Resource: familyID,
		Result:   "success",
		Metadata: map[string]any{"user_id": userID},
	})

	return nil
}

func (s *FamilyService) approvedUser(ctx context.Context, callerID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", callerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load user profile")
	}

	if !user.Approved() {
		return nil, ErrUserNotApproved
	}

	return &user, nil
}

func (s *FamilyService) loadFamily(ctx context.Context, familyID string) (*models.Family, error) {
	var family models.Family
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&family, "id = ?", strings.TrimSpace(familyID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFamilyNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load family")
	}
	return &family, nil
}

// setUserFamily points a user's profile at the given family and refreshes
// updated_at, inside the caller's transaction.
func setUserFamily(tx *gorm.DB, userID, familyID string) error {
	err := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"family_id": familyID, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("family service: update user family: %w", err)
	}
	return nil
}

// lockForUpdate applies a row lock on databases that support SELECT ... FOR
// UPDATE. SQLite's grammar has no row locks; its single-writer transaction
// model already serializes the join, with conflicts surfacing as retryable
// busy errors.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
