package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/models"
	apperrors "github.com/medstock/medstock-server/pkg/errors"
	"github.com/medstock/medstock-server/pkg/metrics"
)

var (
	// ErrUserNotFound indicates the requested profile does not exist.
	ErrUserNotFound = apperrors.ErrNotFound.WithMessage("User not found")
)

// Subject is the verified identity handed over by the authentication layer.
type Subject struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
}

// UpdateProfileInput describes the mutable profile fields.
type UpdateProfileInput struct {
	DisplayName *string
	PhotoURL    *string
}

// ApprovalResult is the outcome contract of the admin approval operation.
type ApprovalResult struct {
	Success bool              `json:"success"`
	UID     string            `json:"uid"`
	Status  models.UserStatus `json:"status"`
	Message string            `json:"message"`
}

// SetAdminResult is the outcome contract of the set-admin operation.
type SetAdminResult struct {
	Success bool   `json:"success"`
	UID     string `json:"uid"`
	Message string `json:"message"`
}

// UserService manages profile records for identity-provider subjects.
type UserService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, audit *AuditService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: audit}, nil
}

// EnsureProfile creates a pending profile on the subject's first
// authenticated contact. Idempotent: an existing profile is returned as-is,
// and a lost creation race resolves to the winner's row.
func (s *UserService) EnsureProfile(ctx context.Context, subject Subject) (*models.User, error) {
	ctx = ensureContext(ctx)

	id := strings.TrimSpace(subject.ID)
	if id == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Wrap(err, "failed to load user profile")
	}

	user = models.User{
		ID:          id,
		Email:       strings.ToLower(strings.TrimSpace(subject.Email)),
		DisplayName: strings.TrimSpace(subject.DisplayName),
		PhotoURL:    strings.TrimSpace(subject.PhotoURL),
		Status:      models.StatusPending,
	}
	if user.DisplayName == "" {
		user.DisplayName = "User"
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) {
			// Concurrent first contact: the other request created the row.
			if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err == nil {
				return &user, nil
			}
		}
		return nil, apperrors.Wrap(err, "failed to create user profile")
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &user.ID,
		Action:   "user.profile_created",
		Resource: user.ID,
		Result:   "success",
	})

	return &user, nil
}

// GetByID loads a single profile.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load user")
	}

	return &user, nil
}

// UpdateProfile modifies the caller's mutable profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, id string, input UpdateProfileInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.DisplayName != nil {
		if name := strings.TrimSpace(*input.DisplayName); name != "" {
			updates["display_name"] = name
		}
	}
	if input.PhotoURL != nil {
		updates["photo_url"] = strings.TrimSpace(*input.PhotoURL)
	}

	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = time.Now()

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to update profile")
	}

	return s.GetByID(ctx, id)
}

// ListPending returns profiles awaiting admin review, oldest first.
func (s *UserService) ListPending(ctx context.Context) ([]models.User, error) {
	ctx = ensureContext(ctx)

	var users []models.User
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Order("created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list pending users")
	}

	return users, nil
}

// Approve sets the target profile's status to approved or rejected. The admin
// gate lives in the transport layer; actorID is recorded for auditing.
func (s *UserService) Approve(ctx context.Context, actorID, uid string, approve bool) (*ApprovalResult, error) {
	ctx = ensureContext(ctx)

	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, apperrors.NewInvalidArgument("uid is required")
	}

	status := models.StatusRejected
	if approve {
		status = models.StatusApproved
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", uid).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return nil, apperrors.Wrap(result.Error, "failed to update user status")
	}
	if result.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}

	metrics.UserApprovals.WithLabelValues(string(status)).Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actorID,
		Action:   "user.approve",
		Resource: uid,
		Result:   string(status),
	})

	message := "User rejected"
	if approve {
		message = "User approved"
	}

	return &ApprovalResult{
		Success: true,
		UID:     uid,
		Status:  status,
		Message: message,
	}, nil
}

// SetAdmin grants the admin flag to the profile matching the email. The
// caller must already be an admin (enforced at the transport layer); the
// first admin is bootstrapped out-of-band at seed time.
func (s *UserService) SetAdmin(ctx context.Context, actorID, email string) (*SetAdminResult, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.NewInvalidArgument("email is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up user by email")
	}

	if !user.IsAdmin {
		err := s.db.WithContext(ctx).Model(&user).
			Updates(map[string]any{"is_admin": true, "updated_at": time.Now()}).Error
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to grant admin")
		}
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &actorID,
		Action:   "user.set_admin",
		Resource: user.ID,
		Result:   "success",
		Metadata: map[string]any{"email": email},
	})

	return &SetAdminResult{
		Success: true,
		UID:     user.ID,
		Message: fmt.Sprintf("User %s is now an admin", email),
	}, nil
}
