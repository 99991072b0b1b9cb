package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/models"
	apperrors "github.com/medstock/medstock-server/pkg/errors"
)

const (
	// DefaultExpiryWindow is the expiring-soon horizon.
	DefaultExpiryWindow = 30 * 24 * time.Hour
	// DefaultLowStockRatio flags items under 20% of their original quantity.
	DefaultLowStockRatio = 0.2
)

var (
	// ErrMedicationNotFound indicates the requested medication does not exist.
	ErrMedicationNotFound = apperrors.ErrNotFound.WithMessage("Medication not found")
	// ErrNoFamily indicates the caller has not joined a family yet.
	ErrNoFamily = apperrors.ErrFailedPrecondition.WithMessage("User does not belong to a family")
)

// MedicationOption customises MedicationService behaviour.
type MedicationOption func(*MedicationService)

// WithExpiryWindow overrides the expiring-soon horizon.
func WithExpiryWindow(d time.Duration) MedicationOption {
	return func(s *MedicationService) {
		if d > 0 {
			s.expiryWindow = d
		}
	}
}

// WithLowStockRatio overrides the low-stock threshold fraction.
func WithLowStockRatio(r float64) MedicationOption {
	return func(s *MedicationService) {
		if r > 0 && r < 1 {
			s.lowStockRatio = r
		}
	}
}

// WithMedicationClock injects a custom clock, primarily for testing.
func WithMedicationClock(now func() time.Time) MedicationOption {
	return func(s *MedicationService) {
		if now != nil {
			s.now = now
		}
	}
}

// MedicationService manages the family-scoped medication inventory.
type MedicationService struct {
	db            *gorm.DB
	audit         *AuditService
	expiryWindow  time.Duration
	lowStockRatio float64
	now           func() time.Time
}

// NewMedicationService constructs a MedicationService instance.
func NewMedicationService(db *gorm.DB, audit *AuditService, opts ...MedicationOption) (*MedicationService, error) {
	if db == nil {
		return nil, errors.New("medication service: db is required")
	}

	s := &MedicationService{
		db:            db,
		audit:         audit,
		expiryWindow:  DefaultExpiryWindow,
		lowStockRatio: DefaultLowStockRatio,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// CreateMedicationInput captures a new inventory item.
type CreateMedicationInput struct {
	Name     string
	Drug     string
	Generic  bool
	Type     models.MedicationType
	Brand    string
	Dosage   string
	Batch    string
	Category models.MedicationCategory

	ExpiresAt       time.Time
	QuantityTotal   int
	QuantityCurrent int

	PhotoURL string
	Notes    string
}

// UpdateMedicationInput describes the mutable medication fields.
type UpdateMedicationInput struct {
	Name            *string
	Drug            *string
	Generic         *bool
	Type            *models.MedicationType
	Brand           *string
	Dosage          *string
	Batch           *string
	Category        *models.MedicationCategory
	ExpiresAt       *time.Time
	QuantityTotal   *int
	QuantityCurrent *int
	PhotoURL        *string
	Notes           *string
}

// MedicationView decorates a medication with its derived expiry status.
type MedicationView struct {
	models.Medication
	ExpiryStatus models.ExpiryStatus `json:"expiry_status"`
	LowStock     bool                `json:"low_stock"`
}

// MedicationStats summarises a family's inventory.
type MedicationStats struct {
	Total        int `json:"total"`
	ExpiringSoon int `json:"expiring_soon"`
	Expired      int `json:"expired"`
	LowStock     int `json:"low_stock"`
}

// Create adds a medication to the caller's family inventory.
func (s *MedicationService) Create(ctx context.Context, callerID string, input CreateMedicationInput) (*MedicationView, error) {
	ctx = ensureContext(ctx)

	user, err := s.memberUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	drug := strings.TrimSpace(input.Drug)
	if name == "" || drug == "" {
		return nil, apperrors.NewInvalidArgument("name and drug are required")
	}
	if input.QuantityTotal <= 0 || input.QuantityCurrent < 0 || input.QuantityCurrent > input.QuantityTotal {
		return nil, apperrors.NewInvalidArgument("quantities are out of range")
	}
	if input.ExpiresAt.IsZero() {
		return nil, apperrors.NewInvalidArgument("expiry date is required")
	}

	med := models.Medication{
		FamilyID:        *user.FamilyID,
		CreatedBy:       user.ID,
		Name:            name,
		Drug:            drug,
		Generic:         input.Generic,
		Type:            input.Type,
		Brand:           strings.TrimSpace(input.Brand),
		Dosage:          strings.TrimSpace(input.Dosage),
		Batch:           strings.TrimSpace(input.Batch),
		Category:        input.Category,
		ExpiresAt:       datatypes.Date(input.ExpiresAt),
		QuantityTotal:   input.QuantityTotal,
		QuantityCurrent: input.QuantityCurrent,
		PhotoURL:        strings.TrimSpace(input.PhotoURL),
		Notes:           strings.TrimSpace(input.Notes),
	}
	if med.Type == "" {
		med.Type = models.TypeOther
	}

	if err := s.db.WithContext(ctx).Create(&med).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to create medication")
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &user.ID,
		Action:   "medication.create",
		Resource: med.ID,
		Result:   "success",
		Metadata: map[string]any{"family_id": med.FamilyID, "name": med.Name},
	})

	return s.view(&med), nil
}

// Get returns one medication, gated on family membership.
func (s *MedicationService) Get(ctx context.Context, callerID, id string) (*MedicationView, error) {
	ctx = ensureContext(ctx)

	user, err := s.memberUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	med, err := s.familyMedication(ctx, *user.FamilyID, id)
	if err != nil {
		return nil, err
	}

	return s.view(med), nil
}

// List returns the caller's family inventory ordered by soonest expiry.
func (s *MedicationService) List(ctx context.Context, callerID string) ([]MedicationView, error) {
	ctx = ensureContext(ctx)

	user, err := s.memberUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	var meds []models.Medication
	err = s.db.WithContext(ctx).
		Where("family_id = ?", *user.FamilyID).
		Order("expires_at ASC").
		Find(&meds).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list medications")
	}

	views := make([]MedicationView, 0, len(meds))
	for i := range meds {
		views = append(views, *s.view(&meds[i]))
	}
	return views, nil
}

// Update modifies a medication in the caller's family inventory.
func (s *MedicationService) Update(ctx context.Context, callerID, id string, input UpdateMedicationInput) (*MedicationView, error) {
	ctx = ensureContext(ctx)

	user, err := s.memberUser(ctx, callerID)
	if err != nil {
		return nil, err
	}

	med, err := s.familyMedication(ctx, *user.FamilyID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" {
			updates["name"] = name
		}
	}
	if input.Drug != nil {
		if drug := strings.TrimSpace(*input.Drug); drug != "" {
			updates["drug"] = drug
		}
	}
	if input.Generic != nil {
		updates["generic"] = *input.Generic
	}
	if input.Type != nil {
		updates["type"] = *input.Type
	}
	if input.Brand != nil {
		updates["brand"] = strings.TrimSpace(*input.Brand)
	}
	if input.Dosage != nil {
		updates["dosage"] = strings.TrimSpace(*input.Dosage)
	}
	if input.Batch != nil {
		updates["batch"] = strings.TrimSpace(*input.Batch)
	}
	if input.Category != nil {
		updates["category"] = *input.Category
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.IsZero() {
		updates["expires_at"] = datatypes.Date(*input.ExpiresAt)
	}
	if input.QuantityTotal != nil {
		if *input.QuantityTotal <= 0 {
			return nil, apperrors.NewInvalidArgument("quantity_total must be positive")
		}
		updates["quantity_total"] = *input.QuantityTotal
	}
	if input.QuantityCurrent != nil {
		if *input.QuantityCurrent < 0 {
			return nil, apperrors.NewInvalidArgument("quantity_current must not be negative")
		}
		updates["quantity_current"] = *input.QuantityCurrent
	}
	if input.QuantityTotal != nil || input.QuantityCurrent != nil {
		total := med.QuantityTotal
		if input.QuantityTotal != nil {
			total = *input.QuantityTotal
		}
		current := med.QuantityCurrent
		if input.QuantityCurrent != nil {
			current = *input.QuantityCurrent
		}
		if current > total {
			return nil, apperrors.NewInvalidArgument("quantity_current cannot exceed quantity_total")
		}
	}
	if input.PhotoURL != nil {
		updates["photo_url"] = strings.TrimSpace(*input.PhotoURL)
	}
	if input.Notes != nil {
		updates["notes"] = strings.TrimSpace(*input.Notes)
	}

	if len(updates) == 0 {
		return s.view(med), nil
	}
	updates["updated_at"] = time.Now()

	if err := s.db.WithContext(ctx).Model(med).Updates(updates).Error; err != nil {
		return nil, apperrors.Wrap(err, "failed to update medication")
	}

	med, err = s.familyMedication(ctx, *user.FamilyID, id)
	if err != nil {
		return nil, err
	}
	return s.view(med), nil
}

// Delete removes a medication from the caller's family inventory.
func (s *MedicationService) Delete(ctx context.Context, callerID, id string) error {
	ctx = ensureContext(ctx)

	user, err := s.memberUser(ctx, callerID)
	if err != nil {
		return err
	}

	med, err := s.familyMedication(ctx, *user.FamilyID, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(med).Error; err != nil {
		return apperrors.Wrap(err, "failed to delete medication")
	}

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:   &user.ID,
		Action:   "medication.delete",
		Resource: med.ID,
		Result:   "success",
	})

	return nil
}

// Stats summarises the caller's family inventory.
func (s *MedicationService) Stats(ctx context.Context, callerID string) (*MedicationStats, error) {
	ctx = ensureContext(ctx)

	views, err := s.List(ctx, callerID)
	if err != nil {
		return nil, err
	}

	stats := MedicationStats{Total: len(views)}
	for _, v := range views {
		switch v.ExpiryStatus {
		case models.ExpiryExpired:
			stats.Expired++
		case models.ExpiryExpiringSoon:
			stats.ExpiringSoon++
		}
		if v.LowStock {
			stats.LowStock++
		}
	}

	return &stats, nil
}

func (s *MedicationService) view(med *models.Medication) *MedicationView {
	return &MedicationView{
		Medication:   *med,
		ExpiryStatus: med.ExpiryStatusAt(s.now(), s.expiryWindow),
		LowStock:     med.LowStock(s.lowStockRatio),
	}
}

// memberUser loads the caller and requires an approved profile that belongs
// to a family.
func (s *MedicationService) memberUser(ctx context.Context, callerID string) (*models.User, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, apperrors.ErrUnauthenticated
	}

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
	if user.FamilyID == nil || *user.FamilyID == "" {
		return nil, ErrNoFamily
	}

	return &user, nil
}

func (s *MedicationService) familyMedication(ctx context.Context, familyID, id string) (*models.Medication, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewInvalidArgument("medication id is required")
	}

	var med models.Medication
	err := s.db.WithContext(ctx).First(&med, "id = ? AND family_id = ?", id, familyID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMedicationNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load medication")
	}

	return &med, nil
}
