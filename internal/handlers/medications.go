package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/models"
	"github.com/medstock/medstock-server/internal/services"
	"github.com/medstock/medstock-server/pkg/errors"
	"github.com/medstock/medstock-server/pkg/response"
)

const expiryDateLayout = "2006-01-02"

// MedicationHandler exposes the family inventory endpoints.
type MedicationHandler struct {
	svc *services.MedicationService
}

type createMedicationRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=256"`
	Drug     string `json:"drug" validate:"required,min=1,max=256"`
	Generic  bool   `json:"generic"`
	Type     string `json:"type" validate:"omitempty,oneof=tablet capsule liquid ointment injection other"`
	Brand    string `json:"brand" validate:"omitempty,max=256"`
	Dosage   string `json:"dosage" validate:"omitempty,max=128"`
	Batch    string `json:"batch" validate:"omitempty,max=128"`
	Category string `json:"category" validate:"omitempty,oneof=analgesic antibiotic anti_inflammatory antihypertensive antidiabetic antihistamine vitamin other"`

	ExpiresAt     string `json:"expires_at" validate:"required"`
	QuantityTotal int    `json:"quantity_total" validate:"required,min=1"`
	// Pointer so an explicit zero (out of stock) is distinct from omitted,
	// which defaults to quantity_total.
	QuantityCurrent *int `json:"quantity_current" validate:"omitempty,min=0"`

	PhotoURL string `json:"photo_url" validate:"omitempty,max=2048"`
	Notes    string `json:"notes" validate:"omitempty,max=4096"`
}

type updateMedicationRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=256"`
	Drug     *string `json:"drug" validate:"omitempty,min=1,max=256"`
	Generic  *bool   `json:"generic"`
	Type     *string `json:"type" validate:"omitempty,oneof=tablet capsule liquid ointment injection other"`
	Brand    *string `json:"brand" validate:"omitempty,max=256"`
	Dosage   *string `json:"dosage" validate:"omitempty,max=128"`
	Batch    *string `json:"batch" validate:"omitempty,max=128"`
	Category *string `json:"category" validate:"omitempty,oneof=analgesic antibiotic anti_inflammatory antihypertensive antidiabetic antihistamine vitamin other"`

	ExpiresAt       *string `json:"expires_at"`
	QuantityTotal   *int    `json:"quantity_total" validate:"omitempty,min=1"`
	QuantityCurrent *int    `json:"quantity_current" validate:"omitempty,min=0"`

	PhotoURL *string `json:"photo_url" validate:"omitempty,max=2048"`
	Notes    *string `json:"notes" validate:"omitempty,max=4096"`
}

func NewMedicationHandler(db *gorm.DB, opts ...services.MedicationOption) (*MedicationHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewMedicationService(db, audit, opts...)
	if err != nil {
		return nil, err
	}
	return &MedicationHandler{svc: svc}, nil
}

// POST /api/medications
func (h *MedicationHandler) Create(c *gin.Context) {
	var body createMedicationRequest
	if !bindAndValidate(c, &body) {
		return
	}

	expires, err := time.Parse(expiryDateLayout, body.ExpiresAt)
	if err != nil {
		response.Error(c, errors.NewInvalidArgument("expires_at must be a YYYY-MM-DD date"))
		return
	}

	input := services.CreateMedicationInput{
		Name:            body.Name,
		Drug:            body.Drug,
		Generic:         body.Generic,
		Type:            models.MedicationType(body.Type),
		Brand:           body.Brand,
		Dosage:          body.Dosage,
		Batch:           body.Batch,
		Category:        models.MedicationCategory(body.Category),
		ExpiresAt:       expires,
		QuantityTotal:   body.QuantityTotal,
		QuantityCurrent: body.QuantityTotal,
		PhotoURL:        body.PhotoURL,
		Notes:           body.Notes,
	}
	if body.QuantityCurrent != nil {
		input.QuantityCurrent = *body.QuantityCurrent
	}

	med, err := h.svc.Create(requestContext(c), currentUserID(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, med)
}

// GET /api/medications
func (h *MedicationHandler) List(c *gin.Context) {
	meds, err := h.svc.List(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, meds)
}

// GET /api/medications/stats
func (h *MedicationHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// GET /api/medications/:id
func (h *MedicationHandler) Get(c *gin.Context) {
	med, err := h.svc.Get(requestContext(c), currentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, med)
}

// PATCH /api/medications/:id
func (h *MedicationHandler) Update(c *gin.Context) {
	var body updateMedicationRequest
	if !bindAndValidate(c, &body) {
		return
	}

	input := services.UpdateMedicationInput{
		Name:            body.Name,
		Drug:            body.Drug,
		Generic:         body.Generic,
		Brand:           body.Brand,
		Dosage:          body.Dosage,
		Batch:           body.Batch,
		QuantityTotal:   body.QuantityTotal,
		QuantityCurrent: body.QuantityCurrent,
		PhotoURL:        body.PhotoURL,
		Notes:           body.Notes,
	}
	if body.Type != nil {
		t := models.MedicationType(*body.Type)
		input.Type = &t
	}
	if body.Category != nil {
		cat := models.MedicationCategory(*body.Category)
		input.Category = &cat
	}
	if body.ExpiresAt != nil {
		expires, err := time.Parse(expiryDateLayout, *body.ExpiresAt)
		if err != nil {
			response.Error(c, errors.NewInvalidArgument("expires_at must be a YYYY-MM-DD date"))
			return
		}
		input.ExpiresAt = &expires
	}

	med, err := h.svc.Update(requestContext(c), currentUserID(c), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, med)
}

// DELETE /api/medications/:id
func (h *MedicationHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), currentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
