package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/services"
	"github.com/medstock/medstock-server/pkg/errors"
	"github.com/medstock/medstock-server/pkg/response"
)

// FamilyHandler exposes family lifecycle and membership endpoints.
type FamilyHandler struct {
	svc *services.FamilyService
}

type createFamilyRequest struct {
	FamilyName string `json:"family_name" validate:"required,min=2,max=128"`
}

type joinFamilyRequest struct {
	InviteCode string `json:"invite_code" validate:"required,invitecode"`
}

func NewFamilyHandler(db *gorm.DB, opts ...services.FamilyOption) (*FamilyHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewFamilyService(db, audit, opts...)
	if err != nil {
		return nil, err
	}
	return &FamilyHandler{svc: svc}, nil
}

// POST /api/families
func (h *FamilyHandler) Create(c *gin.Context) {
	var body createFamilyRequest
	if !bindAndValidate(c, &body) {
		return
	}

	family, err := h.svc.Create(requestContext(c), currentUserID(c), services.CreateFamilyInput{
		FamilyName: strings.TrimSpace(body.FamilyName),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, family)
}

// POST /api/families/join
//
// Joining is idempotent: a member who retries with the same code gets the same
// success payload back.
func (h *FamilyHandler) Join(c *gin.Context) {
	var body joinFamilyRequest
	if !bindAndValidate(c, &body) {
		return
	}

	familyID, err := h.svc.JoinByInviteCode(requestContext(c), currentUserID(c), body.InviteCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"success":   true,
		"family_id": familyID,
	})
}

// GET /api/families/lookup?invite_code=FAM-XXXXXX
func (h *FamilyHandler) Lookup(c *gin.Context) {
	code := strings.TrimSpace(c.Query("invite_code"))
	if code == "" {
		response.Error(c, errors.NewInvalidArgument("invite_code is required"))
		return
	}

	preview, err := h.svc.FindByInviteCode(requestContext(c), code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, preview)
}

// GET /api/families/:id
func (h *FamilyHandler) Get(c *gin.Context) {
	family, err := h.svc.GetByID(requestContext(c), currentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, family)
}

// DELETE /api/families/:id/members/:userID
func (h *FamilyHandler) RemoveMember(c *gin.Context) {
	err := h.svc.RemoveMember(requestContext(c), currentUserID(c), c.Param("id"), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}
