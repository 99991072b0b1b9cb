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

// UserHandler exposes profile and admin review endpoints.
type UserHandler struct {
	svc *services.UserService
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name" validate:"omitempty,min=1,max=128"`
	PhotoURL    *string `json:"photo_url" validate:"omitempty,max=2048"`
}

type approvalRequest struct {
	Approve *bool `json:"approve" validate:"required"`
}

type setAdminRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func NewUserHandler(db *gorm.DB) (*UserHandler, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	svc, err := services.NewUserService(db, audit)
	if err != nil {
		return nil, err
	}
	return &UserHandler{svc: svc}, nil
}

// GET /api/users/me
//
// First authenticated contact provisions a pending profile from the verified
// token claims; later calls return the stored record.
func (h *UserHandler) Me(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		response.Error(c, errors.ErrUnauthenticated)
		return
	}

	user, err := h.svc.EnsureProfile(requestContext(c), services.Subject{
		ID:          claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		PhotoURL:    claims.PhotoURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PATCH /api/users/me
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var body updateProfileRequest
	if !bindAndValidate(c, &body) {
		return
	}

	if body.DisplayName == nil && body.PhotoURL == nil {
		response.Error(c, errors.NewInvalidArgument("no fields provided for update"))
		return
	}

	user, err := h.svc.UpdateProfile(requestContext(c), currentUserID(c), services.UpdateProfileInput{
		DisplayName: body.DisplayName,
		PhotoURL:    body.PhotoURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// GET /api/admin/users/pending
func (h *UserHandler) ListPending(c *gin.Context) {
	users, err := h.svc.ListPending(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, users)
}

// POST /api/admin/users/:uid/approval
func (h *UserHandler) Approve(c *gin.Context) {
	var body approvalRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.Approve(requestContext(c), currentUserID(c), c.Param("uid"), *body.Approve)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/admin/users/set-admin
func (h *UserHandler) SetAdmin(c *gin.Context) {
	var body setAdminRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.SetAdmin(requestContext(c), currentUserID(c), strings.TrimSpace(body.Email))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
