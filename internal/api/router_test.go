package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/app"
	iauth "github.com/medstock/medstock-server/internal/auth"
	"github.com/medstock/medstock-server/internal/database/testutil"
	"github.com/medstock/medstock-server/internal/models"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestRouterRequiresAuthentication(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/users/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.NotNil(t, body.Error)
	require.Equal(t, "UNAUTHENTICATED", body.Error.Code)

	rec = doRequest(t, router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterProfileProvisioningAndApproval(t *testing.T) {
	router, db, jwt := newTestRouter(t)

	userToken := issueToken(t, jwt, "subject-a", "a@example.com", false)

	// First contact provisions a pending profile.
	rec := doRequest(t, router, http.MethodGet, "/api/users/me", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var profile models.User
	decodeData(t, rec, &profile)
	require.Equal(t, "subject-a", profile.ID)
	require.Equal(t, models.StatusPending, profile.Status)

	// A pending user cannot reach the admin surface.
	rec = doRequest(t, router, http.MethodGet, "/api/admin/users/pending", userToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := seedAdmin(t, db, jwt, "admin-a", "admin-a@example.com")

	rec = doRequest(t, router, http.MethodGet, "/api/admin/users/pending", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/admin/users/subject-a/approval", adminToken,
		map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/users/me", userToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &profile)
	require.Equal(t, models.StatusApproved, profile.Status)
}

func TestRouterFamilyJoinFlow(t *testing.T) {
	router, db, jwt := newTestRouter(t)

	ownerToken := approvedUserToken(t, db, jwt, "owner-x", "owner-x@example.com")
	joinerToken := approvedUserToken(t, db, jwt, "joiner-x", "joiner-x@example.com")

	rec := doRequest(t, router, http.MethodPost, "/api/families", ownerToken,
		map[string]any{"family_name": "Router Household"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var family models.Family
	decodeData(t, rec, &family)
	require.NotEmpty(t, family.InviteCode)

	// Lookup shows a preview without joining.
	rec = doRequest(t, router, http.MethodGet, "/api/families/lookup?invite_code="+family.InviteCode, joinerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Lower-case input joins the same family.
	rec = doRequest(t, router, http.MethodPost, "/api/families/join", joinerToken,
		map[string]any{"invite_code": strings.ToLower(family.InviteCode)})
	require.Equal(t, http.StatusOK, rec.Code)

	var joined struct {
		FamilyID string `json:"family_id"`
	}
	decodeData(t, rec, &joined)
	require.Equal(t, family.ID, joined.FamilyID)

	// Retrying is idempotent.
	rec = doRequest(t, router, http.MethodPost, "/api/families/join", joinerToken,
		map[string]any{"invite_code": family.InviteCode})
	require.Equal(t, http.StatusOK, rec.Code)

	// Malformed codes are rejected before touching storage.
	rec = doRequest(t, router, http.MethodPost, "/api/families/join", joinerToken,
		map[string]any{"invite_code": "XYZ-AB12CD"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INVALID_ARGUMENT", body.Error.Code)

	// Unknown codes map to 404.
	rec = doRequest(t, router, http.MethodPost, "/api/families/join", joinerToken,
		map[string]any{"invite_code": "FAM-ZZZZZZ"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Members can read the family; outsiders cannot.
	rec = doRequest(t, router, http.MethodGet, "/api/families/"+family.ID, joinerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	outsiderToken := approvedUserToken(t, db, jwt, "outsider-x", "outsider-x@example.com")
	rec = doRequest(t, router, http.MethodGet, "/api/families/"+family.ID, outsiderToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterMedicationFlow(t *testing.T) {
	router, db, jwt := newTestRouter(t)

	ownerToken := approvedUserToken(t, db, jwt, "med-x", "med-x@example.com")

	rec := doRequest(t, router, http.MethodPost, "/api/families", ownerToken,
		map[string]any{"family_name": "Medicated Household"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/medications", ownerToken, map[string]any{
		"name":           "Paracetamol 500",
		"drug":           "paracetamol",
		"type":           "tablet",
		"expires_at":     "2030-06-01",
		"quantity_total": 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID              string `json:"id"`
		QuantityCurrent int    `json:"quantity_current"`
	}
	decodeData(t, rec, &created)
	require.Equal(t, 20, created.QuantityCurrent)

	rec = doRequest(t, router, http.MethodGet, "/api/medications", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPatch, "/api/medications/"+created.ID, ownerToken,
		map[string]any{"quantity_current": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/medications/stats", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Total    int `json:"total"`
		LowStock int `json:"low_stock"`
	}
	decodeData(t, rec, &stats)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.LowStock)

	rec = doRequest(t, router, http.MethodDelete, "/api/medications/"+created.ID, ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Invalid dates never reach the service layer.
	rec = doRequest(t, router, http.MethodPost, "/api/medications", ownerToken, map[string]any{
		"name":           "Broken",
		"drug":           "broken",
		"expires_at":     "01/06/2030",
		"quantity_total": 1,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// An explicit zero stock is preserved, not defaulted to the total.
	rec = doRequest(t, router, http.MethodPost, "/api/medications", ownerToken, map[string]any{
		"name":             "Empty Bottle",
		"drug":             "saline",
		"expires_at":       "2030-06-01",
		"quantity_total":   5,
		"quantity_current": 0,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var empty struct {
		ID              string `json:"id"`
		QuantityCurrent int    `json:"quantity_current"`
	}
	decodeData(t, rec, &empty)
	require.Equal(t, 0, empty.QuantityCurrent)

	// Stock can never be raised above the bottle size.
	rec = doRequest(t, router, http.MethodPatch, "/api/medications/"+empty.ID, ownerToken,
		map[string]any{"quantity_current": 50})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *iauth.JWTService) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-test-secret", Issuer: "medstock"})
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Server.Port = 0
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Family.MaxMembers = 20
	cfg.Medications.ExpiringSoonDays = 30
	cfg.Medications.LowStockPercent = 20

	router, err := NewRouter(db, jwt, cfg)
	require.NoError(t, err)

	return router, db, jwt
}

func issueToken(t *testing.T, jwt *iauth.JWTService, userID, email string, isAdmin bool) string {
	t.Helper()

	token, err := jwt.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:      userID,
		Email:       email,
		DisplayName: userID,
		IsAdmin:     isAdmin,
	})
	require.NoError(t, err)
	return token
}

// approvedUserToken seeds an approved profile and returns a token for it.
func approvedUserToken(t *testing.T, db *gorm.DB, jwt *iauth.JWTService, userID, email string) string {
	t.Helper()

	user := models.User{
		ID:          userID,
		Email:       email,
		DisplayName: userID,
		Status:      models.StatusApproved,
	}
	require.NoError(t, db.Create(&user).Error)
	return issueToken(t, jwt, userID, email, false)
}

func seedAdmin(t *testing.T, db *gorm.DB, jwt *iauth.JWTService, userID, email string) string {
	t.Helper()

	admin := models.User{
		ID:          userID,
		Email:       email,
		DisplayName: userID,
		Status:      models.StatusApproved,
		IsAdmin:     true,
	}
	require.NoError(t, db.Create(&admin).Error)
	return issueToken(t, jwt, userID, email, true)
}

func doRequest(t *testing.T, router *gin.Engine, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()

	var envelope apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}
