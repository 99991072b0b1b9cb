package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/app"
	iauth "github.com/medstock/medstock-server/internal/auth"
	"github.com/medstock/medstock-server/internal/handlers"
	"github.com/medstock/medstock-server/internal/middleware"
	"github.com/medstock/medstock-server/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}

	requireAuth := middleware.Auth(jwt)

	api := r.Group("/api")
	api.Use(requireAuth)

	// Users
	userHandler, err := handlers.NewUserHandler(db)
	if err != nil {
		return nil, err
	}
	users := api.Group("/users")
	{
		users.GET("/me", userHandler.Me)
		users.PATCH("/me", userHandler.UpdateMe)
	}

	// Admin review
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/users/pending", userHandler.ListPending)
		admin.POST("/users/:uid/approval", userHandler.Approve)
		admin.POST("/users/set-admin", userHandler.SetAdmin)
	}

	// Families
	var familyOpts []services.FamilyOption
	if cfg.Family.MaxMembers > 0 {
		familyOpts = append(familyOpts, services.WithMaxMembers(cfg.Family.MaxMembers))
	}
	familyHandler, err := handlers.NewFamilyHandler(db, familyOpts...)
	if err != nil {
		return nil, err
	}
	families := api.Group("/families")
	{
		families.POST("", familyHandler.Create)
		families.POST("/join", familyHandler.Join)
		families.GET("/lookup", familyHandler.Lookup)
		families.GET("/:id", familyHandler.Get)
		families.DELETE("/:id/members/:userID", familyHandler.RemoveMember)
	}

	// Medications
	var medOpts []services.MedicationOption
	if days := cfg.Medications.ExpiringSoonDays; days > 0 {
		medOpts = append(medOpts, services.WithExpiryWindow(daysToWindow(days)))
	}
	if pct := cfg.Medications.LowStockPercent; pct > 0 && pct < 100 {
		medOpts = append(medOpts, services.WithLowStockRatio(float64(pct)/100))
	}
	medHandler, err := handlers.NewMedicationHandler(db, medOpts...)
	if err != nil {
		return nil, err
	}
	medications := api.Group("/medications")
	{
		medications.POST("", medHandler.Create)
		medications.GET("", medHandler.List)
		medications.GET("/stats", medHandler.Stats)
		medications.GET("/:id", medHandler.Get)
		medications.PATCH("/:id", medHandler.Update)
		medications.DELETE("/:id", medHandler.Delete)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	return r, nil
}

func daysToWindow(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
