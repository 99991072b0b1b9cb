package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the MedStock backend.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Family      FamilyConfig      `mapstructure:"family"`
	Medications MedicationsConfig `mapstructure:"medications"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`

	// BootstrapAdminEmail promotes a matching profile to admin at startup,
	// solving the first-admin problem without an API surface for it.
	BootstrapAdminEmail string `mapstructure:"bootstrap_admin_email"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// FamilyConfig controls family membership behaviour.
type FamilyConfig struct {
	MaxMembers int `mapstructure:"max_members"`
}

// MedicationsConfig controls derived inventory statuses.
type MedicationsConfig struct {
	ExpiringSoonDays int `mapstructure:"expiring_soon_days"`
	LowStockPercent  int `mapstructure:"low_stock_percent"`
}

// MaintenanceConfig configures the background cleanup job.
type MaintenanceConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Schedule           string `mapstructure:"schedule"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("MEDSTOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/medstock.sqlite")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("auth.jwt.issuer", "medstock")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("family.max_members", 20)

	v.SetDefault("medications.expiring_soon_days", 30)
	v.SetDefault("medications.low_stock_percent", 20)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "0 3 * * *")
	v.SetDefault("maintenance.audit_retention_days", 90)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
