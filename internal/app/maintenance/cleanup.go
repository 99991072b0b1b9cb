package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medstock/medstock-server/internal/models"
	"github.com/medstock/medstock-server/internal/services"
	"github.com/medstock/medstock-server/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultAuditSpec          = "@daily"
	defaultExpirySpec         = "@daily"
)

// Cleaner coordinates background maintenance tasks: pruning stale audit logs
// and sweeping the inventory for newly expired medications.
type Cleaner struct {
	db        *gorm.DB
	audit     *services.AuditService
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	auditSchedule  string
	expirySchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and sweep comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithExpirySchedule overrides the cron specification for the expiry sweep.
func WithExpirySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.expirySchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(db *gorm.DB, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:             db,
		audit:          audit,
		now:            time.Now,
		retention:      defaultAuditRetentionDays,
		auditSchedule:  defaultAuditSpec,
		expirySchedule: defaultExpirySpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.audit != nil || cleaner.db != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			ctx := context.Background()
			if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.expirySchedule, func() {
			ctx := context.Background()
			stats, err := SweepExpired(ctx, c.db, c.now())
			if err != nil {
				c.log.Warn("expiry sweep failed", zap.Error(err))
				return
			}
			if stats.Expired > 0 {
				c.log.Info("expiry sweep finished",
					zap.Int64("expired", stats.Expired),
					zap.Int64("families", stats.Families))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := SweepExpired(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// ExpirySweepStats summarises one pass over the inventory.
type ExpirySweepStats struct {
	Expired  int64
	Families int64
}

// SweepExpired counts medications whose expiry date passed, per family, and
// records the totals in the audit log. The sweep never mutates inventory rows:
// expiry status is derived at read time, so the sweep exists for visibility.
func SweepExpired(ctx context.Context, db *gorm.DB, now time.Time) (ExpirySweepStats, error) {
	if db == nil {
		return ExpirySweepStats{}, errors.New("expiry sweep: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	today := now.Truncate(24 * time.Hour)

	stats := ExpirySweepStats{}

	err := db.WithContext(ctx).Model(&models.Medication{}).
		Where("expires_at < ?", today).
		Count(&stats.Expired).Error
	if err != nil {
		return stats, fmt.Errorf("expiry sweep: count expired: %w", err)
	}

	err = db.WithContext(ctx).Model(&models.Medication{}).
		Where("expires_at < ?", today).
		Distinct("family_id").
		Count(&stats.Families).Error
	if err != nil {
		return stats, fmt.Errorf("expiry sweep: count families: %w", err)
	}

	if stats.Expired > 0 {
		entry := models.AuditLog{
			Action:   "maintenance.expiry_sweep",
			Result:   "success",
			Metadata: fmt.Sprintf(`{"expired":%d,"families":%d}`, stats.Expired, stats.Families),
		}
		if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
			return stats, fmt.Errorf("expiry sweep: record audit: %w", err)
		}
	}

	return stats, nil
}
