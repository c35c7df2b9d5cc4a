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

	"github.com/charlesng35/accountd/internal/models"
	"github.com/charlesng35/accountd/internal/services"
	"github.com/charlesng35/accountd/pkg/logger"
)

const (
	defaultSessionSpec = "@hourly"
	defaultTokenSpec   = "@daily"
	defaultCacheSpec   = "@hourly"
)

// Cleaner coordinates background maintenance tasks: purging expired sessions,
// expired verification tokens, and stale cache rows.
type Cleaner struct {
	db           *gorm.DB
	sessions     *services.SessionService
	registration *services.RegistrationService
	cron         *cron.Cron
	now          func() time.Time
	log          *zap.Logger
	enabled      bool

	sessionSchedule string
	tokenSchedule   string
	cacheSchedule   string
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

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for verification token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache row cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding cleanup job being skipped.
func NewCleaner(db *gorm.DB, sessions *services.SessionService, registration *services.RegistrationService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		sessions:        sessions,
		registration:    registration,
		now:             time.Now,
		sessionSchedule: defaultSessionSpec,
		tokenSchedule:   defaultTokenSpec,
		cacheSchedule:   defaultCacheSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.sessions != nil || cleaner.registration != nil || cleaner.db != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			if _, err := c.sessions.PurgeExpired(context.Background(), c.now()); err != nil {
				c.log.Warn("session cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.registration != nil {
		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			if _, err := c.registration.PurgeExpiredTokens(context.Background(), c.now()); err != nil {
				c.log.Warn("token cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := CleanupCacheEntries(context.Background(), c.db, c.now()); err != nil {
				c.log.Warn("cache cleanup failed", zap.Error(err))
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

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.PurgeExpired(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.registration != nil {
		if _, err := c.registration.PurgeExpiredTokens(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := CleanupCacheEntries(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// CleanupCacheEntries removes database cache rows whose TTL has elapsed.
func CleanupCacheEntries(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup cache: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup cache: %w", result.Error)
	}
	return result.RowsAffected, nil
}
