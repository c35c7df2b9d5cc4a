package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/accountd/internal/cache"
	"github.com/charlesng35/accountd/internal/models"
	"github.com/charlesng35/accountd/pkg/crypto"
	apperrors "github.com/charlesng35/accountd/pkg/errors"
	"github.com/charlesng35/accountd/pkg/metrics"
)

const (
	defaultSessionTTL        = 5 * time.Minute
	defaultSessionTokenBytes = 32

	sessionCachePrefix = "session:"
)

// ErrSessionInvalid covers missing, expired and revoked session keys alike.
var ErrSessionInvalid = apperrors.ErrUnauthorized

// SessionOption customises the SessionService.
type SessionOption func(*SessionService)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(d time.Duration) SessionOption {
	return func(s *SessionService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithSessionTokenSize adjusts the number of random bytes in session keys.
func WithSessionTokenSize(size int) SessionOption {
	return func(s *SessionService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// WithSessionClock injects a custom time source.
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(s *SessionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSessionCache puts a read-through cache in front of session lookups.
func WithSessionCache(store cache.Store) SessionOption {
	return func(s *SessionService) {
		s.cache = store
	}
}

// SessionMetadata captures request attributes recorded alongside a session.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionService issues and resolves opaque session keys. The raw key lives
// only in the client cookie; the store holds its SHA-256 digest.
type SessionService struct {
	db          *gorm.DB
	cache       cache.Store
	ttl         time.Duration
	tokenLength int
	now         func() time.Time
}

// NewSessionService constructs a session service backed by the supplied database.
func NewSessionService(db *gorm.DB, opts ...SessionOption) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	service := &SessionService{
		db:          db,
		ttl:         defaultSessionTTL,
		tokenLength: defaultSessionTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// TTL reports the configured session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Create opens a session for the user and returns the raw key for the cookie.
func (s *SessionService) Create(ctx context.Context, userID string, meta SessionMetadata) (string, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("session service: user id is required")
	}

	key, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", fmt.Errorf("session service: generate key: %w", err)
	}

	session := models.Session{
		UserID:    userID,
		TokenHash: crypto.HashToken(key),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", fmt.Errorf("session service: create session: %w", err)
	}

	if s.cache != nil {
		// Cache misses fall back to the database, so a failed write is not fatal.
		_ = s.cache.Set(ctx, sessionCachePrefix+session.TokenHash, []byte(userID), s.ttl)
	}

	metrics.ActiveSessions.Inc()
	return key, nil
}

// Resolve maps a raw session key to the owning user ID.
func (s *SessionService) Resolve(ctx context.Context, key string) (string, error) {
	ctx = ensureContext(ctx)

	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrSessionInvalid
	}
	hash := crypto.HashToken(key)

	if s.cache != nil {
		if value, ok, err := s.cache.Get(ctx, sessionCachePrefix+hash); err == nil && ok {
			return string(value), nil
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND expires_at > ?", hash, s.now()).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrSessionInvalid
	}
	if err != nil {
		return "", fmt.Errorf("session service: resolve session: %w", err)
	}

	if s.cache != nil {
		if remaining := session.ExpiresAt.Sub(s.now()); remaining > 0 {
			_ = s.cache.Set(ctx, sessionCachePrefix+hash, []byte(session.UserID), remaining)
		}
	}

	return session.UserID, nil
}

// Clear revokes the session for the given raw key. Unknown keys are ignored.
func (s *SessionService) Clear(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)

	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	hash := crypto.HashToken(key)

	result := s.db.WithContext(ctx).
		Where("token_hash = ?", hash).
		Delete(&models.Session{})
	if result.Error != nil {
		return fmt.Errorf("session service: clear session: %w", result.Error)
	}
	metrics.ActiveSessions.Sub(float64(result.RowsAffected))

	if s.cache != nil {
		_ = s.cache.Delete(ctx, sessionCachePrefix+hash)
	}

	return nil
}

// ClearForUser revokes every session belonging to the user.
func (s *SessionService) ClearForUser(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)

	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&sessions).Error; err != nil {
		return fmt.Errorf("session service: load user sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("session service: clear user sessions: %w", err)
	}
	metrics.ActiveSessions.Sub(float64(len(sessions)))

	if s.cache != nil {
		for _, session := range sessions {
			_ = s.cache.Delete(ctx, sessionCachePrefix+session.TokenHash)
		}
	}

	return nil
}

// PurgeExpired removes sessions past their expiry.
func (s *SessionService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: purge sessions: %w", result.Error)
	}
	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return result.RowsAffected, nil
}
