package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/accountd/internal/models"
	"github.com/charlesng35/accountd/pkg/crypto"
	apperrors "github.com/charlesng35/accountd/pkg/errors"
	"github.com/charlesng35/accountd/pkg/mail"
	"github.com/charlesng35/accountd/pkg/metrics"
)

const (
	defaultVerificationExpiry     = 24 * time.Hour
	defaultVerificationTokenBytes = 32
)

var (
	// ErrDuplicateEmail indicates an account already exists for the email.
	ErrDuplicateEmail = apperrors.ErrDuplicateAccount
	// ErrVerificationInvalid covers unknown and expired tokens alike so callers
	// cannot probe which addresses hold pending registrations.
	ErrVerificationInvalid = apperrors.ErrTokenInvalid
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
)

// RegistrationOption customises the RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithBaseURL sets the client base URL used in emailed links.
func WithBaseURL(url string) RegistrationOption {
	return func(s *RegistrationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithVerificationExpiry overrides the token lifetime.
func WithVerificationExpiry(d time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationTokenSize adjusts the number of random bytes in generated tokens.
func WithVerificationTokenSize(size int) RegistrationOption {
	return func(s *RegistrationService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// WithRegistrationClock injects a custom time source.
func WithRegistrationClock(clock func() time.Time) RegistrationOption {
	return func(s *RegistrationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// RegistrationService owns the signup and email verification lifecycle. Every
// state transition commits only after the email announcing it was accepted for
// delivery, so the database never gets ahead of what the user was told.
type RegistrationService struct {
	db          *gorm.DB
	mailer      mail.Mailer
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewRegistrationService constructs a registration service with the provided dependencies.
func NewRegistrationService(db *gorm.DB, mailer mail.Mailer, opts ...RegistrationOption) (*RegistrationService, error) {
	if db == nil {
		return nil, errors.New("registration service: db is required")
	}
	if mailer == nil {
		return nil, errors.New("registration service: mailer is required")
	}

	service := &RegistrationService{
		db:          db,
		mailer:      mailer,
		expiry:      defaultVerificationExpiry,
		tokenLength: defaultVerificationTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// SignupInput describes the fields accepted when registering an account.
type SignupInput struct {
	Email    string
	Password string
}

// Signup registers a new account and emails a verification link. The user row,
// the token row and the email send form a single unit of work: a send failure
// rolls both inserts back and the attempt leaves no trace.
func (s *RegistrationService) Signup(ctx context.Context, input SignupInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("registration service: hash password: %w", err)
	}

	token, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, fmt.Errorf("registration service: generate token: %w", err)
	}

	now := s.now()
	user := &models.User{
		Email:    email,
		Password: hashed,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("create user: %w", err)
		}

		// At most one live token per user.
		if err := tx.
			Where("user_id = ?", user.ID).
			Delete(&models.EmailVerificationToken{}).Error; err != nil {
			return fmt.Errorf("cleanup outstanding tokens: %w", err)
		}

		verification := models.EmailVerificationToken{
			UserID:    user.ID,
			TokenHash: crypto.HashToken(token),
			ExpiresAt: now.Add(s.expiry),
		}
		if err := tx.Create(&verification).Error; err != nil {
			return fmt.Errorf("create verification token: %w", err)
		}

		message := mail.Message{
			To:      []string{email},
			Subject: "Welcome!",
			Body:    s.verificationBody(s.verificationLink(token)),
		}
		if err := s.mailer.Send(ctx, message); err != nil {
			return fmt.Errorf("send verification email: %w", err)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("registration service: signup: %w", err)
	}

	metrics.EmailsSent.WithLabelValues("verification").Inc()
	return user, nil
}

// Verify consumes a verification token and marks the account's email as
// verified. Unknown, malformed and expired tokens all fail identically. The
// flip commits only if the confirmation email is accepted; a send failure
// leaves the account unverified so the token can be retried.
func (s *RegistrationService) Verify(ctx context.Context, token string) (*models.User, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrVerificationInvalid
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var verification models.EmailVerificationToken
		err := tx.
			Where("token_hash = ? AND expires_at > ?", crypto.HashToken(token), s.now()).
			First(&verification).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVerificationInvalid
		}
		if err != nil {
			return fmt.Errorf("find token: %w", err)
		}

		if err := tx.
			Model(&models.User{}).
			Where("id = ?", verification.UserID).
			Update("email_verified", true).Error; err != nil {
			return fmt.Errorf("mark verified: %w", err)
		}

		if err := tx.First(&user, "id = ?", verification.UserID).Error; err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		message := mail.Message{
			To:      []string{user.Email},
			Subject: "Your registration has been completed!",
			Body:    s.confirmationBody(),
		}
		if err := s.mailer.Send(ctx, message); err != nil {
			return fmt.Errorf("send confirmation email: %w", err)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrVerificationInvalid) {
			return nil, ErrVerificationInvalid
		}
		return nil, fmt.Errorf("registration service: verify: %w", err)
	}

	metrics.EmailsSent.WithLabelValues("confirmation").Inc()
	return &user, nil
}

// PurgeExpiredTokens removes verification tokens past their expiry.
func (s *RegistrationService) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.EmailVerificationToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("registration service: purge tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *RegistrationService) verificationLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/signup/verify?token=%s", s.baseURL, token)
}

func (s *RegistrationService) verificationBody(link string) string {
	return fmt.Sprintf("Please click on the URL below to verify your email address.\n%s\n\nThe link expires in %s. If you did not create an account, you can ignore this message.\n", link, s.expiry)
}

func (s *RegistrationService) confirmationBody() string {
	signin := "the sign-in page"
	if s.baseURL != "" {
		signin = s.baseURL + "/signin"
	}
	return fmt.Sprintf("Your email address has been verified.\n\nYou can now sign in at %s.\n", signin)
}
