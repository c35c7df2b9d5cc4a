package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/accountd/internal/models"
	"github.com/charlesng35/accountd/pkg/crypto"
	apperrors "github.com/charlesng35/accountd/pkg/errors"
)

// ErrInvalidCredentials indicates the email/password pair does not match an
// account. Unknown emails and wrong passwords are indistinguishable.
var ErrInvalidCredentials = apperrors.ErrInvalidCredentials

// UpdateUserInput enumerates mutable user attributes.
type UpdateUserInput struct {
	Email *string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
}

// UserService manages lookup and lifecycle for accounts outside the signup flow.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// Authenticate checks an email/password pair and returns the matching user.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Burn a comparison anyway so the miss costs the same as a mismatch.
		_ = crypto.VerifyPassword("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B0Wew9dGrVRVnhvQpcVQ1wVAcPhm", password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// List retrieves users ordered by creation time with pagination.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.User{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update persists mutable attributes for an existing user. Changing the email
// address resets the verified flag until the new address is confirmed.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	updates := map[string]any{}
	if input.Email != nil {
		if email := strings.ToLower(strings.TrimSpace(*input.Email)); email != "" && email != user.Email {
			updates["email"] = email
			updates["email_verified"] = false
		}
	}

	if len(updates) == 0 {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("user service: update user: %w", err)
	}

	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("user service: reload user: %w", err)
	}

	return &user, nil
}

// Delete removes a user along with their verification tokens and sessions.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("load user: %w", err)
		}

		if err := tx.Where("user_id = ?", id).Delete(&models.EmailVerificationToken{}).Error; err != nil {
			return fmt.Errorf("delete tokens: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		if err := tx.Delete(&user).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("user service: delete user: %w", err)
	}
	return nil
}
