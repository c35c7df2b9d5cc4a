package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/charlesng35/accountd/internal/models"
	"github.com/charlesng35/accountd/pkg/crypto"
	"github.com/charlesng35/accountd/pkg/mail"
)

type fakeMailer struct {
	sent      []mail.Message
	failAfter int
	err       error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	if m.err != nil && len(m.sent) >= m.failAfter {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestSignupCreatesUserTokenAndEmail(t *testing.T) {
	db := openRegistrationTestDB(t)
	mailer := &fakeMailer{}
	current := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	svc, err := NewRegistrationService(db, mailer,
		WithBaseURL("https://accounts.example.com"),
		WithRegistrationClock(func() time.Time { return current }),
	)
	require.NoError(t, err)

	user, err := svc.Signup(context.Background(), SignupInput{
		Email:    "New.User@Example.COM",
		Password: "Sup3rSecret",
	})
	require.NoError(t, err)
	require.Equal(t, "new.user@example.com", user.Email)
	require.False(t, user.EmailVerified)

	var stored models.User
	require.NoError(t, db.First(&stored).Error)
	require.Equal(t, "new.user@example.com", stored.Email)
	require.False(t, stored.EmailVerified)
	require.True(t, crypto.VerifyPassword(stored.Password, "Sup3rSecret"))

	var token models.EmailVerificationToken
	require.NoError(t, db.First(&token).Error)
	require.Equal(t, stored.ID, token.UserID)
	require.True(t, token.ExpiresAt.Equal(current.Add(24*time.Hour)))

	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{"new.user@example.com"}, mailer.sent[0].To)
	require.Contains(t, mailer.sent[0].Body, "https://accounts.example.com/signup/verify?token=")

	raw := tokenFromBody(t, mailer.sent[0].Body)
	require.Equal(t, crypto.HashToken(raw), token.TokenHash)
}

func TestSignupRollsBackWhenEmailFails(t *testing.T) {
	db := openRegistrationTestDB(t)
	mailer := &fakeMailer{err: errors.New("smtp unreachable")}

	svc, err := NewRegistrationService(db, mailer)
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), SignupInput{
		Email:    "bounce@example.com",
		Password: "Sup3rSecret",
	})
	require.Error(t, err)

	var users, tokens int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.EmailVerificationToken{}).Count(&tokens).Error)
	require.Zero(t, users)
	require.Zero(t, tokens)

	// The compensated attempt must not block a retry with the same email.
	mailer.err = nil
	_, err = svc.Signup(context.Background(), SignupInput{
		Email:    "bounce@example.com",
		Password: "Sup3rSecret",
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
}

func TestSignupDuplicateEmail(t *testing.T) {
	db := openRegistrationTestDB(t)
	mailer := &fakeMailer{}

	svc, err := NewRegistrationService(db, mailer)
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), SignupInput{Email: "taken@example.com", Password: "Sup3rSecret"})
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), SignupInput{Email: "Taken@example.com", Password: "An0therSecret"})
	require.ErrorIs(t, err, ErrDuplicateEmail)

	var users, tokens int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.EmailVerificationToken{}).Count(&tokens).Error)
	require.EqualValues(t, 1, users)
	require.EqualValues(t, 1, tokens)
	require.Len(t, mailer.sent, 1)
}

func TestVerifyMarksEmailVerified(t *testing.T) {
	db := openRegistrationTestDB(t)
	mailer := &fakeMailer{}

	svc, err := NewRegistrationService(db, mailer, WithBaseURL("https://accounts.example.com"))
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), SignupInput{Email: "verify@example.com", Password: "Sup3rSecret"})
	require.NoError(t, err)
	raw := tokenFromBody(t, mailer.sent[0].Body)

	user, err := svc.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.True(t, user.EmailVerified)

	var stored models.User
	require.NoError(t, db.First(&stored, "email = ?", "verify@example.com").Error)
	require.True(t, stored.EmailVerified)

	require.Len(t, mailer.sent, 2)
	require.Equal(t, []string{"verify@example.com"}, mailer.sent[1].To)

	// Replays with a live token are harmless.
	again, err := svc.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.True(t, again.EmailVerified)
}

func TestVerifyUnknownToken(t *testing.T) {
	db := openRegistrationTestDB(t)

	svc, err := NewRegistrationService(db, &fakeMailer{})
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrVerificationInvalid)

	_, err = svc.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrVerificationInvalid)
}

func TestVerifyExpiredToken(t *testing.T) {
	db := openRegistrationTestDB(t)
	mailer := &fakeMailer{}
	current := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	svc, err := NewRegistrationService(db, mailer,
		WithRegistrationClock(func() time.Time { return current }),
	)
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), SignupInput{Email: "late@example.com", Password: "Sup3rSecret"})
	require.NoError(t, err)
	raw := tokenFromBody(t, mailer.sent[0].Body)

	current = current.Add(24*time.Hour + time.Second)

	_, err = svc.Verify(context.Background(), raw)
	require.ErrorIs(t, err, ErrVerificationInvalid)

	var stored models.User
	require.NoError(t, db.First(&stored, "email = ?", "late@example.com").Error)
	require.False(t, stored.EmailVerified)
}

func TestVerifyRollsBackWhenConfirmationFails(t *testing.T) {
	db := openRegistrationTestDB(t)
	mailer := &fakeMailer{failAfter: 1, err: errors.New("smtp unreachable")}

	svc, err := NewRegistrationService(db, mailer)
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), SignupInput{Email: "flaky@example.com", Password: "Sup3rSecret"})
	require.NoError(t, err)
	raw := tokenFromBody(t, mailer.sent[0].Body)

	_, err = svc.Verify(context.Background(), raw)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrVerificationInvalid)

	var stored models.User
	require.NoError(t, db.First(&stored, "email = ?", "flaky@example.com").Error)
	require.False(t, stored.EmailVerified)

	// The token survives the rollback and can be retried once mail recovers.
	mailer.err = nil
	user, err := svc.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.True(t, user.EmailVerified)
}

func TestPurgeExpiredTokens(t *testing.T) {
	db := openRegistrationTestDB(t)
	mailer := &fakeMailer{}
	current := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	svc, err := NewRegistrationService(db, mailer,
		WithRegistrationClock(func() time.Time { return current }),
	)
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), SignupInput{Email: "old@example.com", Password: "Sup3rSecret"})
	require.NoError(t, err)
	_, err = svc.Signup(context.Background(), SignupInput{Email: "fresh@example.com", Password: "Sup3rSecret"})
	require.NoError(t, err)

	removed, err := svc.PurgeExpiredTokens(context.Background(), current.Add(25*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	removed, err = svc.PurgeExpiredTokens(context.Background(), current.Add(25*time.Hour))
	require.NoError(t, err)
	require.Zero(t, removed)
}

func tokenFromBody(t *testing.T, body string) string {
	t.Helper()

	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0)
	raw := body[idx+len("token="):]
	if end := strings.IndexAny(raw, "\n \t"); end >= 0 {
		raw = raw[:end]
	}
	require.NotEmpty(t, raw)
	return raw
}

func openRegistrationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.EmailVerificationToken{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
