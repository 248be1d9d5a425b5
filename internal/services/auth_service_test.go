package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/bastion/internal/config"
	"github.com/mwhitfield/bastion/internal/models"
	pkgauth "github.com/mwhitfield/bastion/pkg/auth"
)

type mockUserStore struct {
	users map[string]*models.User

	lockoutUserID   string
	lockoutAttempts int
	lockoutEnd      *time.Time
	loginSuccessFor string
}

func newMockUserStore(users ...*models.User) *mockUserStore {
	m := &mockUserStore{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.Email] = u
	}
	return m
}

func (m *mockUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, models.ErrNotFound
}

func (m *mockUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *mockUserStore) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if _, ok := m.users[user.Email]; ok {
		return nil, models.ErrConflict
	}
	user.ID = "user-" + user.Email
	m.users[user.Email] = user
	return user, nil
}

func (m *mockUserStore) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockoutEnd *time.Time) error {
	m.lockoutUserID = userID
	m.lockoutAttempts = failedAttempts
	m.lockoutEnd = lockoutEnd
	return nil
}

func (m *mockUserStore) RecordLoginSuccess(ctx context.Context, userID string) error {
	m.loginSuccessFor = userID
	return nil
}

type mockIPGuard struct {
	blocked    bool
	blockedErr error

	countedIPs []string
	clearedIPs []string
}

func (m *mockIPGuard) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return m.blocked, m.blockedErr
}

func (m *mockIPGuard) RecordFailedAttempt(ctx context.Context, ip string) (bool, error) {
	m.countedIPs = append(m.countedIPs, ip)
	return false, nil
}

func (m *mockIPGuard) ClearFailedAttempts(ctx context.Context, ip string) error {
	m.clearedIPs = append(m.clearedIPs, ip)
	return nil
}

type mockCaptcha struct {
	ok    bool
	err   error
	calls int
}

func (m *mockCaptcha) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	m.calls++
	return m.ok, m.err
}

type mockTokenIssuer struct{}

func (m *mockTokenIssuer) Generate(user *models.User) (string, time.Time, error) {
	return "token-" + user.ID, time.Now().Add(24 * time.Hour), nil
}

type recordedAttempts struct {
	attempts []*models.LoginAttempt
}

func (r *recordedAttempts) Record(ctx context.Context, a *models.LoginAttempt) (*models.LoginAttempt, error) {
	r.attempts = append(r.attempts, a)
	return a, nil
}

func (r *recordedAttempts) RecentByIP(ctx context.Context, ip string, limit int) ([]*models.LoginAttempt, error) {
	return nil, nil
}

func (r *recordedAttempts) RecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error) {
	return nil, nil
}

func (r *recordedAttempts) Stats(ctx context.Context, window time.Duration) (*models.LoginAttemptStats, error) {
	return nil, nil
}

func (r *recordedAttempts) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *recordedAttempts) lastReason(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, r.attempts)
	last := r.attempts[len(r.attempts)-1]
	require.NotNil(t, last.FailureReason)
	return *last.FailureReason
}

type authFixture struct {
	svc      *AuthService
	users    *mockUserStore
	ipGuard  *mockIPGuard
	captcha  *mockCaptcha
	recorded *recordedAttempts
}

func newAuthFixture(users ...*models.User) *authFixture {
	log := slog.New(slog.DiscardHandler)
	f := &authFixture{
		users:    newMockUserStore(users...),
		ipGuard:  &mockIPGuard{},
		captcha:  &mockCaptcha{ok: true},
		recorded: &recordedAttempts{},
	}
	f.svc = NewAuthService(
		f.users,
		f.ipGuard,
		f.captcha,
		NewLoginAttemptService(f.recorded, log),
		&mockTokenIssuer{},
		defaultSecurityConfig(),
		log,
	)
	return f
}

func activeUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, salt, err := pkgauth.HashPassword(password)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         "user",
		IsActive:     true,
	}
}

func loginInput() LoginInput {
	return LoginInput{
		Email:     "alice@example.com",
		Password:  "Str0ngPassphrase",
		IPAddress: "203.0.113.9",
		UserAgent: "test-agent",
	}
}

func TestLogin_CaptchaFailureRecordedButNotCounted(t *testing.T) {
	f := newAuthFixture(activeUser(t, "alice@example.com", "Str0ngPassphrase"))
	f.captcha.ok = false

	input := loginInput()
	input.CaptchaToken = "some-token"
	_, err := f.svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrCaptchaInvalid)

	assert.Equal(t, "invalid_captcha", f.recorded.lastReason(t))
	assert.Empty(t, f.ipGuard.countedIPs, "captcha failures must not feed the ip counter")
}

func TestLogin_NoCaptchaTokenSkipsVerification(t *testing.T) {
	f := newAuthFixture(activeUser(t, "alice@example.com", "Str0ngPassphrase"))
	f.captcha.ok = false

	result, err := f.svc.Login(context.Background(), loginInput())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Zero(t, f.captcha.calls, "verifier must not be consulted without a token")
}

func TestLogin_NoCaptchaTokenAdmitsUserWithVerifierEnabled(t *testing.T) {
	// Same path against the real verifier: a tokenless attempt must reach
	// the credential check even when CAPTCHA enforcement is switched on.
	log := slog.New(slog.DiscardHandler)
	f := newAuthFixture(activeUser(t, "alice@example.com", "Str0ngPassphrase"))
	svc := NewAuthService(
		f.users,
		f.ipGuard,
		NewCaptchaService(&config.CaptchaConfig{Enabled: true, SecretKey: "test-secret", MinScore: 0.5}, log),
		NewLoginAttemptService(f.recorded, log),
		&mockTokenIssuer{},
		defaultSecurityConfig(),
		log,
	)

	result, err := svc.Login(context.Background(), loginInput())
	require.NoError(t, err)
	assert.Equal(t, "token-user-1", result.Token)
}

func TestLogin_BlockedIPRecordsNothing(t *testing.T) {
	f := newAuthFixture(activeUser(t, "alice@example.com", "Str0ngPassphrase"))
	f.ipGuard.blocked = true

	_, err := f.svc.Login(context.Background(), loginInput())
	assert.ErrorIs(t, err, models.ErrIPBlocked)

	assert.Empty(t, f.recorded.attempts)
	assert.Empty(t, f.ipGuard.countedIPs)
}

func TestLogin_BlockCheckErrorFailsClosed(t *testing.T) {
	f := newAuthFixture(activeUser(t, "alice@example.com", "Str0ngPassphrase"))
	f.ipGuard.blockedErr = errors.New("ledger unavailable")

	_, err := f.svc.Login(context.Background(), loginInput())
	assert.ErrorIs(t, err, models.ErrIPBlocked)
	assert.Empty(t, f.recorded.attempts)
}

func TestLogin_UnknownAccountCountedAgainstIP(t *testing.T) {
	f := newAuthFixture()

	_, err := f.svc.Login(context.Background(), loginInput())
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	assert.Equal(t, "unknown_account", f.recorded.lastReason(t))
	assert.Equal(t, []string{"203.0.113.9"}, f.ipGuard.countedIPs)
}

func TestLogin_LockedAccountRejectedBeforePasswordCheck(t *testing.T) {
	user := activeUser(t, "alice@example.com", "Str0ngPassphrase")
	lockoutEnd := time.Now().Add(10 * time.Minute)
	user.LockoutEnd = &lockoutEnd
	f := newAuthFixture(user)

	// Correct password must not matter while the lockout holds.
	_, err := f.svc.Login(context.Background(), loginInput())
	assert.ErrorIs(t, err, models.ErrAccountLocked)

	assert.Equal(t, "account_locked", f.recorded.lastReason(t))
	assert.Equal(t, []string{"203.0.113.9"}, f.ipGuard.countedIPs)
}

func TestLogin_ExpiredLockoutAdmitsUser(t *testing.T) {
	user := activeUser(t, "alice@example.com", "Str0ngPassphrase")
	lockoutEnd := time.Now().Add(-time.Minute)
	user.LockoutEnd = &lockoutEnd
	user.FailedLoginAttempts = 5
	f := newAuthFixture(user)

	result, err := f.svc.Login(context.Background(), loginInput())
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
}

func TestLogin_WrongPasswordBumpsAccountCounter(t *testing.T) {
	user := activeUser(t, "alice@example.com", "Str0ngPassphrase")
	user.FailedLoginAttempts = 2
	f := newAuthFixture(user)

	input := loginInput()
	input.Password = "wrong-password"
	_, err := f.svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	assert.Equal(t, "user-1", f.users.lockoutUserID)
	assert.Equal(t, 3, f.users.lockoutAttempts)
	assert.Nil(t, f.users.lockoutEnd, "lockout must not engage below the threshold")
	assert.Equal(t, "invalid_password", f.recorded.lastReason(t))
	assert.Equal(t, []string{"203.0.113.9"}, f.ipGuard.countedIPs)
}

func TestLogin_WrongPasswordAtThresholdLocksAccount(t *testing.T) {
	user := activeUser(t, "alice@example.com", "Str0ngPassphrase")
	user.FailedLoginAttempts = 4
	f := newAuthFixture(user)

	input := loginInput()
	input.Password = "wrong-password"
	_, err := f.svc.Login(context.Background(), input)
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	assert.Equal(t, 5, f.users.lockoutAttempts)
	require.NotNil(t, f.users.lockoutEnd)
	assert.InDelta(t, (30 * time.Minute).Seconds(), time.Until(*f.users.lockoutEnd).Seconds(), 5)
}

func TestLogin_InactiveAccountCountedAgainstIP(t *testing.T) {
	user := activeUser(t, "alice@example.com", "Str0ngPassphrase")
	user.IsActive = false
	f := newAuthFixture(user)

	_, err := f.svc.Login(context.Background(), loginInput())
	assert.ErrorIs(t, err, models.ErrAccountInactive)

	assert.Equal(t, "account_inactive", f.recorded.lastReason(t))
	assert.Equal(t, []string{"203.0.113.9"}, f.ipGuard.countedIPs)
}

func TestLogin_SuccessClearsBothCounterLayers(t *testing.T) {
	user := activeUser(t, "alice@example.com", "Str0ngPassphrase")
	user.FailedLoginAttempts = 3
	f := newAuthFixture(user)

	result, err := f.svc.Login(context.Background(), loginInput())
	require.NoError(t, err)
	assert.Equal(t, "token-user-1", result.Token)
	assert.Equal(t, "user-1", result.User.ID)

	assert.Equal(t, "user-1", f.users.loginSuccessFor)
	assert.Equal(t, []string{"203.0.113.9"}, f.ipGuard.clearedIPs)

	require.Len(t, f.recorded.attempts, 1)
	assert.True(t, f.recorded.attempts[0].Success)
	require.NotNil(t, f.recorded.attempts[0].UserID)
	assert.Equal(t, "user-1", *f.recorded.attempts[0].UserID)
}

func TestLogin_EmailNormalized(t *testing.T) {
	f := newAuthFixture(activeUser(t, "alice@example.com", "Str0ngPassphrase"))

	input := loginInput()
	input.Email = "  ALICE@Example.COM "
	_, err := f.svc.Login(context.Background(), input)
	require.NoError(t, err)
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	f := newAuthFixture()

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "bob@example.com",
		Password: "password",
		Name:     "Bob",
	})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestRegister_CaptchaFailureRejected(t *testing.T) {
	f := newAuthFixture()
	f.captcha.ok = false

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email:        "bob@example.com",
		Password:     "Str0ngPassphrase",
		Name:         "Bob",
		CaptchaToken: "some-token",
	})
	assert.ErrorIs(t, err, models.ErrCaptchaInvalid)
}

func TestRegister_NoCaptchaTokenSkipsVerification(t *testing.T) {
	f := newAuthFixture()
	f.captcha.ok = false

	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "bob@example.com",
		Password: "Str0ngPassphrase",
		Name:     "Bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.Zero(t, f.captcha.calls)
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	f := newAuthFixture(activeUser(t, "alice@example.com", "Str0ngPassphrase"))

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "alice@example.com",
		Password: "Str0ngPassphrase",
		Name:     "Alice",
	})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegister_CreatesActiveUserWithHashedPassword(t *testing.T) {
	f := newAuthFixture()

	user, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    "Bob@Example.com",
		Password: "Str0ngPassphrase",
		Name:     "Bob",
	})
	require.NoError(t, err)

	assert.Equal(t, "bob@example.com", user.Email)
	assert.Equal(t, "user", user.Role)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "Str0ngPassphrase", user.PasswordHash)
	assert.True(t, pkgauth.VerifyPassword("Str0ngPassphrase", user.PasswordHash, user.PasswordSalt))
}
