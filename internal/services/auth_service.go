package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mwhitfield/bastion/internal/config"
	"github.com/mwhitfield/bastion/internal/models"
	pkgauth "github.com/mwhitfield/bastion/pkg/auth"
	"github.com/mwhitfield/bastion/pkg/logger"
)

// Failure reasons recorded on the audit trail. Stable strings so the stats
// aggregation groups cleanly.
const (
	reasonInvalidCaptcha  = "invalid_captcha"
	reasonUnknownAccount  = "unknown_account"
	reasonAccountLocked   = "account_locked"
	reasonInvalidPassword = "invalid_password"
	reasonInactiveAccount = "account_inactive"
)

// UserStore is the account persistence layer.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockoutEnd *time.Time) error
	RecordLoginSuccess(ctx context.Context, userID string) error
}

// IPGuard is the per-IP blocking layer as the login pipeline sees it.
type IPGuard interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
	RecordFailedAttempt(ctx context.Context, ip string) (bool, error)
	ClearFailedAttempts(ctx context.Context, ip string) error
}

// CaptchaVerifier validates CAPTCHA tokens.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// TokenIssuer mints session tokens for authenticated users.
type TokenIssuer interface {
	Generate(user *models.User) (string, time.Time, error)
}

// LoginInput carries everything the login pipeline needs about one attempt.
type LoginInput struct {
	Email        string
	Password     string
	IPAddress    string
	UserAgent    string
	CaptchaToken string
}

// LoginResult is returned for a successful login.
type LoginResult struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// AuthService runs the login decision pipeline and account registration.
type AuthService struct {
	users    UserStore
	ipGuard  IPGuard
	captcha  CaptchaVerifier
	attempts *LoginAttemptService
	tokens   TokenIssuer
	security *config.SecurityConfig
	logger   *slog.Logger
	audit    *logger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users UserStore,
	ipGuard IPGuard,
	captcha CaptchaVerifier,
	attempts *LoginAttemptService,
	tokens TokenIssuer,
	security *config.SecurityConfig,
	log *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		ipGuard:  ipGuard,
		captcha:  captcha,
		attempts: attempts,
		tokens:   tokens,
		security: security,
		logger:   log,
		audit:    logger.NewAuditLogger(log),
	}
}

// Login runs the full decision pipeline for one attempt, in a fixed order:
// CAPTCHA, IP block check, account lookup, account lockout, password,
// account status. A CAPTCHA is validated only when a token was supplied;
// attempts without one proceed to the IP-block check. Every rejection past
// the block check is recorded on the audit trail and counted against the IP;
// a CAPTCHA failure is recorded but not counted, since it says nothing about
// credential guessing. A blocked IP is rejected before anything is recorded
// at all.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	ip := input.IPAddress

	if input.CaptchaToken != "" {
		captchaOK, err := s.captcha.Verify(ctx, input.CaptchaToken, ip)
		if err != nil {
			s.logger.Error("captcha verification errored", "ip", ip, "error", err)
		}
		if !captchaOK {
			s.attempts.RecordFailure(ctx, email, ip, input.UserAgent, "", reasonInvalidCaptcha)
			return nil, models.ErrCaptchaInvalid
		}
	}

	blocked, err := s.ipGuard.IsBlocked(ctx, ip)
	if err != nil {
		// Fail closed: without a trustworthy verdict the attempt is refused.
		return nil, models.ErrIPBlocked
	}
	if blocked {
		return nil, models.ErrIPBlocked
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.rejectAndCount(ctx, email, ip, input.UserAgent, "", reasonUnknownAccount)
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	now := time.Now()
	if user.IsLockedOut(now) {
		s.rejectAndCount(ctx, email, ip, input.UserAgent, user.ID, reasonAccountLocked)
		return nil, models.ErrAccountLocked
	}

	if !pkgauth.VerifyPassword(input.Password, user.PasswordHash, user.PasswordSalt) {
		s.registerPasswordFailure(ctx, user, now)
		s.rejectAndCount(ctx, email, ip, input.UserAgent, user.ID, reasonInvalidPassword)
		return nil, models.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.rejectAndCount(ctx, email, ip, input.UserAgent, user.ID, reasonInactiveAccount)
		return nil, models.ErrAccountInactive
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset account counters on login", "user_id", user.ID, "error", err)
	}
	if err := s.ipGuard.ClearFailedAttempts(ctx, ip); err != nil {
		s.logger.Error("failed to clear ip counter on login", "ip", ip, "error", err)
	}
	s.attempts.RecordSuccess(ctx, email, ip, input.UserAgent, user.ID)
	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType: "login",
		UserID:    user.ID,
		IPAddress: ip,
		UserAgent: input.UserAgent,
		Success:   true,
	})

	token, expiresAt, err := s.tokens.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// rejectAndCount records the failed attempt and counts it against the IP.
// The counter write is best-effort from the pipeline's point of view: the
// rejection stands even if the counter store is down.
func (s *AuthService) rejectAndCount(ctx context.Context, email, ip, userAgent, userID, reason string) {
	s.attempts.RecordFailure(ctx, email, ip, userAgent, userID, reason)
	if _, err := s.ipGuard.RecordFailedAttempt(ctx, ip); err != nil {
		s.logger.Error("failed to count attempt against ip", "ip", ip, "error", err)
	}
	s.audit.LogAuthAttempt(logger.AuditEvent{
		EventType:     "login",
		UserID:        userID,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: reason,
	})
}

// registerPasswordFailure bumps the account-level counter and applies the
// temporary lockout at the threshold. This layer is independent of the
// per-IP counter: a distributed attack against one account locks the
// account even though no single IP crosses its threshold.
func (s *AuthService) registerPasswordFailure(ctx context.Context, user *models.User, now time.Time) {
	failed := user.FailedLoginAttempts + 1
	var lockoutEnd *time.Time
	if failed >= s.security.AccountLockThreshold {
		until := now.Add(s.security.AccountLockDuration)
		lockoutEnd = &until
		s.audit.LogAccountAction("account_locked", user.ID, "", map[string]string{
			"failed_attempts": fmt.Sprintf("%d", failed),
			"lockout_end":     until.UTC().Format(time.RFC3339),
		})
	}

	if err := s.users.UpdateLockout(ctx, user.ID, failed, lockoutEnd); err != nil {
		s.logger.Error("failed to update account lockout", "user_id", user.ID, "error", err)
	}
}

// GetUser loads the account behind a token subject.
func (s *AuthService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email        string
	Password     string
	Name         string
	IPAddress    string
	CaptchaToken string
}

// Register creates a new active user account. As with Login, a CAPTCHA is
// validated only when a token was supplied.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if input.CaptchaToken != "" {
		captchaOK, err := s.captcha.Verify(ctx, input.CaptchaToken, input.IPAddress)
		if err != nil {
			s.logger.Error("captcha verification errored", "ip", input.IPAddress, "error", err)
		}
		if !captchaOK {
			return nil, models.ErrCaptchaInvalid
		}
	}

	if err := pkgauth.ValidatePassword(input.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrBadRequest, err.Error())
	}

	hash, salt, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		Name:         input.Name,
		Role:         "user",
		IsActive:     true,
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogAccountAction("account_created", user.ID, input.IPAddress, nil)
	return user, nil
}
