package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwhitfield/bastion/internal/models"
	"github.com/mwhitfield/bastion/pkg/logger"
)

// AttemptLedger is the append-only audit store of login attempts.
type AttemptLedger interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) (*models.LoginAttempt, error)
	RecentByIP(ctx context.Context, ipAddress string, limit int) ([]*models.LoginAttempt, error)
	RecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error)
	Stats(ctx context.Context, window time.Duration) (*models.LoginAttemptStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoginAttemptService records login attempts for the audit trail. Recording
// never decides anything: blocking and lockout live in IPGuardService and
// AuthService.
type LoginAttemptService struct {
	attempts AttemptLedger
	logger   *slog.Logger
}

// NewLoginAttemptService creates a new LoginAttemptService
func NewLoginAttemptService(attempts AttemptLedger, log *slog.Logger) *LoginAttemptService {
	return &LoginAttemptService{attempts: attempts, logger: log}
}

// RecordSuccess writes a successful attempt row.
func (s *LoginAttemptService) RecordSuccess(ctx context.Context, email, ip, userAgent, userID string) {
	attempt := &models.LoginAttempt{
		Email:     email,
		IPAddress: ip,
		Success:   true,
		UserAgent: userAgent,
	}
	if userID != "" {
		attempt.UserID = &userID
	}
	s.record(ctx, attempt)
}

// RecordFailure writes a failed attempt row with the given reason. The
// user ID is included when the account was resolved before the rejection.
func (s *LoginAttemptService) RecordFailure(ctx context.Context, email, ip, userAgent, userID, reason string) {
	attempt := &models.LoginAttempt{
		Email:         email,
		IPAddress:     ip,
		Success:       false,
		UserAgent:     userAgent,
		FailureReason: &reason,
	}
	if userID != "" {
		attempt.UserID = &userID
	}
	s.record(ctx, attempt)
}

// record persists the attempt. Audit writes must not fail the login
// pipeline, so errors are logged and swallowed.
func (s *LoginAttemptService) record(ctx context.Context, attempt *models.LoginAttempt) {
	if _, err := s.attempts.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			"email", logger.SanitizedEmail(attempt.Email),
			"ip", attempt.IPAddress,
			"error", err,
		)
	}
}

// RecentByIP returns the newest attempts from an IP for the admin surface.
func (s *LoginAttemptService) RecentByIP(ctx context.Context, ip string, limit int) ([]*models.LoginAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.attempts.RecentByIP(ctx, ip, limit)
}

// RecentByEmail returns the newest attempts against an account.
func (s *LoginAttemptService) RecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.attempts.RecentByEmail(ctx, email, limit)
}

// Stats aggregates attempt activity over the trailing window.
func (s *LoginAttemptService) Stats(ctx context.Context, window time.Duration) (*models.LoginAttemptStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return s.attempts.Stats(ctx, window)
}
