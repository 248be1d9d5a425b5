package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mwhitfield/bastion/internal/models"
)

// AdminService backs the operator surface: ledger inspection, manual
// blocks and unblocks, and attempt statistics.
type AdminService struct {
	guard    *IPGuardService
	ledger   BlockLedger
	attempts *LoginAttemptService
	logger   *slog.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(guard *IPGuardService, ledger BlockLedger, attempts *LoginAttemptService, log *slog.Logger) *AdminService {
	return &AdminService{
		guard:    guard,
		ledger:   ledger,
		attempts: attempts,
		logger:   log,
	}
}

// ListBlockedIPs returns ledger records, optionally only those whose block
// is still in effect.
func (s *AdminService) ListBlockedIPs(ctx context.Context, activeOnly bool) ([]*models.BlockedIP, error) {
	if activeOnly {
		return s.ledger.ListActive(ctx)
	}
	return s.ledger.ListAll(ctx)
}

// BlockIP applies a manual block. A nil duration blocks permanently.
// Blocking an already-blocked IP replaces the existing block.
func (s *AdminService) BlockIP(ctx context.Context, ip, reason string, duration *time.Duration) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: invalid ip address %q", models.ErrBadRequest, ip)
	}
	if reason == "" {
		reason = "manually blocked by administrator"
	}
	return s.guard.Block(ctx, ip, reason, duration, 0, true)
}

// UnblockIP lifts a block. Unblocking an IP that is not blocked is not an
// error; the cached verdict is cleared either way.
func (s *AdminService) UnblockIP(ctx context.Context, ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: invalid ip address %q", models.ErrBadRequest, ip)
	}
	return s.guard.Unblock(ctx, ip)
}

// GetBlockInfo returns the reporting view of an active block.
func (s *AdminService) GetBlockInfo(ctx context.Context, ip string) (*models.IPBlockInfo, error) {
	return s.guard.GetBlockInfo(ctx, ip)
}

// FailedAttempts returns the live counter value for an IP.
func (s *AdminService) FailedAttempts(ctx context.Context, ip string) (int, error) {
	return s.guard.FailedAttempts(ctx, ip)
}

// AttemptStats aggregates the audit trail over the trailing window.
func (s *AdminService) AttemptStats(ctx context.Context, window time.Duration) (*models.LoginAttemptStats, error) {
	return s.attempts.Stats(ctx, window)
}

// RecentAttemptsByIP returns the newest audit rows from an IP.
func (s *AdminService) RecentAttemptsByIP(ctx context.Context, ip string, limit int) ([]*models.LoginAttempt, error) {
	return s.attempts.RecentByIP(ctx, ip, limit)
}

// RecentAttemptsByEmail returns the newest audit rows against an account.
func (s *AdminService) RecentAttemptsByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error) {
	return s.attempts.RecentByEmail(ctx, email, limit)
}
