package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mwhitfield/bastion/internal/config"
	"github.com/mwhitfield/bastion/internal/models"
	"github.com/mwhitfield/bastion/pkg/logger"
)

// BlockLedger is the durable store of blocked IPs.
type BlockLedger interface {
	GetByIP(ctx context.Context, ipAddress string) (*models.BlockedIP, error)
	Upsert(ctx context.Context, block *models.BlockedIP) (*models.BlockedIP, error)
	ListAll(ctx context.Context) ([]*models.BlockedIP, error)
	ListActive(ctx context.Context) ([]*models.BlockedIP, error)
	RemoveExpired(ctx context.Context) (int64, error)
}

// AttemptCounter is the ephemeral counter and verdict-cache store.
type AttemptCounter interface {
	Increment(ctx context.Context, ip string, window time.Duration) (int, error)
	FailedCount(ctx context.Context, ip string) (int, error)
	ClearFailedAttempts(ctx context.Context, ip string) error
	SetBlocked(ctx context.Context, ip string, ttl time.Duration) error
	SetNotBlocked(ctx context.Context, ip string, ttl time.Duration) error
	IsBlocked(ctx context.Context, ip string) (blocked bool, found bool, err error)
	ClearBlocked(ctx context.Context, ip string) error
}

// IPGuardService enforces per-IP brute-force blocking. The ledger is the
// source of truth; the counter store is consulted first as a cache and is
// repaired from the ledger on every miss.
type IPGuardService struct {
	ledger   BlockLedger
	counters AttemptCounter
	security *config.SecurityConfig
	logger   *slog.Logger
	audit    *logger.AuditLogger
}

// NewIPGuardService creates a new IPGuardService
func NewIPGuardService(ledger BlockLedger, counters AttemptCounter, security *config.SecurityConfig, log *slog.Logger) *IPGuardService {
	return &IPGuardService{
		ledger:   ledger,
		counters: counters,
		security: security,
		logger:   log,
		audit:    logger.NewAuditLogger(log),
	}
}

// IsBlocked reports whether an IP is currently blocked.
//
// Reads fail open on bad input: an empty or unparseable IP is logged and
// treated as not blocked, so a proxy misconfiguration cannot lock everyone
// out. A ledger read failure fails closed, because answering "not blocked"
// without consulting the source of truth would let an attacker wait out a
// cache outage.
func (s *IPGuardService) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if net.ParseIP(ip) == nil {
		s.logger.Warn("block check on invalid ip, treating as not blocked", "ip", ip)
		return false, nil
	}

	blocked, found, err := s.counters.IsBlocked(ctx, ip)
	if err != nil {
		// Cache trouble is not a verdict. Fall through to the ledger.
		s.logger.Error("blocked-flag cache read failed, falling back to ledger", "ip", ip, "error", err)
	} else if found {
		return blocked, nil
	}

	record, err := s.ledger.GetByIP(ctx, ip)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if cacheErr := s.counters.SetNotBlocked(ctx, ip, s.security.NotBlockedCacheTTL); cacheErr != nil {
				s.logger.Error("failed to cache not-blocked verdict", "ip", ip, "error", cacheErr)
			}
			return false, nil
		}
		s.logger.Error("ledger read failed during block check", "ip", ip, "error", err)
		return true, fmt.Errorf("failed to check block status for %s: %w", ip, err)
	}

	now := time.Now()
	if !record.IsActive(now) {
		if cacheErr := s.counters.SetNotBlocked(ctx, ip, s.security.NotBlockedCacheTTL); cacheErr != nil {
			s.logger.Error("failed to cache not-blocked verdict", "ip", ip, "error", cacheErr)
		}
		return false, nil
	}

	ttl := record.Remaining(now)
	if record.BlockedUntil == nil {
		ttl = 0 // cached without expiry
	}
	if cacheErr := s.counters.SetBlocked(ctx, ip, ttl); cacheErr != nil {
		s.logger.Error("failed to cache blocked verdict", "ip", ip, "error", cacheErr)
	}
	return true, nil
}

// RecordFailedAttempt bumps the sliding-window counter for an IP and, once
// the threshold is reached, applies a block whose duration escalates with
// the counter value. Returns whether the IP is now blocked.
func (s *IPGuardService) RecordFailedAttempt(ctx context.Context, ip string) (bool, error) {
	if net.ParseIP(ip) == nil {
		return false, fmt.Errorf("%w: invalid ip address %q", models.ErrBadRequest, ip)
	}

	count, err := s.counters.Increment(ctx, ip, s.security.CountingWindow)
	if err != nil {
		return false, err
	}

	if count < s.security.BlockThreshold {
		return false, nil
	}

	duration := BlockDuration(count, s.security)
	reason := fmt.Sprintf("exceeded maximum failed login attempts (%d attempts)", count)
	if err := s.Block(ctx, ip, reason, &duration, count, false); err != nil {
		return false, err
	}
	return true, nil
}

// Block writes a block to the ledger and then caches it. The ledger write
// comes first: the cache must never claim a block the ledger does not hold.
// A nil duration blocks permanently.
func (s *IPGuardService) Block(ctx context.Context, ip string, reason string, duration *time.Duration, failedCount int, isManual bool) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: invalid ip address %q", models.ErrBadRequest, ip)
	}

	var blockedUntil *time.Time
	if duration != nil {
		until := time.Now().Add(*duration)
		blockedUntil = &until
	}

	record := &models.BlockedIP{
		IPAddress:          ip,
		Reason:             reason,
		BlockedUntil:       blockedUntil,
		FailedAttemptCount: failedCount,
		IsManual:           isManual,
	}

	if _, err := s.ledger.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to persist block for %s: %w", ip, err)
	}

	ttl := time.Duration(0)
	if duration != nil {
		ttl = *duration
	}
	if err := s.counters.SetBlocked(ctx, ip, ttl); err != nil {
		// The ledger holds the block, so the next cache miss repairs this.
		s.logger.Error("failed to cache block", "ip", ip, "error", err)
	}
	if err := s.counters.ClearFailedAttempts(ctx, ip); err != nil {
		s.logger.Error("failed to clear counter after block", "ip", ip, "error", err)
	}

	metadata := map[string]string{
		"failed_attempts": strconv.Itoa(failedCount),
		"manual":          strconv.FormatBool(isManual),
	}
	if blockedUntil != nil {
		metadata["blocked_until"] = blockedUntil.UTC().Format(time.RFC3339)
	} else {
		metadata["blocked_until"] = "permanent"
	}
	s.audit.LogIPBlock("ip_blocked", ip, reason, metadata)

	return nil
}

// Unblock lifts a block by expiring the ledger record in place, keeping the
// row as history, and dropping the cached verdict and counter. Unblocking
// an IP with no ledger record still clears the cache so a stale flag cannot
// linger.
func (s *IPGuardService) Unblock(ctx context.Context, ip string) error {
	record, err := s.ledger.GetByIP(ctx, ip)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to look up block for %s: %w", ip, err)
	}

	now := time.Now()
	if record != nil {
		record.BlockedUntil = &now
		record.UnblockedAt = &now
		if _, err := s.ledger.Upsert(ctx, record); err != nil {
			return fmt.Errorf("failed to expire block for %s: %w", ip, err)
		}
	}

	if err := s.counters.ClearBlocked(ctx, ip); err != nil {
		return fmt.Errorf("failed to clear cached block for %s: %w", ip, err)
	}
	if err := s.counters.ClearFailedAttempts(ctx, ip); err != nil {
		s.logger.Error("failed to clear counter on unblock", "ip", ip, "error", err)
	}

	s.audit.LogIPBlock("ip_unblocked", ip, "", nil)
	return nil
}

// ClearFailedAttempts resets the counter for an IP after a successful login.
func (s *IPGuardService) ClearFailedAttempts(ctx context.Context, ip string) error {
	return s.counters.ClearFailedAttempts(ctx, ip)
}

// FailedAttempts returns the live counter value for an IP.
func (s *IPGuardService) FailedAttempts(ctx context.Context, ip string) (int, error) {
	return s.counters.FailedCount(ctx, ip)
}

// GetBlockInfo returns the reporting view of a block, or models.ErrNotFound
// when the IP has no active block.
func (s *IPGuardService) GetBlockInfo(ctx context.Context, ip string) (*models.IPBlockInfo, error) {
	record, err := s.ledger.GetByIP(ctx, ip)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !record.IsActive(now) {
		return nil, models.ErrNotFound
	}

	remaining := record.Remaining(now)
	return &models.IPBlockInfo{
		IPAddress:      record.IPAddress,
		Reason:         record.Reason,
		BlockedAt:      record.CreatedAt,
		BlockedUntil:   record.BlockedUntil,
		Remaining:      remaining,
		RemainingSecs:  int64(remaining.Seconds()),
		FailedAttempts: record.FailedAttemptCount,
		IsManual:       record.IsManual,
	}, nil
}
