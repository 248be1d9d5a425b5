package models

import "time"

// BlockedIP is the durable ledger record for a blocked IP address.
// There is at most one record per IP (unique index); re-blocking an
// already-blocked IP updates the existing record.
type BlockedIP struct {
	ID                 string
	IPAddress          string
	Reason             string
	BlockedUntil       *time.Time // nil means permanent
	FailedAttemptCount int        // Counter value at the moment the block was applied
	IsManual           bool       // true for admin-initiated blocks
	UnblockedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive reports whether the block is in effect: a nil BlockedUntil is a
// permanent block, otherwise the expiry must still be in the future.
func (b *BlockedIP) IsActive(now time.Time) bool {
	return b.BlockedUntil == nil || b.BlockedUntil.After(now)
}

// Remaining returns the time left on the block, clamped to zero. Permanent
// blocks return zero; callers distinguish them via BlockedUntil == nil.
func (b *BlockedIP) Remaining(now time.Time) time.Duration {
	if b.BlockedUntil == nil {
		return 0
	}
	if remaining := b.BlockedUntil.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}
