package models

import "time"

// LoginAttempt is an immutable audit record of a single login attempt.
// It is never consulted for authorization decisions; those rely on the
// failed-attempt counters and the blocked-IP ledger.
type LoginAttempt struct {
	ID            string
	Email         string
	IPAddress     string
	UserID        *string // populated once the account is resolved
	Success       bool
	UserAgent     string
	FailureReason *string
	CreatedAt     time.Time
}

// LoginAttemptStats aggregates attempt activity over a time window for
// the admin dashboard.
type LoginAttemptStats struct {
	WindowHours       int            `json:"window_hours"`
	TotalAttempts     int            `json:"total_attempts"`
	SuccessfulCount   int            `json:"successful_attempts"`
	FailedCount       int            `json:"failed_attempts"`
	TopFailedIPs      map[string]int `json:"top_failed_ips"`
	FailureReasons    map[string]int `json:"failure_reasons"`
}

// IPBlockInfo is the read-only reporting view of a block, combining the
// ledger record with the live failed-attempt counter.
type IPBlockInfo struct {
	IPAddress      string        `json:"ip_address"`
	Reason         string        `json:"reason"`
	BlockedAt      time.Time     `json:"blocked_at"`
	BlockedUntil   *time.Time    `json:"blocked_until"` // nil means permanent
	Remaining      time.Duration `json:"-"`
	RemainingSecs  int64         `json:"remaining_seconds"`
	FailedAttempts int           `json:"failed_attempts"`
	IsManual       bool          `json:"is_manual"`
}
