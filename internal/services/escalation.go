package services

import (
	"time"

	"github.com/mwhitfield/bastion/internal/config"
)

// BlockDuration maps a failed-attempt count to a block duration. Repeat
// offenders get progressively longer blocks; the progressive threshold
// is checked first and wins when brackets overlap. The 1.5x bracket
// rounds up, so with an odd threshold of 11 it engages at 17, not 16.
func BlockDuration(failedCount int, sec *config.SecurityConfig) time.Duration {
	switch {
	case failedCount >= sec.ProgressiveThreshold:
		return 7 * 24 * time.Hour
	case failedCount >= sec.BlockThreshold*2:
		return 72 * time.Hour
	case failedCount >= (sec.BlockThreshold*3+1)/2:
		return 48 * time.Hour
	default:
		return sec.DefaultBlockDuration
	}
}
