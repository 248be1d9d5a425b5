package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/mwhitfield/bastion/internal/config"
)

// ExpiredBlockRemover purges lapsed rows from the block ledger.
type ExpiredBlockRemover interface {
	RemoveExpired(ctx context.Context) (int64, error)
}

// AttemptPruner deletes audit rows past the retention horizon.
type AttemptPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupManager periodically sweeps expired blocks and old audit rows.
// Both sweeps are storage hygiene; no decision depends on them having run.
type CleanupManager struct {
	ledger   ExpiredBlockRemover
	attempts AttemptPruner
	security *config.SecurityConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCleanupManager creates a new CleanupManager
func NewCleanupManager(ledger ExpiredBlockRemover, attempts AttemptPruner, security *config.SecurityConfig, log *slog.Logger) *CleanupManager {
	return &CleanupManager{
		ledger:   ledger,
		attempts: attempts,
		security: security,
		logger:   log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. Call Stop to shut it down.
func (cm *CleanupManager) Start() {
	go cm.run()
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
	<-cm.doneCh
}

func (cm *CleanupManager) run() {
	defer close(cm.doneCh)

	ticker := time.NewTicker(cm.security.CleanupInterval)
	defer ticker.Stop()

	cm.logger.Info("cleanup manager started", "interval", cm.security.CleanupInterval)

	for {
		select {
		case <-ticker.C:
			cm.sweep()
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		}
	}
}

func (cm *CleanupManager) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := cm.ledger.RemoveExpired(ctx)
	if err != nil {
		cm.logger.Error("failed to remove expired blocks", "error", err)
	} else if removed > 0 {
		cm.logger.Info("removed expired blocks", "count", removed)
	}

	cutoff := time.Now().Add(-cm.security.AttemptRetention)
	pruned, err := cm.attempts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		cm.logger.Error("failed to prune old login attempts", "error", err)
	} else if pruned > 0 {
		cm.logger.Info("pruned old login attempts", "count", pruned, "cutoff", cutoff)
	}
}
