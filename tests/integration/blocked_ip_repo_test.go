//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/bastion/internal/models"
	"github.com/mwhitfield/bastion/internal/repositories"
)

func TestBlockedIPRepository_UpsertReplacesExistingBlock(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewBlockedIPRepository(db)
	ctx := context.Background()

	until := time.Now().Add(24 * time.Hour)
	first, err := repo.Upsert(ctx, &models.BlockedIP{
		IPAddress:          "203.0.113.9",
		Reason:             "exceeded maximum failed login attempts (10 attempts)",
		BlockedUntil:       &until,
		FailedAttemptCount: 10,
	})
	require.NoError(t, err)

	longer := time.Now().Add(7 * 24 * time.Hour)
	second, err := repo.Upsert(ctx, &models.BlockedIP{
		IPAddress:          "203.0.113.9",
		Reason:             "exceeded maximum failed login attempts (15 attempts)",
		BlockedUntil:       &longer,
		FailedAttemptCount: 15,
	})
	require.NoError(t, err)

	// Same row, replaced fields.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 15, second.FailedAttemptCount)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBlockedIPRepository_GetByIPNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewBlockedIPRepository(db)

	_, err := repo.GetByIP(context.Background(), "198.51.100.1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBlockedIPRepository_ListActiveExcludesLapsed(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewBlockedIPRepository(db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	_, err := repo.Upsert(ctx, &models.BlockedIP{IPAddress: "203.0.113.1", Reason: "lapsed", BlockedUntil: &past})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, &models.BlockedIP{IPAddress: "203.0.113.2", Reason: "active", BlockedUntil: &future})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, &models.BlockedIP{IPAddress: "203.0.113.3", Reason: "permanent", BlockedUntil: nil})
	require.NoError(t, err)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, b := range active {
		assert.NotEqual(t, "203.0.113.1", b.IPAddress)
	}
}

func TestBlockedIPRepository_RemoveExpiredKeepsPermanent(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewBlockedIPRepository(db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, err := repo.Upsert(ctx, &models.BlockedIP{IPAddress: "203.0.113.1", Reason: "lapsed", BlockedUntil: &past})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, &models.BlockedIP{IPAddress: "203.0.113.3", Reason: "permanent", BlockedUntil: nil})
	require.NoError(t, err)

	removed, err := repo.RemoveExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetByIP(ctx, "203.0.113.3")
	assert.NoError(t, err)
}

func TestBlockedIPRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := repositories.NewBlockedIPRepository(db)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, &models.BlockedIP{IPAddress: "203.0.113.9", Reason: "manual", BlockedUntil: nil})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "203.0.113.9"))
	assert.ErrorIs(t, repo.Delete(ctx, "203.0.113.9"), models.ErrNotFound)
}
