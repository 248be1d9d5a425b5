package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhitfield/bastion/internal/models"
)

func newAdminFixture(ledger *mockBlockLedger, counters *mockAttemptCounter) *AdminService {
	log := slog.New(slog.DiscardHandler)
	guard := NewIPGuardService(ledger, counters, defaultSecurityConfig(), log)
	return NewAdminService(guard, ledger, NewLoginAttemptService(&recordedAttempts{}, log), log)
}

func TestAdmin_BlockIP_RejectsInvalidIP(t *testing.T) {
	svc := newAdminFixture(&mockBlockLedger{}, &mockAttemptCounter{})

	err := svc.BlockIP(context.Background(), "not-an-ip", "abuse", nil)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestAdmin_BlockIP_ManualWithDuration(t *testing.T) {
	ledger := &mockBlockLedger{}
	svc := newAdminFixture(ledger, &mockAttemptCounter{})

	duration := 2 * time.Hour
	err := svc.BlockIP(context.Background(), "203.0.113.9", "suspicious traffic", &duration)
	require.NoError(t, err)

	require.Len(t, ledger.upserts, 1)
	record := ledger.upserts[0]
	assert.True(t, record.IsManual)
	assert.Equal(t, "suspicious traffic", record.Reason)
	require.NotNil(t, record.BlockedUntil)
	assert.InDelta(t, (2 * time.Hour).Seconds(), time.Until(*record.BlockedUntil).Seconds(), 5)
}

func TestAdmin_BlockIP_DefaultReasonAndPermanent(t *testing.T) {
	ledger := &mockBlockLedger{}
	svc := newAdminFixture(ledger, &mockAttemptCounter{})

	err := svc.BlockIP(context.Background(), "203.0.113.9", "", nil)
	require.NoError(t, err)

	require.Len(t, ledger.upserts, 1)
	assert.Equal(t, "manually blocked by administrator", ledger.upserts[0].Reason)
	assert.Nil(t, ledger.upserts[0].BlockedUntil)
}

func TestAdmin_UnblockIP_NotBlockedIsNoError(t *testing.T) {
	counters := &mockAttemptCounter{}
	svc := newAdminFixture(&mockBlockLedger{}, counters)

	err := svc.UnblockIP(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.9"}, counters.clearedBlocked)
}

func TestAdmin_GetBlockInfo_ComputesRemaining(t *testing.T) {
	until := time.Now().Add(time.Hour)
	ledger := &mockBlockLedger{
		getByIPFn: func(ctx context.Context, ip string) (*models.BlockedIP, error) {
			return &models.BlockedIP{
				IPAddress:          ip,
				Reason:             "abuse",
				BlockedUntil:       &until,
				FailedAttemptCount: 12,
				IsManual:           false,
				CreatedAt:          time.Now().Add(-time.Hour),
			}, nil
		},
	}
	svc := newAdminFixture(ledger, &mockAttemptCounter{})

	info, err := svc.GetBlockInfo(context.Background(), "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", info.IPAddress)
	assert.Equal(t, 12, info.FailedAttempts)
	assert.InDelta(t, 3600, info.RemainingSecs, 5)
}
