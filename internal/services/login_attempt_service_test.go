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

type capturingAttemptLedger struct {
	recordedAttempts

	lastIP     string
	lastEmail  string
	lastLimit  int
	lastWindow time.Duration
}

func (c *capturingAttemptLedger) Stats(ctx context.Context, window time.Duration) (*models.LoginAttemptStats, error) {
	c.lastWindow = window
	return &models.LoginAttemptStats{}, nil
}

func (c *capturingAttemptLedger) RecentByIP(ctx context.Context, ip string, limit int) ([]*models.LoginAttempt, error) {
	c.lastIP = ip
	c.lastLimit = limit
	return []*models.LoginAttempt{}, nil
}

func (c *capturingAttemptLedger) RecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginAttempt, error) {
	c.lastEmail = email
	c.lastLimit = limit
	return []*models.LoginAttempt{{Email: email}}, nil
}

func TestLoginAttemptService_RecentByIPClampsLimit(t *testing.T) {
	ledger := &capturingAttemptLedger{}
	svc := NewLoginAttemptService(ledger, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	_, err := svc.RecentByIP(ctx, "203.0.113.9", 0)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.lastLimit)

	_, err = svc.RecentByIP(ctx, "203.0.113.9", 10_000)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.lastLimit)

	_, err = svc.RecentByIP(ctx, "203.0.113.9", 25)
	require.NoError(t, err)
	assert.Equal(t, 25, ledger.lastLimit)
	assert.Equal(t, "203.0.113.9", ledger.lastIP)
}

func TestLoginAttemptService_RecentByEmail(t *testing.T) {
	ledger := &capturingAttemptLedger{}
	svc := NewLoginAttemptService(ledger, slog.New(slog.DiscardHandler))

	attempts, err := svc.RecentByEmail(context.Background(), "alice@example.com", -1)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "alice@example.com", ledger.lastEmail)
	assert.Equal(t, 100, ledger.lastLimit)
}

func TestAdminService_RecentAttemptsByEmailDelegates(t *testing.T) {
	ledger := &capturingAttemptLedger{}
	log := slog.New(slog.DiscardHandler)
	guard := NewIPGuardService(&mockBlockLedger{}, &mockAttemptCounter{}, defaultSecurityConfig(), log)
	svc := NewAdminService(guard, &mockBlockLedger{}, NewLoginAttemptService(ledger, log), log)

	attempts, err := svc.RecentAttemptsByEmail(context.Background(), "alice@example.com", 50)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "alice@example.com", ledger.lastEmail)
	assert.Equal(t, 50, ledger.lastLimit)
}

func TestLoginAttemptService_StatsDefaultsWindow(t *testing.T) {
	ledger := &capturingAttemptLedger{}
	svc := NewLoginAttemptService(ledger, slog.New(slog.DiscardHandler))

	_, err := svc.Stats(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, ledger.lastWindow)

	_, err = svc.Stats(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ledger.lastWindow)
}
