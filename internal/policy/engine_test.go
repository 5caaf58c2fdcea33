package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"vaultcore/internal/models"
	"vaultcore/internal/vaulterr"
	"vaultcore/pkg/vaultconfig"
)

func newTestEngine(t *testing.T, cfg *vaultconfig.Config) *Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	engine, err := New(db, cfg)
	require.NoError(t, err)
	return engine
}

func TestEnforceAllowsUnderLimit(t *testing.T) {
	cfg := &vaultconfig.Config{DefaultRateLimit: vaultconfig.RateLimitRule{MaxCalls: 3, Window: vaultconfig.DefaultRateLimitWindow}}
	engine := newTestEngine(t, cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Enforce("execute_transfer", "agent-1"))
		require.NoError(t, engine.RecordEvent("execute_transfer", "agent-1", "ok", nil, nil, ""))
	}
}

func TestEnforceBlocksAtLimit(t *testing.T) {
	cfg := &vaultconfig.Config{DefaultRateLimit: vaultconfig.RateLimitRule{MaxCalls: 2, Window: vaultconfig.DefaultRateLimitWindow}}
	engine := newTestEngine(t, cfg)

	require.NoError(t, engine.Enforce("execute_transfer", "agent-1"))
	require.NoError(t, engine.RecordEvent("execute_transfer", "agent-1", "ok", nil, nil, ""))
	require.NoError(t, engine.Enforce("execute_transfer", "agent-1"))
	require.NoError(t, engine.RecordEvent("execute_transfer", "agent-1", "ok", nil, nil, ""))

	err := engine.Enforce("execute_transfer", "agent-1")
	require.Error(t, err)
	require.Equal(t, vaulterr.RateLimited, vaulterr.KindOf(err))
}

func TestEnforceSkipsAnonymousCalls(t *testing.T) {
	cfg := &vaultconfig.Config{DefaultRateLimit: vaultconfig.RateLimitRule{MaxCalls: 1, Window: vaultconfig.DefaultRateLimitWindow}}
	engine := newTestEngine(t, cfg)

	require.NoError(t, engine.Enforce("provider_status", ""))
	require.NoError(t, engine.Enforce("provider_status", ""))
}

func TestEnforceRespectsPerToolOverride(t *testing.T) {
	cfg := &vaultconfig.Config{
		DefaultRateLimit: vaultconfig.RateLimitRule{MaxCalls: 100, Window: vaultconfig.DefaultRateLimitWindow},
		ToolRateLimits: map[string]vaultconfig.RateLimitRule{
			"execute_transfer": {MaxCalls: 1, Window: vaultconfig.DefaultRateLimitWindow},
		},
	}
	engine := newTestEngine(t, cfg)

	require.NoError(t, engine.Enforce("execute_transfer", "agent-1"))
	require.NoError(t, engine.RecordEvent("execute_transfer", "agent-1", "ok", nil, nil, ""))
	err := engine.Enforce("execute_transfer", "agent-1")
	require.Error(t, err)
	require.Equal(t, vaulterr.RateLimited, vaulterr.KindOf(err))

	require.NoError(t, engine.Enforce("query_balance", "agent-1"))
}

func TestRunRecordsSuccessAndFailure(t *testing.T) {
	cfg := &vaultconfig.Config{DefaultRateLimit: vaultconfig.RateLimitRule{MaxCalls: 10, Window: vaultconfig.DefaultRateLimitWindow}}
	engine := newTestEngine(t, cfg)

	_, err := Run(engine, "query_balance", "agent-1", nil, func() (string, error) {
		return "0x0", nil
	})
	require.NoError(t, err)

	_, err = Run(engine, "execute_transfer", "agent-1", nil, func() (string, error) {
		return "", vaulterr.New(vaulterr.InsufficientFunds, "not enough")
	})
	require.Error(t, err)

	var events []struct{ Status string }
	require.NoError(t, engine.db.Table("events").Select("status").Find(&events).Error)
	require.Len(t, events, 2)
}

func TestRunDeniesAndJournalsRateLimitedCallsWithoutInvokingCall(t *testing.T) {
	cfg := &vaultconfig.Config{DefaultRateLimit: vaultconfig.RateLimitRule{MaxCalls: 1, Window: vaultconfig.DefaultRateLimitWindow}}
	engine := newTestEngine(t, cfg)

	_, err := Run(engine, "execute_transfer", "agent-1", nil, func() (string, error) { return "ok", nil })
	require.NoError(t, err)

	called := false
	_, err = Run(engine, "execute_transfer", "agent-1", nil, func() (string, error) {
		called = true
		return "ok", nil
	})
	require.Error(t, err)
	require.False(t, called)
	require.True(t, errors.Is(err, err))

	var denied int64
	require.NoError(t, engine.db.Model(&models.Event{}).Where("status = ?", string(models.StatusDenied)).Count(&denied).Error)
	require.Equal(t, int64(1), denied)
}

func TestRunRedactedJournalsMarkerNotRawSecret(t *testing.T) {
	cfg := &vaultconfig.Config{DefaultRateLimit: vaultconfig.RateLimitRule{MaxCalls: 10, Window: vaultconfig.DefaultRateLimitWindow}}
	engine := newTestEngine(t, cfg)

	secret := map[string]string{"private_key": "0xdeadbeef"}
	result, err := RunRedacted(engine, "export_private_key", "agent-1", nil,
		func() (map[string]string, error) { return secret, nil },
		func(r map[string]string) any { return map[string]string{"private_key": RedactedMarker} },
	)
	require.NoError(t, err)
	require.Equal(t, secret, result)

	var event models.Event
	require.NoError(t, engine.db.Order("id desc").First(&event).Error)
	require.Equal(t, digest(map[string]string{"private_key": RedactedMarker}), event.ResponseDigest)
	require.NotEqual(t, digest(secret), event.ResponseDigest)
}
