package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, GatewayHTTP, cfg.AccountsGateway)
	assert.Equal(t, 5*time.Second, cfg.AccountsTimeout)
	assert.Equal(t, uint32(5), cfg.AccountsBreakerFailures)
	assert.Equal(t, 5*time.Second, cfg.LedgerWriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.PendingStaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "funds.movement.events", cfg.EventsStream)
	assert.True(t, cfg.RunMigrations)
}

func TestLoad_PrefixedAliases(t *testing.T) {
	t.Setenv("FUNDS_JWT_SECRET", testSecret)
	t.Setenv("FUNDS_ACCOUNTS_GATEWAY", "MOCK")
	t.Setenv("FUNDS_LEDGER_WRITE_TIMEOUT", "2s")
	t.Setenv("ACCOUNTS_SERVICE_URL", "http://accounts:8080/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, GatewayMock, cfg.AccountsGateway)
	assert.Equal(t, 2*time.Second, cfg.LedgerWriteTimeout)
	assert.Equal(t, "http://accounts:8080", cfg.AccountsServiceURL)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing secret", env: map[string]string{}, want: "JWT_SECRET is required"},
		{name: "short secret", env: map[string]string{"JWT_SECRET": "short"}, want: "at least 32"},
		{name: "bad duration", env: map[string]string{"JWT_SECRET": testSecret, "LEDGER_WRITE_TIMEOUT": "soon"}, want: "invalid LEDGER_WRITE_TIMEOUT"},
		{name: "non-positive duration", env: map[string]string{"JWT_SECRET": testSecret, "ACCOUNTS_TIMEOUT": "0s"}, want: "ACCOUNTS_TIMEOUT must be positive"},
		{name: "unknown gateway", env: map[string]string{"JWT_SECRET": testSecret, "ACCOUNTS_GATEWAY": "grpc"}, want: "ACCOUNTS_GATEWAY"},
		{name: "relative accounts url", env: map[string]string{"JWT_SECRET": testSecret, "ACCOUNTS_SERVICE_URL": "accounts"}, want: "ACCOUNTS_SERVICE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
