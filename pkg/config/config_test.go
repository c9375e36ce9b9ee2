package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Recovery.BreakerThreshold)
	assert.Equal(t, 60*time.Second, cfg.Recovery.BreakerTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.PatternSweepInterval)
	assert.Equal(t, time.Minute, cfg.Recovery.BreakerSweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.Recovery.OptimizationSweepInterval)
	assert.Equal(t, 0.7, cfg.Recovery.SimulatedSuccessRate)
	assert.False(t, cfg.AI.Enabled)
	assert.Empty(t, cfg.Database.Host)
	assert.Equal(t, "high", cfg.Notifications.MinSeverity)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RECOVERY_BREAKER_THRESHOLD", "3")
	t.Setenv("RECOVERY_BREAKER_TIMEOUT", "45s")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Recovery.BreakerThreshold)
	assert.Equal(t, 45*time.Second, cfg.Recovery.BreakerTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "0.0.0.0:9090", cfg.ServerAddr())
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("RECOVERY_BREAKER_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Recovery.BreakerTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "ai enabled without key",
			mutate:  func(c *Config) { c.AI.Enabled = true; c.AI.APIKey = "" },
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "archive without password",
			mutate:  func(c *Config) { c.Database.Host = "db"; c.Database.Password = "" },
			wantErr: "database password",
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Recovery.BreakerThreshold = 0 },
			wantErr: "threshold",
		},
		{
			name:    "success rate out of range",
			mutate:  func(c *Config) { c.Recovery.SimulatedSuccessRate = 1.5 },
			wantErr: "success rate",
		},
		{
			name:    "unknown notification severity",
			mutate:  func(c *Config) { c.Notifications.MinSeverity = "urgent" },
			wantErr: "notification severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnectionStrings(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Host: "db", Port: 5432, Name: "recovery", User: "u", Password: "p", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "cache", Port: 6380},
	}

	assert.Equal(t, "postgres://u:p@db:5432/recovery?sslmode=disable", cfg.DatabaseURL())
	assert.Equal(t, "cache:6380", cfg.RedisAddr())
}
