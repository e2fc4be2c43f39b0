package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/cart_recovery/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*60, int(cfg.AbandonThreshold.Seconds()))
	assert.Equal(t, 300, int(cfg.DetectorInterval.Seconds()))
	assert.Equal(t, 30, cfg.PopupIdleSeconds)
	assert.Equal(t, []string{"email", "popup"}, cfg.RecoveryChannels)
	assert.Equal(t, "200", cfg.OfferHighThreshold.String())
	assert.Empty(t, cfg.AIAPIKey)
	assert.Empty(t, cfg.SMTPPassword)
}

func TestValidate_MissingCredentials(t *testing.T) {
	t.Setenv("RECOVERY_CHANNELS", "email,popup")
	t.Setenv("AI_API_KEY", "")
	t.Setenv("SMTP_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)
	cfg.DatabaseURL = "postgres://localhost/cart"
	cfg.TrackingSecret = "s"
	cfg.JWTAccessSecret = "j"
	cfg.SMTPHost, cfg.SMTPUsername, cfg.SMTPFrom = "smtp.local", "u", "shop@example.com"
	cfg.RedisAddr = "localhost:6379"

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrFatalConfiguration)
	assert.Contains(t, err.Error(), "AI_API_KEY")
	assert.Contains(t, err.Error(), "SMTP_PASSWORD")

	cfg.AIAPIKey, cfg.SMTPPassword = "k", "p"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PopupOnlySkipsSMTP(t *testing.T) {
	cfg := &ServiceConfig{
		RecoveryChannels:    []string{"popup"},
		TrackingSecret:      "s",
		AIAPIKey:            "k",
		DetectorConcurrency: 1,
		DetectorBatch:       1,
	}
	cfg.DatabaseURL = "postgres://localhost/cart"
	cfg.JWTAccessSecret = "j"
	cfg.RedisAddr = "localhost:6379"

	assert.NoError(t, cfg.Validate())
}

func TestOfferPolicy(t *testing.T) {
	t.Setenv("OFFER_HIGH_THRESHOLD", "300")
	cfg, err := Load()
	require.NoError(t, err)

	p, err := cfg.OfferPolicy()
	require.NoError(t, err)
	assert.Equal(t, "300", p.Tiers[0].MinTotal.String())

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  - {min_total: \"0\", type: free_shipping, free_shipping: true}\n"), 0o600))
	cfg.OfferPolicyPath = path

	p, err = cfg.OfferPolicy()
	require.NoError(t, err)
	require.Len(t, p.Tiers, 1)
}
