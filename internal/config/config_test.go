package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndDevSigningKey(t *testing.T) {
	os.Unsetenv("JWT_SIGNING_KEY")
	os.Unsetenv("CHAT_HUB_MAX_INFLIGHT_MESSAGES")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "chat.events", cfg.Kafka.EventsTopic)
	assert.Equal(t, 64, cfg.Hub.MaxInflightMessages)
	assert.Equal(t, 50.0, cfg.Hub.MessageRateLimit)
	assert.Equal(t, 100, cfg.Hub.MessageRateBurst)
	assert.Equal(t, "fake", cfg.Captcha.Backend)
	assert.True(t, cfg.UsedDevSigningKey())
	assert.NotEmpty(t, cfg.JWTSigningKey)
}

func TestLoad_EnvOverridesDefaultsAndSigningKey(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "super-secret")
	t.Setenv("CHAT_HUB_MAX_INFLIGHT_MESSAGES", "128")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Hub.MaxInflightMessages)
	assert.False(t, cfg.UsedDevSigningKey())
	assert.Equal(t, "super-secret", cfg.JWTSigningKey)
}
