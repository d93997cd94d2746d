package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.App.Port)
	assert.Equal(t, "HS256", c.JWT.Algorithm)
	assert.Equal(t, "chat", c.Mongo.Database)
	assert.Equal(t, "chat", c.Redis.Prefix)
	assert.False(t, c.Kafka.Enabled)
	assert.False(t, c.S3.Enabled)
	assert.Equal(t, 256, c.WS.SendBuffer)

	assert.Equal(t, 25*time.Second, c.PingInterval)
	assert.Equal(t, 60*time.Second, c.ReadDeadline)
	assert.Equal(t, 10*time.Second, c.WriteDeadline)
	assert.Equal(t, 10*time.Second, c.ConnectTimeout)
	assert.Equal(t, time.Hour, c.DedupTTL)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CHAT_APP_PORT", "9999")
	t.Setenv("CHAT_WS_PING_INTERVAL_SECONDS", "5")
	t.Setenv("CHAT_REDIS_ADDR", "redis:6379")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9999, c.App.Port)
	assert.Equal(t, 5*time.Second, c.PingInterval)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
}

func TestMissingFileIsTolerated(t *testing.T) {
	c, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, c.App.Port)
}

func TestDevelopment(t *testing.T) {
	c := &Config{App: AppConfig{Env: "development"}}
	assert.True(t, c.Development())
	c.App.Env = "production"
	assert.False(t, c.Development())
}
