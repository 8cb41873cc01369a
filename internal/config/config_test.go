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

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 1, cfg.Rules.MinNumber)
	assert.Equal(t, 9, cfg.Rules.MaxNumber)
	assert.Equal(t, 100, cfg.Rules.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Rules.Duration)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 2*time.Minute, cfg.ResultRetention)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("NUMBER_MIN", "0")
	t.Setenv("NUMBER_MAX", "99")
	t.Setenv("SESSION_DURATION", "45")
	t.Setenv("TICK_INTERVAL", "500ms")
	t.Setenv("SESSION_CAPACITY", "not-a-number")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://example.com,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 0, cfg.Rules.MinNumber)
	assert.Equal(t, 99, cfg.Rules.MaxNumber)
	assert.Equal(t, 45*time.Second, cfg.Rules.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 100, cfg.Rules.Capacity, "unparsable values fall back to the default")
	assert.Equal(t, []string{"http://localhost:3000", "https://example.com"}, cfg.CORSOrigins)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("NUMBER_MIN", "10")
	t.Setenv("NUMBER_MAX", "1")
	t.Setenv("LOG_FORMAT", "xml")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min number is greater than max number")
	assert.Contains(t, err.Error(), "unknown log format")
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}
