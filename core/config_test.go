package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	assert.Equal(t, 0.90, c.MatchThreshold)
	assert.Equal(t, 5.0, c.TwoWayTolerancePct)
	assert.Equal(t, 10000.0, c.AutoApproveThreshold)
	assert.Equal(t, 72, c.ReviewExpiryHours)
	assert.Equal(t, "development", c.Env)
	assert.Equal(t, "http://localhost:3000", c.FrontendBaseURL)
	assert.Empty(t, c.LLMFallbackKey)
	assert.Equal(t, 30*time.Second, c.ExternalCallTimeout)
	assert.True(t, c.IsDevelopment())
	assert.False(t, c.IsProduction())
}

func TestNewConfigEnvOverrides(t *testing.T) {
	t.Setenv("INVOICEFLOW_MATCH_THRESHOLD", "0.85")
	t.Setenv("INVOICEFLOW_REVIEW_EXPIRY_HOURS", "24")
	t.Setenv("INVOICEFLOW_ENV", "production")
	t.Setenv("INVOICEFLOW_EXTERNAL_CALL_TIMEOUT", "5s")

	c := NewConfig()

	assert.Equal(t, 0.85, c.MatchThreshold)
	assert.Equal(t, 24, c.ReviewExpiryHours)
	assert.True(t, c.IsProduction())
	assert.Equal(t, 5*time.Second, c.ExternalCallTimeout)
}

func TestNewConfigOptionsWin(t *testing.T) {
	t.Setenv("INVOICEFLOW_MATCH_THRESHOLD", "0.85")

	c := NewConfig(WithMatchThreshold(0.95), WithEnv("production"))

	assert.Equal(t, 0.95, c.MatchThreshold)
	assert.Equal(t, "production", c.Env)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("match_threshold: 0.8\nreview_expiry_hours: 48\nfrontend_base_url: https://reviews.example.com\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.8, c.MatchThreshold)
	assert.Equal(t, 48, c.ReviewExpiryHours)
	assert.Equal(t, "https://reviews.example.com", c.FrontendBaseURL)
	// Untouched keys keep defaults.
	assert.Equal(t, 5.0, c.TwoWayTolerancePct)
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := LoadConfigFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}
