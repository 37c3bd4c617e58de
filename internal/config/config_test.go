package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PixelDrop/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PIXELDROP_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, ":8081", cfg.APIAddress)
	assert.Equal(t, []string{"image/"}, cfg.AcceptedPrefixes)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, model.FormatPNG, cfg.DefaultFormat)
	assert.Len(t, cfg.SigningSecret, 32)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PIXELDROP_CONCURRENCY", "5")
	t.Setenv("PIXELDROP_JOB_TIMEOUT", "2s")
	t.Setenv("PIXELDROP_ACCEPTED_PREFIXES", "image/png, image/jpeg,")
	t.Setenv("PIXELDROP_DEFAULT_FORMAT", "JPEG")
	t.Setenv("PIXELDROP_SIGNING_SECRET", "s3cret")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.JobTimeout)
	assert.Equal(t, []string{"image/png", "image/jpeg"}, cfg.AcceptedPrefixes)
	assert.Equal(t, model.FormatJPG, cfg.DefaultFormat)
	assert.Equal(t, []byte("s3cret"), cfg.SigningSecret)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("PIXELDROP_CONCURRENCY", "many")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)
}

func TestLoadFileWithEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixeldrop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
address: ":9090"
concurrency: 6
job_timeout: 45s
default_format: webp
signing_secret: from-file
accepted_prefixes:
  - image/png
`), 0o600))
	t.Setenv("PIXELDROP_CONFIG", path)
	t.Setenv("PIXELDROP_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.JobTimeout)
	assert.Equal(t, model.FormatWEBP, cfg.DefaultFormat)
	assert.Equal(t, []byte("from-file"), cfg.SigningSecret)
	assert.Equal(t, []string{"image/png"}, cfg.AcceptedPrefixes)
	assert.Equal(t, "pixeldrop-raw", cfg.RawBucket)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("PIXELDROP_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	t.Setenv("PIXELDROP_CONCURRENCY", "0")
	_, err := Load()
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }},
		{"no prefixes", func(c *Config) { c.AcceptedPrefixes = nil }},
		{"unknown format", func(c *Config) { c.DefaultFormat = "heic" }},
		{"quality too high", func(c *Config) { c.JPEGQuality = 101 }},
		{"negative timeout", func(c *Config) { c.JobTimeout = -time.Second }},
		{"zero worker concurrency", func(c *Config) { c.WorkerConcurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	assert.NoError(t, defaults().Validate())
}
