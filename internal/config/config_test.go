package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "")
	t.Setenv("REDIS_DB", "")
	t.Setenv("MINIO_BUCKET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, "item-images", cfg.MinioBucket)
	assert.Equal(t, 2*time.Minute, cfg.TreeRefreshInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("JWKS_URL", "https://id.example.com/.well-known/jwks.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, "https://id.example.com/.well-known/jwks.json", cfg.JWKSURL)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "soon")
	t.Setenv("REDIS_DB", "zero")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
}
