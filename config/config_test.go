package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vortexEnvVars lists every variable applyEnv reads, so tests can run
// hermetically regardless of the invoking shell.
var vortexEnvVars = []string{
	"VORTEX_CONFIG",
	"VECTORDB_ENV", "VECTORDB_HOST", "VECTORDB_PORT", "VECTORDB_API_KEY",
	"APP_MODE", "REQUEST_TIMEOUT", "ALLOWED_ORIGINS",
	"VECTORDB_ENGINE", "QDRANT_URL", "QDRANT_API_KEY",
	"DENSE_ENCODER_URL", "DENSE_MODEL_NAME", "DENSE_DIM",
	"SPLADE_URL", "SPLADE_MODEL_NAME", "SPLADE_MAX_LENGTH", "SPLADE_THRESHOLD",
	"SPLADE_DEVICE", "ENABLE_SPLADE", "CROSS_ENCODER_URL", "CROSS_ENCODER_MODEL",
	"CHUNK_SIZE", "CHUNK_OVERLAP", "TEXT_STRATEGY",
	"EMBED_PROTECTION", "EMBED_PROTECTION_EPSILON",
	"ALLOW_BM25_BATCH", "BM25_COOLDOWN_MIN", "JOB_WORKERS",
	"JOBS_DB_PATH", "VORTEX_SECURITY_DB", "SNAPSHOT_DIR", "BM25_PATH",
	"REDIS_URL",
	"JWT_SECRET", "JWT_EXPIRATION", "ADMIN_SECRET", "VORTEX_MASTER_KEY",
	"RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_KEY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range vortexEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "full", cfg.Server.Mode)
	assert.Equal(t, "qdrant", cfg.VectorDB.Engine)
	assert.Equal(t, "http://localhost:6333", cfg.VectorDB.URL)
	assert.Equal(t, 384, cfg.Encoders.DenseDim)
	assert.True(t, cfg.Encoders.EnableSplade)
	assert.Equal(t, "weighted", cfg.Search.FusionMethod)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.Equal(t, "documents", cfg.Search.DefaultCollection)
	assert.InDelta(t, 0.95, cfg.Search.CacheThreshold, 1e-9)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.False(t, cfg.Ingest.ProtectEmbeddings)
	assert.InDelta(t, 10.0, cfg.Ingest.ProtectionEpsilon, 1e-9)
	assert.Equal(t, 2, cfg.Jobs.Workers)
	assert.Equal(t, 30, cfg.Jobs.BM25CooldownMin)
	assert.Equal(t, 100, cfg.RateLimit.MaxRequests)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VECTORDB_PORT", "9000")
	t.Setenv("QDRANT_URL", "http://qdrant.internal:6333")
	t.Setenv("DENSE_DIM", "768")
	t.Setenv("ENABLE_SPLADE", "false")
	t.Setenv("EMBED_PROTECTION", "true")
	t.Setenv("EMBED_PROTECTION_EPSILON", "2.5")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("JOB_WORKERS", "4")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://qdrant.internal:6333", cfg.VectorDB.URL)
	assert.Equal(t, 768, cfg.Encoders.DenseDim)
	assert.False(t, cfg.Encoders.EnableSplade)
	assert.True(t, cfg.Ingest.ProtectEmbeddings)
	assert.InDelta(t, 2.5, cfg.Ingest.ProtectionEpsilon, 1e-9)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
}

func TestLoadConfigUnparseableEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("VECTORDB_PORT", "not-a-number")
	t.Setenv("ENABLE_SPLADE", "kinda")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.True(t, cfg.Encoders.EnableSplade)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigYAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, `
server:
  port: 9100
search:
  default_top_k: 25
  fusion_method: rrf
jobs:
  workers: 8
`)
	t.Setenv("VORTEX_CONFIG", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Search.DefaultTopK)
	assert.Equal(t, "rrf", cfg.Search.FusionMethod)
	assert.Equal(t, 8, cfg.Jobs.Workers)

	// Untouched sections keep their defaults.
	assert.Equal(t, "http://localhost:6333", cfg.VectorDB.URL)
}

func TestEnvironmentWinsOverYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfigFile(t, "server:\n  port: 9100\n")
	t.Setenv("VORTEX_CONFIG", path)
	t.Setenv("VECTORDB_PORT", "9200")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("VORTEX_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfigBadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("VORTEX_CONFIG", writeConfigFile(t, "server: [not : a : mapping"))

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidation(t *testing.T) {
	t.Run("port out of range", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VECTORDB_PORT", "70000")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port out of range")
	})

	t.Run("vector store URL required", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VORTEX_CONFIG", writeConfigFile(t, `vectordb: {url: ""}`))
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vector store URL is required")
	})

	t.Run("production rejects default JWT secret", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VECTORDB_ENV", "production")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT secret")

		t.Setenv("JWT_SECRET", "rotated-and-random")
		_, err = LoadConfig()
		require.NoError(t, err)
	})

	t.Run("unknown fusion method", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VORTEX_CONFIG", writeConfigFile(t, "search:\n  fusion_method: cosine\n"))
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown fusion method")
	})

	t.Run("cache threshold bounds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("VORTEX_CONFIG", writeConfigFile(t, "search:\n  cache_threshold: 1.5\n"))
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache threshold")
	})

	t.Run("workers minimum", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JOB_WORKERS", "0")
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job worker")
	})
}

func TestDerivedValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 8443
	assert.Equal(t, "10.0.0.5:8443", cfg.GetServerAddress())

	cfg.Storage.JobsDBPath = "/var/lib/vortex/jobs.db"
	dsn := cfg.GetJobsDSN()
	assert.Contains(t, dsn, "file:/var/lib/vortex/jobs.db")
	assert.Contains(t, dsn, "_busy_timeout=30000")
	assert.Contains(t, dsn, "_journal_mode=WAL")

	cfg.Storage.SecurityDBPath = "/var/lib/vortex/security.db"
	assert.Contains(t, cfg.GetSecurityDSN(), "file:/var/lib/vortex/security.db")

	assert.False(t, cfg.IsProduction())
	cfg.Server.Env = "production"
	assert.True(t, cfg.IsProduction())
}
