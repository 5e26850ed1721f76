package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	VectorDB  VectorDBConfig  `yaml:"vectordb" json:"vectordb"`
	Encoders  EncoderConfig   `yaml:"encoders" json:"encoders"`
	Search    SearchConfig    `yaml:"search" json:"search"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Jobs      JobsConfig      `yaml:"jobs" json:"jobs"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Env            string   `yaml:"env" json:"env"`
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port"`
	APIKey         string   `yaml:"api_key" json:"api_key"`
	Mode           string   `yaml:"mode" json:"mode"`
	ReadTimeout    int      `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   int      `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    int      `yaml:"idle_timeout" json:"idle_timeout"`
	RequestTimeout int      `yaml:"request_timeout" json:"request_timeout"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// VectorDBConfig points at the external vector store.
type VectorDBConfig struct {
	Engine  string `yaml:"engine" json:"engine"`
	URL     string `yaml:"url" json:"url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Timeout int    `yaml:"timeout" json:"timeout"`
}

// EncoderConfig holds the remote encoder endpoints and the local BM25 knobs.
type EncoderConfig struct {
	DenseURL        string  `yaml:"dense_url" json:"dense_url"`
	DenseModel      string  `yaml:"dense_model" json:"dense_model"`
	DenseDim        int     `yaml:"dense_dim" json:"dense_dim"`
	DenseBatchSize  int     `yaml:"dense_batch_size" json:"dense_batch_size"`
	EncodeWorkers   int     `yaml:"encode_workers" json:"encode_workers"`
	SpladeURL       string  `yaml:"splade_url" json:"splade_url"`
	SpladeModelName string  `yaml:"splade_model_name" json:"splade_model_name"`
	SpladeMaxLength int     `yaml:"splade_max_length" json:"splade_max_length"`
	SpladeThreshold float64 `yaml:"splade_threshold" json:"splade_threshold"`
	SpladeTopK      int     `yaml:"splade_top_k" json:"splade_top_k"`
	SpladeDevice    string  `yaml:"splade_device" json:"splade_device"`
	EnableSplade    bool    `yaml:"enable_splade" json:"enable_splade"`
	CrossURL        string  `yaml:"cross_url" json:"cross_url"`
	CrossModel      string  `yaml:"cross_model" json:"cross_model"`
}

// SearchConfig tunes the hybrid pipeline defaults; per-request overrides win.
type SearchConfig struct {
	DefaultTopK       int     `yaml:"default_top_k" json:"default_top_k"`
	DefaultCollection string  `yaml:"default_collection" json:"default_collection"`
	FusionMethod      string  `yaml:"fusion_method" json:"fusion_method"`
	Alpha             float64 `yaml:"alpha" json:"alpha"`
	WeightDense       float64 `yaml:"weight_dense" json:"weight_dense"`
	WeightSparse      float64 `yaml:"weight_sparse" json:"weight_sparse"`
	WeightSplade      float64 `yaml:"weight_splade" json:"weight_splade"`
	RRFK              int     `yaml:"rrf_k" json:"rrf_k"`
	RerankEnabled     bool    `yaml:"rerank_enabled" json:"rerank_enabled"`
	RerankCandidates  int     `yaml:"rerank_candidates" json:"rerank_candidates"`
	ScanCap           int     `yaml:"scan_cap" json:"scan_cap"`
	CacheEnabled      bool    `yaml:"cache_enabled" json:"cache_enabled"`
	CacheCollection   string  `yaml:"cache_collection" json:"cache_collection"`
	CacheThreshold    float64 `yaml:"cache_threshold" json:"cache_threshold"`
	DateBoostEnabled  bool    `yaml:"date_boost_enabled" json:"date_boost_enabled"`
	DateBoostDecay    float64 `yaml:"date_boost_decay" json:"date_boost_decay"`
	DateBoostWeight   float64 `yaml:"date_boost_weight" json:"date_boost_weight"`
}

// IngestConfig controls chunking and batching on the write path.
type IngestConfig struct {
	ChunkSize         int     `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap      int     `yaml:"chunk_overlap" json:"chunk_overlap"`
	SubBatchSize      int     `yaml:"sub_batch_size" json:"sub_batch_size"`
	TextStrategy      string  `yaml:"text_strategy" json:"text_strategy"`
	ProtectEmbeddings bool    `yaml:"protect_embeddings" json:"protect_embeddings"`
	ProtectionEpsilon float64 `yaml:"protection_epsilon" json:"protection_epsilon"`
}

type JobsConfig struct {
	Workers         int  `yaml:"workers" json:"workers"`
	MaxAttempts     int  `yaml:"max_attempts" json:"max_attempts"`
	AllowBM25Batch  bool `yaml:"allow_bm25_batch" json:"allow_bm25_batch"`
	BM25CooldownMin int  `yaml:"bm25_cooldown_min" json:"bm25_cooldown_min"`
}

type StorageConfig struct {
	JobsDBPath     string `yaml:"jobs_db_path" json:"jobs_db_path"`
	SecurityDBPath string `yaml:"security_db_path" json:"security_db_path"`
	SnapshotDir    string `yaml:"snapshot_dir" json:"snapshot_dir"`
	BM25Path       string `yaml:"bm25_path" json:"bm25_path"`
}

type RedisConfig struct {
	URL string `yaml:"url" json:"url"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" json:"jwt_secret"`
	JWTExpiration int    `yaml:"jwt_expiration" json:"jwt_expiration"`
	AdminSecret   string `yaml:"admin_secret" json:"admin_secret"`
	MasterKey     string `yaml:"master_key" json:"master_key"`
}

type RateLimitConfig struct {
	MaxRequests   int `yaml:"max_requests" json:"max_requests"`
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
}

type AuditConfig struct {
	CriticalPath   string `yaml:"critical_path" json:"critical_path"`
	HotPath        string `yaml:"hot_path" json:"hot_path"`
	ChainStatePath string `yaml:"chain_state_path" json:"chain_state_path"`
	QueueSize      int    `yaml:"queue_size" json:"queue_size"`
	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	FlushSeconds   int    `yaml:"flush_seconds" json:"flush_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	// Key seeds the audit hash chains on first start.
	Key string `yaml:"key" json:"key"`
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// named by VORTEX_CONFIG, and environment variables, in that order of
// precedence (environment wins).
func LoadConfig() (*Config, error) {
	config := defaultConfig()

	if path := os.Getenv("VORTEX_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Env:            "development",
			Host:           "0.0.0.0",
			Port:           8000,
			Mode:           "full",
			ReadTimeout:    30,
			WriteTimeout:   60,
			IdleTimeout:    60,
			RequestTimeout: 60,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		VectorDB: VectorDBConfig{
			Engine:  "qdrant",
			URL:     "http://localhost:6333",
			Timeout: 30,
		},
		Encoders: EncoderConfig{
			DenseURL:        "http://localhost:8501",
			DenseModel:      "all-MiniLM-L6-v2",
			DenseDim:        384,
			DenseBatchSize:  32,
			EncodeWorkers:   4,
			SpladeURL:       "http://localhost:8502",
			SpladeModelName: "naver/splade-cocondenser-ensembledistil",
			SpladeMaxLength: 256,
			SpladeThreshold: 0.01,
			SpladeTopK:      256,
			SpladeDevice:    "cpu",
			EnableSplade:    true,
			CrossURL:        "http://localhost:8503",
			CrossModel:      "cross-encoder/ms-marco-MiniLM-L-6-v2",
		},
		Search: SearchConfig{
			DefaultTopK:       10,
			DefaultCollection: "documents",
			FusionMethod:      "weighted",
			Alpha:             0.5,
			WeightDense:       0.5,
			WeightSparse:      0.25,
			WeightSplade:      0.25,
			RRFK:              60,
			RerankEnabled:     true,
			RerankCandidates:  20,
			ScanCap:           500,
			CacheEnabled:      true,
			CacheCollection:   "semantic_cache",
			CacheThreshold:    0.95,
			DateBoostEnabled:  false,
			DateBoostDecay:    0.01,
			DateBoostWeight:   0.5,
		},
		Ingest: IngestConfig{
			ChunkSize:         1000,
			ChunkOverlap:      200,
			SubBatchSize:      100,
			TextStrategy:      "auto",
			ProtectEmbeddings: false,
			ProtectionEpsilon: 10.0,
		},
		Jobs: JobsConfig{
			Workers:         2,
			MaxAttempts:     3,
			AllowBM25Batch:  true,
			BM25CooldownMin: 30,
		},
		Storage: StorageConfig{
			JobsDBPath:     "./.vortex/db/jobs.db",
			SecurityDBPath: "./.vortex/db/security.db",
			SnapshotDir:    "./snapshots",
			BM25Path:       "./models/bm25_vectorizer.json",
		},
		Redis: RedisConfig{
			URL: "",
		},
		Auth: AuthConfig{
			JWTSecret:     "change-me-in-production",
			JWTExpiration: 3600,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   100,
			WindowSeconds: 60,
		},
		Audit: AuditConfig{
			CriticalPath:   "./logs/audit_critical.jsonl",
			HotPath:        "./logs/audit_hot.jsonl",
			ChainStatePath: "./logs/audit_chain.state",
			QueueSize:      10000,
			BatchSize:      1000,
			FlushSeconds:   1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnv(config *Config) {
	config.Server.Env = getEnv("VECTORDB_ENV", config.Server.Env)
	config.Server.Host = getEnv("VECTORDB_HOST", config.Server.Host)
	config.Server.Port = getEnvAsInt("VECTORDB_PORT", config.Server.Port)
	config.Server.APIKey = getEnv("VECTORDB_API_KEY", config.Server.APIKey)
	config.Server.Mode = getEnv("APP_MODE", config.Server.Mode)
	config.Server.RequestTimeout = getEnvAsInt("REQUEST_TIMEOUT", config.Server.RequestTimeout)
	config.Server.AllowedOrigins = getEnvAsSlice("ALLOWED_ORIGINS", config.Server.AllowedOrigins)

	config.VectorDB.Engine = getEnv("VECTORDB_ENGINE", config.VectorDB.Engine)
	config.VectorDB.URL = getEnv("QDRANT_URL", config.VectorDB.URL)
	config.VectorDB.APIKey = getEnv("QDRANT_API_KEY", config.VectorDB.APIKey)

	config.Encoders.DenseURL = getEnv("DENSE_ENCODER_URL", config.Encoders.DenseURL)
	config.Encoders.DenseModel = getEnv("DENSE_MODEL_NAME", config.Encoders.DenseModel)
	config.Encoders.DenseDim = getEnvAsInt("DENSE_DIM", config.Encoders.DenseDim)
	config.Encoders.SpladeURL = getEnv("SPLADE_URL", config.Encoders.SpladeURL)
	config.Encoders.SpladeModelName = getEnv("SPLADE_MODEL_NAME", config.Encoders.SpladeModelName)
	config.Encoders.SpladeMaxLength = getEnvAsInt("SPLADE_MAX_LENGTH", config.Encoders.SpladeMaxLength)
	config.Encoders.SpladeThreshold = getEnvAsFloat("SPLADE_THRESHOLD", config.Encoders.SpladeThreshold)
	config.Encoders.SpladeDevice = getEnv("SPLADE_DEVICE", config.Encoders.SpladeDevice)
	config.Encoders.EnableSplade = getEnvAsBool("ENABLE_SPLADE", config.Encoders.EnableSplade)
	config.Encoders.CrossURL = getEnv("CROSS_ENCODER_URL", config.Encoders.CrossURL)
	config.Encoders.CrossModel = getEnv("CROSS_ENCODER_MODEL", config.Encoders.CrossModel)

	config.Ingest.ChunkSize = getEnvAsInt("CHUNK_SIZE", config.Ingest.ChunkSize)
	config.Ingest.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", config.Ingest.ChunkOverlap)
	config.Ingest.TextStrategy = getEnv("TEXT_STRATEGY", config.Ingest.TextStrategy)
	config.Ingest.ProtectEmbeddings = getEnvAsBool("EMBED_PROTECTION", config.Ingest.ProtectEmbeddings)
	config.Ingest.ProtectionEpsilon = getEnvAsFloat("EMBED_PROTECTION_EPSILON", config.Ingest.ProtectionEpsilon)

	config.Jobs.AllowBM25Batch = getEnvAsBool("ALLOW_BM25_BATCH", config.Jobs.AllowBM25Batch)
	config.Jobs.BM25CooldownMin = getEnvAsInt("BM25_COOLDOWN_MIN", config.Jobs.BM25CooldownMin)
	config.Jobs.Workers = getEnvAsInt("JOB_WORKERS", config.Jobs.Workers)

	config.Storage.JobsDBPath = getEnv("JOBS_DB_PATH", config.Storage.JobsDBPath)
	config.Storage.SecurityDBPath = getEnv("VORTEX_SECURITY_DB", config.Storage.SecurityDBPath)
	config.Storage.SnapshotDir = getEnv("SNAPSHOT_DIR", config.Storage.SnapshotDir)
	config.Storage.BM25Path = getEnv("BM25_PATH", config.Storage.BM25Path)

	config.Redis.URL = getEnv("REDIS_URL", config.Redis.URL)

	config.Auth.JWTSecret = getEnv("JWT_SECRET", config.Auth.JWTSecret)
	config.Auth.JWTExpiration = getEnvAsInt("JWT_EXPIRATION", config.Auth.JWTExpiration)
	config.Auth.AdminSecret = getEnv("ADMIN_SECRET", config.Auth.AdminSecret)
	config.Auth.MasterKey = getEnv("VORTEX_MASTER_KEY", config.Auth.MasterKey)

	config.RateLimit.MaxRequests = getEnvAsInt("RATE_LIMIT_MAX", config.RateLimit.MaxRequests)
	config.RateLimit.WindowSeconds = getEnvAsInt("RATE_LIMIT_WINDOW", config.RateLimit.WindowSeconds)

	config.Logging.Level = getEnv("LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("LOG_FORMAT", config.Logging.Format)
	config.Logging.Key = getEnv("LOG_KEY", config.Logging.Key)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetJobsDSN returns the SQLite DSN for the jobs database. The busy timeout
// matches the 30s writer contract shared by all job-table writers.
func (c *Config) GetJobsDSN() string {
	return fmt.Sprintf("file:%s?_busy_timeout=30000&_journal_mode=WAL", c.Storage.JobsDBPath)
}

// GetSecurityDSN returns the SQLite DSN for the security database.
func (c *Config) GetSecurityDSN() string {
	return fmt.Sprintf("file:%s?_busy_timeout=30000&_journal_mode=WAL", c.Storage.SecurityDBPath)
}

// IsProduction reports whether the gateway runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", config.Server.Port)
	}

	if config.VectorDB.URL == "" {
		return fmt.Errorf("vector store URL is required (QDRANT_URL)")
	}

	if config.IsProduction() && config.Auth.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT secret must be changed from default value (JWT_SECRET)")
	}

	switch config.Search.FusionMethod {
	case "weighted", "rrf":
	default:
		return fmt.Errorf("unknown fusion method: %s", config.Search.FusionMethod)
	}

	if config.Search.CacheThreshold < 0 || config.Search.CacheThreshold > 1 {
		return fmt.Errorf("cache threshold must be in [0,1]: %f", config.Search.CacheThreshold)
	}

	if config.Jobs.Workers < 1 {
		return fmt.Errorf("at least one job worker is required")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
