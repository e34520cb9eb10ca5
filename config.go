package stjrag

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the STJ GraphRAG service.
type Config struct {
	// Environment is "development" or "production". In production missing
	// secrets are fatal at boot.
	Environment string `json:"environment"`

	// Port is the HTTP listen port.
	Port int `json:"port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `json:"database_url"`

	// RedisURL is the broker connection string for the job queues.
	RedisURL string `json:"redis_url"`

	// JWTSecret signs session cookies. Must be at least 32 chars in
	// production.
	JWTSecret string `json:"jwt_secret"`

	// AdminPassword is the bcrypt-compared login password.
	AdminPassword string `json:"admin_password"`

	// Qdrant vector store.
	QdrantURL    string `json:"qdrant_url"`
	QdrantAPIKey string `json:"qdrant_api_key"`

	// LLM gateway (Gemini via its OpenAI-compatible endpoint).
	GeminiAPIKey   string `json:"gemini_api_key"`
	ChatModel      string `json:"chat_model"`
	EmbeddingModel string `json:"embedding_model"`

	// Object store (S3-compatible).
	S3Endpoint  string `json:"s3_endpoint"`
	S3Region    string `json:"s3_region"`
	S3Bucket    string `json:"s3_bucket"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`

	// Embedding pipeline.
	EmbeddingDimension   int `json:"embedding_dimension"`
	EmbeddingBatchSize   int `json:"embedding_batch_size"`
	EmbeddingMaxRetries  int `json:"embedding_max_retries"`
	EmbeddingRetryBase   int `json:"embedding_retry_base_ms"`
	EmbeddingConcurrency int `json:"embedding_concurrency"`

	// Entity extraction is applied to at most this many chunks per resource.
	ExtractionChunkCap int `json:"extraction_chunk_cap"`
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		Environment:          "development",
		Port:                 3000,
		LogLevel:             "info",
		ChatModel:            "gemini-2.5-flash",
		EmbeddingModel:       "gemini-embedding-001",
		S3Region:             "us-east-1",
		S3Bucket:             "stjrag-documents",
		EmbeddingDimension:   768,
		EmbeddingBatchSize:   50,
		EmbeddingMaxRetries:  3,
		EmbeddingRetryBase:   300,
		EmbeddingConcurrency: 1,
		ExtractionChunkCap:   50,
	}
}

// LoadConfig builds a Config from defaults, a best-effort .env file, and
// the process environment.
func LoadConfig() Config {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	setString(&cfg.Environment, "NODE_ENV", "ENVIRONMENT")
	setInt(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.AdminPassword, "ADMIN_PASSWORD")
	setString(&cfg.QdrantURL, "QDRANT_URL")
	setString(&cfg.QdrantAPIKey, "QDRANT_API_KEY")
	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.ChatModel, "CHAT_MODEL")
	setString(&cfg.EmbeddingModel, "EMBEDDING_MODEL")
	setString(&cfg.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.S3Region, "S3_REGION", "AWS_REGION")
	setString(&cfg.S3Bucket, "S3_BUCKET")
	setString(&cfg.S3AccessKey, "S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	setString(&cfg.S3SecretKey, "S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	setInt(&cfg.EmbeddingDimension, "EMBEDDING_DIMENSION")
	setInt(&cfg.EmbeddingBatchSize, "EMBEDDING_BATCH_SIZE")
	setInt(&cfg.EmbeddingMaxRetries, "EMBEDDING_MAX_RETRIES")
	setInt(&cfg.EmbeddingRetryBase, "EMBEDDING_RETRY_BASE_MS")
	setInt(&cfg.EmbeddingConcurrency, "EMBEDDING_CONCURRENCY")
	setInt(&cfg.ExtractionChunkCap, "EXTRACTION_CHUNK_CAP")

	return cfg
}

// Validate checks the configuration. In production, missing required
// secrets are reported so the process can exit at boot.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", ErrInvalidConfig)
	}
	if c.Production() {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("%w: JWT_SECRET must be at least 32 characters in production", ErrInvalidConfig)
		}
		if c.AdminPassword == "" {
			return fmt.Errorf("%w: ADMIN_PASSWORD is required in production", ErrInvalidConfig)
		}
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required in production", ErrInvalidConfig)
		}
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrInvalidConfig)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("%w: EMBEDDING_BATCH_SIZE must be positive", ErrInvalidConfig)
	}
	return nil
}

// Production reports whether the service runs in production mode.
func (c Config) Production() bool {
	return c.Environment == "production"
}

func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
			return
		}
	}
}
