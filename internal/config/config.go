package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Env  string
	Port string

	// Document store
	DatabaseURL  string
	StoreTimeout time.Duration

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MinIO
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioUseSSL        bool
	MinioBucket        string
	MinioPublicBaseURL string

	// Background jobs
	TreeRefreshInterval  time.Duration
	OrphanReportInterval time.Duration

	// Auth is delegated to an identity provider publishing a JWKS document.
	JWKSURL string

	// Optional TOML file replacing the built-in seed trees.
	SeedFile string
}

// Load loads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	config := &Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StoreTimeout: getDuration("STORE_TIMEOUT", 5*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		MinioEndpoint:      getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:     getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:     getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioUseSSL:        getEnv("MINIO_USE_SSL", "false") == "true",
		MinioBucket:        getEnv("MINIO_BUCKET", "item-images"),
		MinioPublicBaseURL: os.Getenv("MINIO_PUBLIC_BASE_URL"),

		TreeRefreshInterval:  getDuration("TREE_REFRESH_INTERVAL", 2*time.Minute),
		OrphanReportInterval: getDuration("ORPHAN_REPORT_INTERVAL", 30*time.Minute),

		JWKSURL:  os.Getenv("JWKS_URL"),
		SeedFile: os.Getenv("SEED_FILE"),
	}

	return config, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: invalid %s value '%s', falling back to %d\n", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s value '%s', falling back to %s\n", key, raw, defaultValue)
		return defaultValue
	}
	return d
}
