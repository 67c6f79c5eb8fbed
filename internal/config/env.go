package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string

	// Object storage (S3 or any S3-compatible endpoint such as MinIO).
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string

	// Vector database.
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	VectorDim        int

	// Crawler.
	CrawlMaxConcurrent int
	CrawlTimeout       time.Duration
	CrawlUserAgent     string

	// Chunking.
	ChunkSize    int
	ChunkOverlap int

	// Fallback provider configuration when no settings row exists yet.
	DefaultProvider       string
	DefaultModel          string
	DefaultEmbeddingModel string
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "kbase-docs"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),

		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "kbase_chunks"),
		VectorDim:        getEnvInt("VECTOR_DIM", 1536),

		CrawlMaxConcurrent: getEnvInt("CRAWL_MAX_CONCURRENT", 5),
		CrawlTimeout:       time.Duration(getEnvInt("CRAWL_TIMEOUT_SECS", 30)) * time.Second,
		CrawlUserAgent:     getEnv("CRAWL_USER_AGENT", "kbase-crawler/1.0"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 200),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 30),

		DefaultProvider:       getEnv("DEFAULT_PROVIDER", "openai"),
		DefaultModel:          getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		DefaultEmbeddingModel: getEnv("DEFAULT_EMBEDDING_MODEL", "text-embedding-3-small"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}
