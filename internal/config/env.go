package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver        string
	DatabaseURL     string
	StorageDriver   string
	LocalStorageDir string
	AwsAccessKey    string
	AwsSecretKey    string
	AwsRegion       string
	BucketName      string

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	GenModel       string
	GeminiAPIKey   string
	FallbackModel  string
	EmbedProvider  string
	EmbedModel     string
	EmbedBatchSize int
	EmbedFallback  bool
	RetryDelay     time.Duration

	TokenizerEncoding string

	VectorBackend    string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	DoclingURL       string

	ChunkMaxTokens       int
	ChunkOverlapTokens   int
	CSVMaxTokens         int
	CSVOverlapRows       int
	ChunksPerBlock       int
	RowsPerBlock         int
	StructureBatchSize   int
	StructureConcurrency int
	IngestWorkers        int
	ReportLanguage       string
	ReportTemperature    float64

	TracingEnabled bool
	LogMode        string
	Port           string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:        strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", "s3")),
		LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", "./data/uploads"),
		AwsAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:    getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:       getEnv("AWS_REGION", "us-east-2"),
		BucketName:      getEnv("BUCKET_NAME", "insightai-docs"),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		GenModel:       getEnv("GEN_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		FallbackModel:  getEnv("FALLBACK_MODEL", "gemini-2.5-flash"),
		EmbedProvider:  strings.ToLower(getEnv("EMBED_PROVIDER", "openai")),
		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-3-small"),
		EmbedBatchSize: getEnvInt("EMBED_BATCH_SIZE", 64),
		EmbedFallback:  getEnvBool("EMBED_FALLBACK", false),
		RetryDelay:     getEnvDuration("LLM_RETRY_DELAY", time.Second),

		TokenizerEncoding: getEnv("TOKENIZER_ENCODING", "o200k_base"),

		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", "qdrant")),
		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantAPIKey:     getEnv("QDRANT_API_KEY", ""),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "insightai_chunks"),
		DoclingURL:       getEnv("DOCLING_URL", ""),

		ChunkMaxTokens:       getEnvInt("CHUNK_MAX_TOKENS", 1000),
		ChunkOverlapTokens:   getEnvInt("CHUNK_OVERLAP_TOKENS", 300),
		CSVMaxTokens:         getEnvInt("CSV_MAX_TOKENS", 1200),
		CSVOverlapRows:       getEnvInt("CSV_OVERLAP_ROWS", 5),
		ChunksPerBlock:       getEnvInt("CHUNKS_PER_BLOCK", 5),
		RowsPerBlock:         getEnvInt("ROWS_PER_BLOCK", 300),
		StructureBatchSize:   getEnvInt("STRUCTURE_BATCH_SIZE", 3),
		StructureConcurrency: getEnvInt("STRUCTURE_CONCURRENCY", 2),
		IngestWorkers:        getEnvInt("INGEST_WORKERS", 2),
		ReportLanguage:       getEnv("REPORT_LANGUAGE", "de"),
		ReportTemperature:    getEnvFloat("REPORT_TEMPERATURE", 0.2),

		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		LogMode:        getEnv("LOG_MODE", "dev"),
		Port:           getEnv("PORT", "8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return missing("DATABASE_URL")
		}
	case "memory":
	default:
		return invalid("DB_DRIVER", "must be postgres or memory")
	}
	switch c.StorageDriver {
	case "s3":
		if c.BucketName == "" {
			return missing("BUCKET_NAME")
		}
	case "local":
		if c.LocalStorageDir == "" {
			return missing("LOCAL_STORAGE_DIR")
		}
	default:
		return invalid("STORAGE_DRIVER", "must be s3 or local")
	}
	switch c.VectorBackend {
	case "qdrant":
		if c.QdrantURL == "" {
			return missing("QDRANT_URL")
		}
	case "pgvector":
		if c.DBDriver != "postgres" {
			return invalid("VECTOR_BACKEND", "pgvector requires DB_DRIVER=postgres")
		}
	case "memory":
	default:
		return invalid("VECTOR_BACKEND", "must be qdrant, pgvector or memory")
	}
	if c.OpenAIAPIKey == "" && c.GeminiAPIKey == "" {
		return missing("OPENAI_API_KEY or GEMINI_API_KEY")
	}
	switch c.EmbedProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return missing("OPENAI_API_KEY")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return missing("GEMINI_API_KEY")
		}
	default:
		return invalid("EMBED_PROVIDER", "must be openai or gemini")
	}
	if c.ChunkMaxTokens <= 0 {
		return invalid("CHUNK_MAX_TOKENS", "must be positive")
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return invalid("CHUNK_OVERLAP_TOKENS", "must be in [0, CHUNK_MAX_TOKENS)")
	}
	if c.CSVMaxTokens <= 50 {
		return invalid("CSV_MAX_TOKENS", "must be greater than 50")
	}
	if c.CSVOverlapRows < 0 {
		return invalid("CSV_OVERLAP_ROWS", "must not be negative")
	}
	if c.ChunksPerBlock <= 0 || c.RowsPerBlock <= 0 {
		return invalid("CHUNKS_PER_BLOCK", "CHUNKS_PER_BLOCK and ROWS_PER_BLOCK must be positive")
	}
	if c.StructureBatchSize <= 0 || c.StructureConcurrency <= 0 {
		return invalid("STRUCTURE_BATCH_SIZE", "STRUCTURE_BATCH_SIZE and STRUCTURE_CONCURRENCY must be positive")
	}
	if c.EmbedBatchSize <= 0 {
		return invalid("EMBED_BATCH_SIZE", "must be positive")
	}
	if c.IngestWorkers <= 0 {
		return invalid("INGEST_WORKERS", "must be positive")
	}
	if c.ReportTemperature < 0 || c.ReportTemperature > 2 {
		return invalid("REPORT_TEMPERATURE", "must be in [0, 2]")
	}
	return nil
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

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}
