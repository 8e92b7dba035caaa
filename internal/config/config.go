package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	QueryEndpoint string
	DatabaseURL   string
	HTTPPort      string
	LogLevel      string
	JWTSecret     string
	APIPassword   string

	// Persisted-state keys injected into the session store.
	StoreKey  string
	ActiveKey string

	// Dispatcher tuning.
	DispatchAttempts  int
	DispatchBaseDelay time.Duration

	// Formatting and display tuning.
	AnswerMarker  string
	ChunkLen      int
	SectionLimit  int
	TableRowLimit int
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := Config{
		QueryEndpoint: getEnv("QUERY_ENDPOINT", "http://localhost:8000/api/master-agent/query"),
		DatabaseURL:   getEnv("DATABASE_URL", "console.db"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		APIPassword:   getEnv("API_PASSWORD", ""),

		StoreKey:  getEnv("STORE_KEY", "gloser.conversations"),
		ActiveKey: getEnv("ACTIVE_KEY", "gloser.activeConversation"),

		DispatchAttempts:  getEnvAsInt("DISPATCH_ATTEMPTS", 2),
		DispatchBaseDelay: time.Duration(getEnvAsInt("DISPATCH_BASE_DELAY_MS", 500)) * time.Millisecond,

		AnswerMarker:  getEnv("ANSWER_MARKER", "TERMINATE"),
		ChunkLen:      getEnvAsInt("FORMAT_CHUNK_LEN", 300),
		SectionLimit:  getEnvAsInt("SECTION_LIMIT", 8),
		TableRowLimit: getEnvAsInt("TABLE_ROW_LIMIT", 5),
	}

	if cfg.JWTSecret != "" && cfg.APIPassword == "" {
		log.Fatal("API_PASSWORD is required when JWT_SECRET is set")
	}

	return cfg
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
