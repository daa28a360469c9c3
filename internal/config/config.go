package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"gwi.com/review-autoreply/internal/logging"
)

const (
	GeneratorGenerativeAI = "generative-ai"
	GeneratorGenAI        = "genai"

	// The v4 reviews endpoint rejects page sizes above 50.
	maxReviewPageSize = 50
)

type Config struct {
	GeminiAPIKey     string
	GeminiModel      string
	GeneratorBackend string

	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	LogFile     string
	JWTSecret   string
	SessionTTL  time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	CronSecret string

	ReviewPageSize       int
	RunTimeout           time.Duration
	MaxRepliesPerRun     int
	BulkConcurrency      int
	GBPRequestsPerSecond float64

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	AutomationCron string
}

var AppConfig Config

// LoadConfig reads .env and the environment into AppConfig. Logging is
// initialised from the loaded values before anything is logged.
func LoadConfig() {
	envErr := godotenv.Load() // Load .env file if it exists

	AppConfig = FromEnv()
	logging.Init(AppConfig.LogLevel, AppConfig.LogFile)

	if envErr != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	if err := AppConfig.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
}

// FromEnv reads the configuration without validating it.
func FromEnv() Config {
	cfg := Config{
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		GeneratorBackend: getEnv("GENERATOR_BACKEND", GeneratorGenerativeAI),

		DatabaseURL: getEnv("DATABASE_URL", "review_autoreply.db"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		LogFile:     getEnv("LOG_FILE", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		SessionTTL:  getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback"),

		CronSecret: getEnv("CRON_SECRET", ""),

		ReviewPageSize:       getEnvAsInt("REVIEW_PAGE_SIZE", maxReviewPageSize),
		RunTimeout:           getEnvAsDuration("RUN_TIMEOUT", 5*time.Minute),
		MaxRepliesPerRun:     getEnvAsInt("MAX_REPLIES_PER_RUN", 100),
		BulkConcurrency:      getEnvAsInt("BULK_CONCURRENCY", 4),
		GBPRequestsPerSecond: getEnvAsFloat("GBP_REQUESTS_PER_SECOND", 5),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		AutomationCron: getEnv("AUTOMATION_CRON", "0 * * * *"),
	}

	if cfg.ReviewPageSize <= 0 || cfg.ReviewPageSize > maxReviewPageSize {
		cfg.ReviewPageSize = maxReviewPageSize
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 1
	}
	return cfg
}

func (c Config) Validate() error {
	var errs []error
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables are required"))
	}
	if c.GeneratorBackend != GeneratorGenerativeAI && c.GeneratorBackend != GeneratorGenAI {
		errs = append(errs, errors.New("GENERATOR_BACKEND must be \"generative-ai\" or \"genai\""))
	}
	return errors.Join(errs...)
}

// SchedulerEnabled reports whether the Redis-backed scheduler should run.
func (c Config) SchedulerEnabled() bool {
	return c.RedisAddr != ""
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
