package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	DatabaseURL        string
	PatientDatabaseURL string
	PatientTable       string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool

	// Booking engine
	LockBackend        string
	LockScope          string
	LockTimeout        time.Duration
	LockTTL            time.Duration
	DefaultDoctorID    string
	DefaultSlotMinutes int
	DefaultCapacity    int

	// Post-commit mirrors
	MirrorAsync        bool
	MirrorTimeout      time.Duration
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSEndpointOverride     string
	ReservationMirrorTable  string
	ReservationFeedQueueURL string
	PatientCachePrefix      string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		PatientDatabaseURL: getEnv("PATIENT_DATABASE_URL", ""),
		PatientTable:       getEnv("PATIENT_TABLE", "patient_records"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),

		LockBackend:        strings.ToLower(strings.TrimSpace(getEnv("LOCK_BACKEND", "memory"))),
		LockScope:          strings.ToLower(strings.TrimSpace(getEnv("LOCK_SCOPE", "global"))),
		LockTimeout:        getEnvAsDuration("LOCK_TIMEOUT", 25*time.Second),
		LockTTL:            getEnvAsDuration("LOCK_TTL", 30*time.Second),
		DefaultDoctorID:    getEnv("DEFAULT_DOCTOR_ID", "default"),
		DefaultSlotMinutes: getEnvAsInt("DEFAULT_SLOT_MINUTES", 15),
		DefaultCapacity:    getEnvAsInt("DEFAULT_CAPACITY", 2),

		MirrorAsync:        getEnvAsBool("MIRROR_ASYNC", true),
		MirrorTimeout:      getEnvAsDuration("MIRROR_TIMEOUT", 5*time.Second),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxMaxAttempts:  getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),

		AWSRegion:               getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:     getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ReservationMirrorTable:  getEnv("RESERVATION_MIRROR_TABLE", ""),
		ReservationFeedQueueURL: getEnv("RESERVATION_FEED_QUEUE_URL", ""),
		PatientCachePrefix:      getEnv("PATIENT_CACHE_PREFIX", "patient:"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),
	}
}

// UsesRedisLock reports whether creates should lock through Redis.
func (c *Config) UsesRedisLock() bool {
	return c.LockBackend == "redis"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
