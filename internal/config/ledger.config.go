package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"ledger-service/internal/domain"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type AppConfig struct {
	AppEnv   string
	HTTPAddr string
	GRPCAddr string

	RedisAddr string
	RedisPass string
	RedisDB   int

	KafkaBrokers []string
	KafkaTopic   string

	StoreDriver    string
	MigrateOnStart bool

	AccountPolicy domain.AccountPolicy
	CancelWindow  time.Duration
	CacheTTL      time.Duration

	// EnvFileLoaded reports whether a .env file was read. Load runs before
	// the logger exists, so the caller logs it.
	EnvFileLoaded bool
}

func Load() AppConfig {
	envErr := godotenv.Load()

	return AppConfig{
		EnvFileLoaded:  envErr == nil,
		AppEnv:         getEnv("APP_ENV", "production"),
		HTTPAddr:       getEnv("HTTP_ADDR", ":8023"),
		GRPCAddr:       getEnv("GRPC_ADDR", ":8024"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:      getEnv("REDIS_PASS", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		KafkaBrokers:   getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "ledger.confirmations"),
		StoreDriver:    getEnv("STORE_DRIVER", StoreDriverPostgres),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),
		AccountPolicy: domain.AccountPolicy{
			OneAccountPerType: getEnvBool("ONE_ACCOUNT_PER_TYPE", false),
		},
		CancelWindow: getEnvDuration("CANCEL_WINDOW", 24*time.Hour),
		CacheTTL:     getEnvDuration("CACHE_TTL", 10*time.Minute),
	}
}

func (c AppConfig) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
