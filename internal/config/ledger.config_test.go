package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "ONE_ACCOUNT_PER_TYPE", "CANCEL_WINDOW", "STORE_DRIVER", "KAFKA_BROKERS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8023", cfg.HTTPAddr)
	assert.False(t, cfg.AccountPolicy.OneAccountPerType)
	assert.Equal(t, 24*time.Hour, cfg.CancelWindow)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.EnvFileLoaded)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ONE_ACCOUNT_PER_TYPE", "true")
	t.Setenv("CANCEL_WINDOW", "2h")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("APP_ENV", "development")

	cfg := Load()
	assert.True(t, cfg.AccountPolicy.OneAccountPerType)
	assert.Equal(t, 2*time.Hour, cfg.CancelWindow)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.IsDevelopment())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CANCEL_WINDOW", "soon")
	t.Setenv("ONE_ACCOUNT_PER_TYPE", "maybe")

	cfg := Load()
	assert.Equal(t, 24*time.Hour, cfg.CancelWindow)
	assert.False(t, cfg.AccountPolicy.OneAccountPerType)
}
