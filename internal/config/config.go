// Package config loads service configuration from the environment, with
// sensible local-dev defaults for every knob.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// HTTPAddr is the listen address of the order API.
	HTTPAddr string

	// DBPath is the SQLite database file.
	DBPath string

	// RedisAddr enables the snapshot cache when non-empty.
	RedisAddr string

	CacheTTL time.Duration

	// Currency is the store's default ISO currency code.
	Currency string

	// PricesIncludeTax marks catalog prices as tax-inclusive.
	PricesIncludeTax bool

	// SequentialNumbers switches display numbers from the order ID to a
	// store-backed sequence with NumberPrefix.
	SequentialNumbers bool
	NumberPrefix      string

	// StrictSideEffects makes counter-update failures fatal to a status
	// transition instead of logged-and-tolerated.
	StrictSideEffects bool

	ServiceName string
}

func FromEnv() Config {
	return Config{
		HTTPAddr:          ":" + getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/orders.db"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		CacheTTL:          getDuration("CACHE_TTL", 15*time.Minute),
		Currency:          getEnv("STORE_CURRENCY", "USD"),
		PricesIncludeTax:  getBool("PRICES_INCLUDE_TAX", false),
		SequentialNumbers: getBool("SEQUENTIAL_ORDER_NUMBERS", false),
		NumberPrefix:      getEnv("ORDER_NUMBER_PREFIX", ""),
		StrictSideEffects: getBool("STRICT_SIDE_EFFECTS", false),
		ServiceName:       getEnv("OTEL_SERVICE_NAME", "orderd"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
