package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Config holds queue-service specific settings. Shared settings
// (SERVICE_NAME, HTTP_ADDR, LOG_LEVEL) live in the platform config.
type Config struct {
	// DatabaseURL is the Postgres DSN for the queue store. Optional in
	// development (falls back to the in-memory store), required in prod.
	DatabaseURL string
	// RedisDSN is the idempotency backend. Optional; Postgres or the
	// in-memory gate are used when absent.
	RedisDSN string
	// IdempotencyWindow is how long a reservation blocks duplicate
	// submissions. IDEMPOTENCY_WINDOW, default 24h.
	IdempotencyWindow time.Duration
	// OpTimeout bounds every store and gate round-trip. OP_TIMEOUT, default 5s.
	OpTimeout time.Duration
	// NATSURL is the analytics event broker.
	NATSURL string
	// ContentBaseURL points at the catalog/playback collaborator. Optional.
	ContentBaseURL string
	// JWTSecret verifies bearer tokens on the queue API. Required.
	JWTSecret string
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisDSN:          strings.TrimSpace(os.Getenv("REDIS_DSN")),
		IdempotencyWindow: envDuration("IDEMPOTENCY_WINDOW", 24*time.Hour),
		OpTimeout:         envDuration("OP_TIMEOUT", 5*time.Second),
		NATSURL:           strings.TrimSpace(os.Getenv("NATS_URL")),
		ContentBaseURL:    strings.TrimSpace(os.Getenv("CONTENT_BASE_URL")),
		JWTSecret:         strings.TrimSpace(os.Getenv("JWT_SECRET")),
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
