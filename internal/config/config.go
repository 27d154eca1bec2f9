package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// StoreURL is the shared store connection string. Empty means the
	// process runs in degraded mode on the local backend.
	StoreURL     string
	StoreTimeout time.Duration

	APIAddr string
	QueueDB string

	// PlatformURL is the HR platform's internal API for membership and
	// message lookups. Empty yields empty lookups, fine for tests and
	// standalone runs.
	PlatformURL    string
	MemberCacheTTL time.Duration

	PresenceTTL     time.Duration
	TypingTTL       time.Duration
	OfflineTTL      time.Duration
	CleanupInterval time.Duration

	Workers int

	// VAPID key pair for web push. Both empty disables push sending.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
}

func Load() (*Config, error) {
	storeTimeout, err := time.ParseDuration(getEnv("STORE_TIMEOUT", "2s"))
	if err != nil {
		return nil, fmt.Errorf("STORE_TIMEOUT: %w", err)
	}
	presenceTTL, err := time.ParseDuration(getEnv("PRESENCE_TTL", "60s"))
	if err != nil {
		return nil, fmt.Errorf("PRESENCE_TTL: %w", err)
	}
	typingTTL, err := time.ParseDuration(getEnv("TYPING_TTL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("TYPING_TTL: %w", err)
	}
	offlineTTL, err := time.ParseDuration(getEnv("OFFLINE_TTL", "168h"))
	if err != nil {
		return nil, fmt.Errorf("OFFLINE_TTL: %w", err)
	}
	cleanupInterval, err := time.ParseDuration(getEnv("CLEANUP_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("CLEANUP_INTERVAL: %w", err)
	}
	workers, err := strconv.Atoi(getEnv("WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("WORKERS: %w", err)
	}
	memberCacheTTL, err := time.ParseDuration(getEnv("MEMBER_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("MEMBER_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		StoreURL:        os.Getenv("STORE_URL"),
		StoreTimeout:    storeTimeout,
		APIAddr:         getEnv("API_ADDR", ":8080"),
		QueueDB:         getEnv("QUEUE_DB", "offline.db"),
		PlatformURL:     os.Getenv("PLATFORM_URL"),
		MemberCacheTTL:  memberCacheTTL,
		PresenceTTL:     presenceTTL,
		TypingTTL:       typingTTL,
		OfflineTTL:      offlineTTL,
		CleanupInterval: cleanupInterval,
		Workers:         workers,
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:ops@staffroom.local"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be greater than 0")
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("PRESENCE_TTL must be greater than 0")
	}
	if c.TypingTTL <= 0 {
		return fmt.Errorf("TYPING_TTL must be greater than 0")
	}
	if c.OfflineTTL <= 0 {
		return fmt.Errorf("OFFLINE_TTL must be greater than 0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be greater than 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be greater than 0")
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
