// Package config loads the application's runtime configuration from
// MIRO_-prefixed environment variables. Configuration-file parsing is an
// explicit non-goal of this system, so Load performs a direct
// os.Getenv/strconv walk rather than pulling in a file-format or
// file-watching library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of tunables spec.md §6 enumerates.
type Config struct {
	DatabaseURL  string
	CORSOrigins  []string
	APIURL       string
	ClientID     string
	ClientSecret string

	OAuthAuthBase    string
	OAuthTokenURL    string
	OAuthScope       string
	OAuthRedirectURI string

	WebhookSecret string
	// EncryptionKeys is the ordered, comma-separated key-rotation list.
	// Empty means the sealer runs in development (plaintext) mode.
	EncryptionKeys []string

	HTTPTimeout time.Duration

	BucketReservoir int
	BucketRefreshMs time.Duration

	IdempotencyCacheSize       int
	IdempotencyCacheTTL        time.Duration
	IdempotencyCleanupInterval time.Duration
	IdempotencyPersistentTTL   time.Duration

	CacheTTL             time.Duration
	CacheCleanupInterval time.Duration
	// RedisURL optionally points at a Redis instance accelerating board
	// cache reads. Empty disables the accelerator; the SQL-backed store
	// is then the sole cache tier.
	RedisURL string

	LogMaxEntries     int
	LogMaxPayloadByte int
}

// Load reads Config from the process environment, applying the defaults
// spec.md §6 specifies for every optional field.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      mustGet("MIRO_DATABASE_URL"),
		CORSOrigins:      splitCSV(os.Getenv("MIRO_CORS_ORIGINS")),
		APIURL:           mustGet("MIRO_API_URL"),
		ClientID:         mustGet("MIRO_CLIENT_ID"),
		ClientSecret:     mustGet("MIRO_CLIENT_SECRET"),
		OAuthAuthBase:    mustGet("MIRO_OAUTH_AUTH_BASE"),
		OAuthTokenURL:    mustGet("MIRO_OAUTH_TOKEN_URL"),
		OAuthScope:       os.Getenv("MIRO_OAUTH_SCOPE"),
		OAuthRedirectURI: mustGet("MIRO_OAUTH_REDIRECT_URI"),
		WebhookSecret:    os.Getenv("MIRO_WEBHOOK_SECRET"),
		EncryptionKeys:   splitCSV(os.Getenv("MIRO_ENCRYPTION_KEY")),
		RedisURL:         os.Getenv("MIRO_REDIS_URL"),
	}

	var err error
	if cfg.HTTPTimeout, err = durationSeconds("MIRO_HTTP_TIMEOUT_SECONDS", 10); err != nil {
		return nil, err
	}
	if cfg.BucketReservoir, err = intOr("MIRO_BUCKET_RESERVOIR", 1); err != nil {
		return nil, err
	}
	if cfg.BucketRefreshMs, err = durationMillis("MIRO_BUCKET_REFRESH_MS", 600); err != nil {
		return nil, err
	}
	if cfg.IdempotencyCacheSize, err = intOr("MIRO_IDEMPOTENCY_CACHE_SIZE", 128); err != nil {
		return nil, err
	}
	if cfg.IdempotencyCacheTTL, err = durationSeconds("MIRO_IDEMPOTENCY_CACHE_TTL_SECONDS", 60); err != nil {
		return nil, err
	}
	if cfg.IdempotencyCleanupInterval, err = durationSeconds("MIRO_IDEMPOTENCY_CLEANUP_SECONDS", 86400); err != nil {
		return nil, err
	}
	// The persistent idempotency TTL (48h) is a fixed retention policy, not
	// a spec.md-enumerated environment variable.
	cfg.IdempotencyPersistentTTL = 48 * time.Hour

	if cfg.CacheTTL, err = durationSeconds("MIRO_CACHE_TTL_SECONDS", 86400); err != nil {
		return nil, err
	}
	if cfg.CacheCleanupInterval, err = durationSeconds("MIRO_CACHE_CLEANUP_SECONDS", 86400); err != nil {
		return nil, err
	}
	if cfg.LogMaxEntries, err = intOr("MIRO_LOG_MAX_ENTRIES", 1000); err != nil {
		return nil, err
	}
	if cfg.LogMaxPayloadByte, err = intOr("MIRO_LOG_MAX_PAYLOAD_BYTES", 1<<20); err != nil {
		return nil, err
	}

	return cfg, nil
}

func mustGet(key string) string {
	return os.Getenv(key)
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func durationSeconds(key string, defSeconds int) (time.Duration, error) {
	n, err := intOr(key, defSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func durationMillis(key string, defMillis int) (time.Duration, error) {
	n, err := intOr(key, defMillis)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
