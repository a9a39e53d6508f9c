package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "WalletService"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultLockTimeout     = 2 * time.Second
	defaultCacheBackend    = CacheNone
	defaultCacheSize       = 100
	defaultCacheTTL        = 10 * time.Minute
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	lockTimeoutMsEnvVar    = "LOCK_TIMEOUT_MS"
	lockTimeoutDurEnvVar   = "LOCK_TIMEOUT"
	cacheTTLSecondsEnvVar  = "CACHE_TTL_SECONDS"
	cacheTTLDurEnvVar      = "CACHE_TTL"
)

// Balance cache backends accepted in CACHE_BACKEND.
const (
	CacheNone  = "none"
	CacheLRU   = "lru"
	CacheRedis = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	LockTimeout    time.Duration
	CacheBackend   string
	CacheSize      int
	CacheTTL       time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is applied first when present;
// real environment variables always win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		LockTimeout:    defaultLockTimeout,
		CacheBackend:   strings.ToLower(getEnv("CACHE_BACKEND", defaultCacheBackend)),
		CacheSize:      defaultCacheSize,
		CacheTTL:       defaultCacheTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv(shutdownSecondsEnvVar, time.Second, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv(idemTTLSecondsEnvVar, time.Second, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = durationEnv(lockTimeoutMsEnvVar, time.Millisecond, lockTimeoutDurEnvVar, cfg.LockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = durationEnv(cacheTTLSecondsEnvVar, time.Second, cacheTTLDurEnvVar, cfg.CacheTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("CACHE_SIZE"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CACHE_SIZE: %w", err)
		}
		cfg.CacheSize = size
	}

	if cfg.LockTimeout <= 0 {
		return Config{}, fmt.Errorf("lock timeout must be positive, got %s", cfg.LockTimeout)
	}

	switch cfg.CacheBackend {
	case CacheNone, CacheLRU:
	case CacheRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("CACHE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return Config{}, fmt.Errorf("invalid CACHE_BACKEND %q", cfg.CacheBackend)
	}
	if cfg.CacheBackend == CacheLRU && cfg.CacheSize <= 0 {
		return Config{}, fmt.Errorf("CACHE_SIZE must be positive, got %d", cfg.CacheSize)
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local/development environment,
// where Postgres and Redis fall back to in-memory implementations.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads an integer variable expressed in unit, falling back to a Go
// duration string variable, then to fallback.
func durationEnv(intKey string, unit time.Duration, durKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(intKey); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", intKey, err)
		}
		return time.Duration(n) * unit, nil
	}
	if v := os.Getenv(durKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
