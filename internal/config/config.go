// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage settings.
	StorageDriver  string // "sqlite" or "postgres"
	SQLitePath     string
	DatabaseURL    string
	DBMaxConns     int
	DBRetryMax     int
	DBRetryBackoff time.Duration
	// CountConcurrency bounds the per-trace feedback/attachment lookups
	// issued for one aggregate query.
	CountConcurrency int

	// Ingestion settings.
	CredentialHeader    string            // Header carrying the producer credential.
	APIKeys             map[string]string // credential -> system name.
	DefaultSystem       string            // System used when a credential maps to nothing.
	AttachmentDir       string            // Empty stores attachment metadata only.
	MaxRequestBodyBytes int64
	MaxPartBytes        int64

	// Rate limiting (per system, ingestion only).
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// MCP read surface.
	MCPEnabled bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Error is a configuration problem. The process must not start serving.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var problems []string
	collect := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	cfg := Config{
		StorageDriver:    envStr("KANSOKU_STORAGE_DRIVER", "sqlite"),
		SQLitePath:       envStr("KANSOKU_SQLITE_PATH", "kansoku.db"),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		CredentialHeader: envStr("KANSOKU_CREDENTIAL_HEADER", "X-API-Key"),
		DefaultSystem:    envStr("KANSOKU_DEFAULT_SYSTEM", "default"),
		AttachmentDir:    envStr("KANSOKU_ATTACHMENT_DIR", ""),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "kansoku"),
		LogLevel:         envStr("KANSOKU_LOG_LEVEL", "info"),
	}

	var err error
	cfg.Port, err = envInt("KANSOKU_PORT", 8080)
	collect(err)
	cfg.ReadTimeout, err = envDuration("KANSOKU_READ_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.WriteTimeout, err = envDuration("KANSOKU_WRITE_TIMEOUT", 60*time.Second)
	collect(err)
	cfg.DBMaxConns, err = envInt("KANSOKU_DB_MAX_CONNS", 10)
	collect(err)
	cfg.DBRetryMax, err = envInt("KANSOKU_DB_RETRY_MAX", 3)
	collect(err)
	cfg.DBRetryBackoff, err = envDuration("KANSOKU_DB_RETRY_BACKOFF", 10*time.Millisecond)
	collect(err)
	cfg.CountConcurrency, err = envInt("KANSOKU_COUNT_CONCURRENCY", 8)
	collect(err)

	var maxBody, maxPart int
	maxBody, err = envInt("KANSOKU_MAX_REQUEST_BODY_BYTES", 32*1024*1024) // 32 MB default
	collect(err)
	cfg.MaxRequestBodyBytes = int64(maxBody)
	maxPart, err = envInt("KANSOKU_MAX_PART_BYTES", 8*1024*1024) // 8 MB default
	collect(err)
	cfg.MaxPartBytes = int64(maxPart)

	cfg.RateLimitEnabled, err = envBool("KANSOKU_RATE_LIMIT_ENABLED", true)
	collect(err)
	cfg.RateLimitRPS, err = envFloat("KANSOKU_RATE_LIMIT_RPS", 50)
	collect(err)
	cfg.RateLimitBurst, err = envInt("KANSOKU_RATE_LIMIT_BURST", 100)
	collect(err)
	cfg.MCPEnabled, err = envBool("KANSOKU_MCP_ENABLED", true)
	collect(err)
	cfg.OTELInsecure, err = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	collect(err)
	cfg.APIKeys, err = parseKeyTable("KANSOKU_API_KEYS", os.Getenv("KANSOKU_API_KEYS"))
	collect(err)

	if len(problems) > 0 {
		return Config{}, &Error{Problems: problems}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var problems []string
	switch c.StorageDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			problems = append(problems, "KANSOKU_SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("KANSOKU_STORAGE_DRIVER=%q must be sqlite or postgres", c.StorageDriver))
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("KANSOKU_PORT=%d is out of range", c.Port))
	}
	if c.MaxRequestBodyBytes <= 0 {
		problems = append(problems, "KANSOKU_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.MaxPartBytes <= 0 {
		problems = append(problems, "KANSOKU_MAX_PART_BYTES must be positive")
	}
	if c.CredentialHeader == "" {
		problems = append(problems, "KANSOKU_CREDENTIAL_HEADER must not be empty")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		problems = append(problems, "KANSOKU_RATE_LIMIT_RPS and KANSOKU_RATE_LIMIT_BURST must be positive")
	}
	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}

// parseKeyTable parses "key=system,key2=system2".
func parseKeyTable(name, v string) (map[string]string, error) {
	table := map[string]string{}
	if strings.TrimSpace(v) == "" {
		return table, nil
	}
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, system, ok := strings.Cut(entry, "=")
		key, system = strings.TrimSpace(key), strings.TrimSpace(system)
		if !ok || key == "" || system == "" {
			return nil, fmt.Errorf("%s: entry %q is not key=system", name, entry)
		}
		table[key] = system
	}
	return table, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
