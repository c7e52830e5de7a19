package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Flight-status API
	APIKey      string
	APIBaseURL  string
	HTTPTimeout time.Duration

	// Store
	DBDriver  string
	DBConnStr string

	// Optional backends; empty disables them
	RedisAddr  string
	NATSURL    string
	ArchiveDir string

	// HTTP surface
	HTTPAddr    string
	CORSOrigins []string

	// Tracking
	PollInterval time.Duration

	// Background collection
	MaxCollections         int
	MinCollectionInterval  time.Duration
	CollectionInterval     time.Duration
	CollectionInitialDelay time.Duration
	RetentionDays          int

	TimeZone      *time.Location
	StatsInterval time.Duration
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	apiKey := os.Getenv("FLIGHT_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("FLIGHT_API_KEY environment variable is required")
	}

	cfg := &Config{
		APIKey:     apiKey,
		APIBaseURL: getEnv("FLIGHT_API_URL", "http://api.aviationstack.com/v1"),
		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBConnStr:  getEnv("DB_CONN_STR", "./data/flights.db"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),
		NATSURL:    os.Getenv("NATS_URL"),
		ArchiveDir: os.Getenv("ARCHIVE_DIR"),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
	}

	switch cfg.DBDriver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q: want sqlite or postgres", cfg.DBDriver)
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	} else {
		cfg.CORSOrigins = []string{"*"}
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"HTTP_TIMEOUT", 15 * time.Second, &cfg.HTTPTimeout},
		{"POLL_INTERVAL", time.Minute, &cfg.PollInterval},
		{"MIN_COLLECTION_INTERVAL", 2 * time.Hour, &cfg.MinCollectionInterval},
		{"COLLECTION_INTERVAL", 8 * time.Hour, &cfg.CollectionInterval},
		{"COLLECTION_INITIAL_DELAY", 15 * time.Minute, &cfg.CollectionInitialDelay},
		{"STATS_INTERVAL", 5 * time.Minute, &cfg.StatsInterval},
	}
	for _, d := range durations {
		if *d.dest, err = getEnvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if cfg.CollectionInterval <= 0 {
		return nil, fmt.Errorf("COLLECTION_INTERVAL must be positive")
	}

	if cfg.MaxCollections, err = getEnvInt("MAX_COLLECTIONS", 10); err != nil {
		return nil, err
	}
	if cfg.MaxCollections == 0 {
		return nil, fmt.Errorf("MAX_COLLECTIONS must be positive")
	}
	if cfg.RetentionDays, err = getEnvInt("RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.RetentionDays == 0 {
		return nil, fmt.Errorf("RETENTION_DAYS must be positive")
	}

	cfg.TimeZone, err = time.LoadLocation(getEnv("TIME_ZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE: %w", err)
	}

	return cfg, nil
}

// Retention returns the retention window as a duration
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
