package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DatabaseConfig Postgres connection settings for the postgres session backend.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds a lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis connection settings for the redis session backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig optional broker used to trigger claim list refreshes.
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // topic is <prefix>/<userId>
	QoS         byte
}

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// LogConfig diagnostic logging. Level is a zap level name.
type LogConfig struct {
	Level  string
	Format string
}

// Session storage backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config claimctl configuration
type Config struct {
	API struct {
		BaseURL string
		Timeout time.Duration
	}
	Session struct {
		Backend string
		File    string
		Key     string // well-known storage key of the persisted session record
	}
	Redis    RedisConfig
	Database DatabaseConfig
	Refresh  struct {
		Statistics time.Duration
		Archived   time.Duration
		Active     time.Duration
		Reference  time.Duration

		// focus-triggered refreshes are throttled, polling is not
		FocusPerSecond float64
		FocusBurst     int
	}
	MQTT MQTTConfig
	Log  LogConfig
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.API.BaseURL = getEnv("CLAIMS_API_URL", "http://localhost:5000")
	cfg.API.Timeout = parseDuration(getEnv("CLAIMS_API_TIMEOUT", "20s"), 20*time.Second)

	cfg.Session.Backend = getEnv("SESSION_BACKEND", BackendFile)
	cfg.Session.File = getEnv("SESSION_FILE", defaultSessionFile())
	cfg.Session.Key = getEnv("SESSION_KEY", "user")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "claimctl")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 2
	cfg.Database.MaxIdle = 1

	// statistics and archive poll faster than the active list
	cfg.Refresh.Statistics = parseDuration(getEnv("REFRESH_STATISTICS_INTERVAL", "10s"), 10*time.Second)
	cfg.Refresh.Archived = parseDuration(getEnv("REFRESH_ARCHIVED_INTERVAL", "10s"), 10*time.Second)
	cfg.Refresh.Active = parseDuration(getEnv("REFRESH_ACTIVE_INTERVAL", "30s"), 30*time.Second)
	cfg.Refresh.Reference = parseDuration(getEnv("REFRESH_REFERENCE_INTERVAL", "10s"), 10*time.Second)
	cfg.Refresh.FocusPerSecond = parseFloat(getEnv("REFRESH_FOCUS_PER_SECOND", "1"), 1)
	cfg.Refresh.FocusBurst = parseInt(getEnv("REFRESH_FOCUS_BURST", "2"), 2)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "claimctl")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "claims")
	cfg.MQTT.QoS = 1

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", LogFormatConsole)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Session.Backend {
	case BackendFile, BackendRedis, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("CLAIMS_API_URL is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("CLAIMS_API_TIMEOUT must be positive")
	}
	return nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "claimctl", "session.json")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseFloat(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
