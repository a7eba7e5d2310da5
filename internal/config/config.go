package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the engine session configuration. Everything the engine
// needs hangs off this struct; there is no ambient/global state.
type Config struct {
	// API is the monitoring backend the engine polls.
	API struct {
		BaseURL   string
		TimeoutMs int // per-request bound; 0 falls back to the timer interval
	}

	// Intervals are the named timer cadences.
	Intervals struct {
		PatientsMs   int
		AlertsMs     int
		HistoryMs    int
		HistoryHours int // window for the vitals-history fetch
	}

	Trend struct {
		ChangeThreshold float64 // relative change below which a vital is stable
	}

	Thresholds struct {
		ProfilePath string // optional YAML override, empty = built-in defaults
	}

	Engine struct {
		Muted  bool
		Paused bool // start suspended, resume via the config API
	}

	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
		// SnapshotTTL bounds how long a persisted snapshot outlives the
		// engine that wrote it.
		SnapshotTTLSec int
	}

	Database struct {
		Enabled  bool
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}

	MQTT struct {
		Broker      string // empty disables the MQTT notification sink
		ClientID    string
		Username    string
		Password    string
		QoS         int
		TopicPrefix string
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
		File   string // optional rotated log file, empty = stdout only
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.API.BaseURL = getEnv("API_BASE_URL", "http://localhost:8000/api/v1")
	cfg.API.TimeoutMs = getEnvInt("API_TIMEOUT_MS", 0)

	cfg.Intervals.PatientsMs = getEnvInt("VITALS_INTERVAL_MS", 5000)
	cfg.Intervals.AlertsMs = getEnvInt("ALERTS_INTERVAL_MS", 3000)
	cfg.Intervals.HistoryMs = getEnvInt("HISTORY_INTERVAL_MS", 10000)
	cfg.Intervals.HistoryHours = getEnvInt("HISTORY_HOURS", 24)

	cfg.Trend.ChangeThreshold = getEnvFloat("TREND_CHANGE_THRESHOLD", 0.10)
	cfg.Thresholds.ProfilePath = getEnv("THRESHOLD_PROFILES_PATH", "")

	cfg.Engine.Muted = getEnvBool("ENGINE_MUTED", false)
	cfg.Engine.Paused = getEnvBool("ENGINE_PAUSED", false)

	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", false)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.SnapshotTTLSec = getEnvInt("SNAPSHOT_TTL_SEC", 3600)

	cfg.Database.Enabled = getEnvBool("DB_ENABLED", false)
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "vitalwatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "vitalwatch")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = getEnvInt("MQTT_QOS", 1)
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "vitalwatch/alerts")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8095")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.File = getEnv("LOG_FILE", "")

	if cfg.Intervals.PatientsMs <= 0 || cfg.Intervals.AlertsMs <= 0 || cfg.Intervals.HistoryMs <= 0 {
		return nil, fmt.Errorf("timer intervals must be positive")
	}

	return cfg, nil
}

// GetDSN builds the Postgres connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Database, c.Database.SSLMode)
}

// PatientsInterval returns the patients timer cadence as a duration.
func (c *Config) PatientsInterval() time.Duration {
	return time.Duration(c.Intervals.PatientsMs) * time.Millisecond
}

// AlertsInterval returns the alerts timer cadence as a duration.
func (c *Config) AlertsInterval() time.Duration {
	return time.Duration(c.Intervals.AlertsMs) * time.Millisecond
}

// HistoryInterval returns the history timer cadence as a duration.
func (c *Config) HistoryInterval() time.Duration {
	return time.Duration(c.Intervals.HistoryMs) * time.Millisecond
}

// APITimeout returns the per-request bound, zero when the timer interval
// should be used instead.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutMs) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
