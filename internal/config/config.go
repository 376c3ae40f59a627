// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store and bus drivers
const (
	DriverPostgres = "postgres"
	DriverNATS     = "nats"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	NATS        NATSConfig     `yaml:"nats"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	RabbitMQ    RabbitMQConfig `yaml:"rabbitmq"`
	Store       DriverConfig   `yaml:"store"`
	Bus         DriverConfig   `yaml:"bus"`
	Share       ShareConfig    `yaml:"share"`
	Locate      LocateConfig   `yaml:"locate"`
	Geo         GeoConfig      `yaml:"geo"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CorsOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	SSLMode      string        `yaml:"ssl_mode"`
	Migrate      bool          `yaml:"migrate"`
}

// ConnString renders the pgx connection string
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_max_conn_lifetime=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode, d.MaxOpenConns, d.MaxLifetime,
	)
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string        `yaml:"url"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MQTTConfig holds the telemetry uplink broker configuration. An empty
// broker disables MQTT ingest.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
}

// RabbitMQConfig holds alert dispatch configuration. An empty URL
// disables dispatch.
type RabbitMQConfig struct {
	URL            string        `yaml:"url"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// DriverConfig selects a backend implementation
type DriverConfig struct {
	Driver string `yaml:"driver"`
}

// ShareConfig holds share session configuration
type ShareConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LinkOrigin      string        `yaml:"link_origin"`
}

// LocateConfig holds geolocation watcher configuration
type LocateConfig struct {
	OneShotTimeout time.Duration `yaml:"one_shot_timeout"`
	OneShotMaxAge  time.Duration `yaml:"one_shot_max_age"`
	WatchTimeout   time.Duration `yaml:"watch_timeout"`
	MaxZoom        int           `yaml:"max_zoom"`
	// IdleEviction drops owners with no watch and no fix newer than this
	IdleEviction  time.Duration `yaml:"idle_eviction"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// GeoConfig holds proximity search configuration, in kilometers
type GeoConfig struct {
	DefaultRadius float64 `yaml:"default_radius"`
	MinRadius     float64 `yaml:"min_radius"`
	MaxRadius     float64 `yaml:"max_radius"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CorsOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			Password:     "postgres",
			Database:     "safeloc",
			MaxOpenConns: 25,
			MaxLifetime:  5 * time.Minute,
			SSLMode:      "disable",
			Migrate:      true,
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			MaxReconnects:  10,
			ReconnectWait:  1 * time.Second,
			ConnectTimeout: 2 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID: "safeloc-api",
			Topic:    "safeloc/+/telemetry",
			QoS:      1,
		},
		RabbitMQ: RabbitMQConfig{
			PublishTimeout: 5 * time.Second,
		},
		Store: DriverConfig{Driver: DriverPostgres},
		Bus:   DriverConfig{Driver: DriverNATS},
		Share: ShareConfig{
			TTL:             24 * time.Hour,
			RefreshInterval: 30 * time.Second,
			LinkOrigin:      "http://localhost:8080",
		},
		Locate: LocateConfig{
			OneShotTimeout: 10 * time.Second,
			OneShotMaxAge:  1 * time.Minute,
			WatchTimeout:   5 * time.Second,
			MaxZoom:        16,
			IdleEviction:   30 * time.Minute,
			SweepInterval:  5 * time.Minute,
		},
		Geo: GeoConfig{
			DefaultRadius: 5.0,
			MinRadius:     0.1,
			MaxRadius:     50.0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from the optional CONFIG_FILE and then
// environment variables, which take precedence
func Load() (Config, error) {
	config := Defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &config); err != nil {
			return config, err
		}
	}

	applyEnv(&config)

	return config, validate(config)
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Environment = getEnv("APP_ENV", c.Environment)

	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.CorsOrigins = getEnvAsSlice("SERVER_CORS_ORIGINS", c.Server.CorsOrigins)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("DB_NAME", c.Database.Database)
	c.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxLifetime = getEnvAsDuration("DB_MAX_LIFETIME", c.Database.MaxLifetime)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.Migrate = getEnvAsBool("DB_MIGRATE", c.Database.Migrate)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.MaxReconnects = getEnvAsInt("NATS_MAX_RECONNECTS", c.NATS.MaxReconnects)
	c.NATS.ReconnectWait = getEnvAsDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait)
	c.NATS.ConnectTimeout = getEnvAsDuration("NATS_CONNECT_TIMEOUT", c.NATS.ConnectTimeout)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getEnv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getEnv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.QoS = getEnvAsInt("MQTT_QOS", c.MQTT.QoS)

	c.RabbitMQ.URL = getEnv("RABBITMQ_URL", c.RabbitMQ.URL)
	c.RabbitMQ.PublishTimeout = getEnvAsDuration("RABBITMQ_PUBLISH_TIMEOUT", c.RabbitMQ.PublishTimeout)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Bus.Driver = getEnv("BUS_DRIVER", c.Bus.Driver)

	c.Share.TTL = getEnvAsDuration("SHARE_TTL", c.Share.TTL)
	c.Share.RefreshInterval = getEnvAsDuration("SHARE_REFRESH_INTERVAL", c.Share.RefreshInterval)
	c.Share.LinkOrigin = getEnv("SHARE_LINK_ORIGIN", c.Share.LinkOrigin)

	c.Locate.OneShotTimeout = getEnvAsDuration("LOCATE_ONE_SHOT_TIMEOUT", c.Locate.OneShotTimeout)
	c.Locate.OneShotMaxAge = getEnvAsDuration("LOCATE_ONE_SHOT_MAX_AGE", c.Locate.OneShotMaxAge)
	c.Locate.WatchTimeout = getEnvAsDuration("LOCATE_WATCH_TIMEOUT", c.Locate.WatchTimeout)
	c.Locate.MaxZoom = getEnvAsInt("LOCATE_MAX_ZOOM", c.Locate.MaxZoom)
	c.Locate.IdleEviction = getEnvAsDuration("LOCATE_IDLE_EVICTION", c.Locate.IdleEviction)
	c.Locate.SweepInterval = getEnvAsDuration("LOCATE_SWEEP_INTERVAL", c.Locate.SweepInterval)

	c.Geo.DefaultRadius = getEnvAsFloat("GEO_DEFAULT_RADIUS", c.Geo.DefaultRadius)
	c.Geo.MinRadius = getEnvAsFloat("GEO_MIN_RADIUS", c.Geo.MinRadius)
	c.Geo.MaxRadius = getEnvAsFloat("GEO_MAX_RADIUS", c.Geo.MaxRadius)

	c.Metrics.Enabled = getEnvAsBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Path = getEnv("METRICS_PATH", c.Metrics.Path)
}

// validate checks if config is valid
func validate(config Config) error {
	switch config.Store.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}

	switch config.Bus.Driver {
	case DriverNATS, DriverMemory:
	default:
		return fmt.Errorf("unknown bus driver %q", config.Bus.Driver)
	}

	if config.Share.TTL <= 0 {
		return fmt.Errorf("share TTL must be positive, got %s", config.Share.TTL)
	}
	if config.Share.RefreshInterval <= 0 {
		return fmt.Errorf("share refresh interval must be positive, got %s", config.Share.RefreshInterval)
	}
	if config.Share.RefreshInterval > config.Share.TTL {
		return fmt.Errorf("share refresh interval %s exceeds TTL %s", config.Share.RefreshInterval, config.Share.TTL)
	}

	if config.Locate.OneShotTimeout <= 0 || config.Locate.WatchTimeout <= 0 {
		return fmt.Errorf("locate timeouts must be positive")
	}
	if config.Locate.IdleEviction <= 0 || config.Locate.SweepInterval <= 0 {
		return fmt.Errorf("locate idle eviction and sweep interval must be positive")
	}

	if config.Geo.MinRadius <= 0 || config.Geo.MinRadius > config.Geo.MaxRadius {
		return fmt.Errorf("geo radius bounds are invalid: min %.2f, max %.2f", config.Geo.MinRadius, config.Geo.MaxRadius)
	}

	if config.MQTT.QoS < 0 || config.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", config.MQTT.QoS)
	}

	if config.Environment != "development" && strings.HasPrefix(config.Share.LinkOrigin, "http://localhost") {
		return fmt.Errorf("share link origin must be set in non-development environments")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
