package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	WebSocket WebSocketConfig
	Tracking  TrackingConfig
	Feed      FeedConfig
	View      ViewConfig
	Map       MapConfig
	Simulator SimulatorConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	// Driver is "couchdb" or "memory".
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// URL returns the CouchDB endpoint with credentials.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", c.User, c.Password, c.Host, c.Port)
}

type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	MaxMessageSize   int64
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxConnPerDevice int
}

type TrackingConfig struct {
	Interval   time.Duration
	FixTimeout time.Duration
}

type FeedConfig struct {
	ReconnectDelay   time.Duration
	SubscriberBuffer int
}

type ViewConfig struct {
	HistoryLimit  int
	TrailCapacity int
}

type MapConfig struct {
	DefaultLat      float64
	DefaultLon      float64
	DefaultZoom     int
	TileURL         string
	TileAttribution string
	MaxZoom         int
}

type SimulatorConfig struct {
	StartLat       float64
	StartLon       float64
	DenyPermission bool
	FixDelay       time.Duration
	Model          string
	Platform       string
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	godotenv.Load()

	interval, err := time.ParseDuration(getEnv("TRACKING_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRACKING_INTERVAL: %w", err)
	}

	fixTimeout, err := time.ParseDuration(getEnv("TRACKING_FIX_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRACKING_FIX_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "couchdb"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5984"),
			User:            getEnv("DB_USER", "admin"),
			Password:        getEnv("DB_PASSWORD", "password"),
			Name:            getEnv("DB_NAME", "locatr"),
			ConnectAttempts: getEnvAsInt("DB_CONNECT_ATTEMPTS", 10),
			ConnectDelay:    getEnvAsDuration("DB_CONNECT_DELAY", 2*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize:  getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
			MaxMessageSize:   int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			PingPeriod:       54 * time.Second,
			MaxConnPerDevice: getEnvAsInt("WS_MAX_CONN_PER_DEVICE", 20),
		},
		Tracking: TrackingConfig{
			Interval:   interval,
			FixTimeout: fixTimeout,
		},
		Feed: FeedConfig{
			ReconnectDelay:   getEnvAsDuration("FEED_RECONNECT_DELAY", 5*time.Second),
			SubscriberBuffer: getEnvAsInt("FEED_SUBSCRIBER_BUFFER", 64),
		},
		View: ViewConfig{
			HistoryLimit:  getEnvAsInt("VIEW_HISTORY_LIMIT", 100),
			TrailCapacity: getEnvAsInt("VIEW_TRAIL_CAPACITY", 1000),
		},
		Map: MapConfig{
			DefaultLat:      getEnvAsFloat("MAP_DEFAULT_LAT", 40.7128),
			DefaultLon:      getEnvAsFloat("MAP_DEFAULT_LON", -74.0060),
			DefaultZoom:     getEnvAsInt("MAP_DEFAULT_ZOOM", 13),
			TileURL:         getEnv("MAP_TILE_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"),
			TileAttribution: getEnv("MAP_TILE_ATTRIBUTION", "© OpenStreetMap contributors"),
			MaxZoom:         getEnvAsInt("MAP_MAX_ZOOM", 19),
		},
		Simulator: SimulatorConfig{
			StartLat:       getEnvAsFloat("SIM_START_LAT", 40.7128),
			StartLon:       getEnvAsFloat("SIM_START_LON", -74.0060),
			DenyPermission: getEnvAsBool("SIM_DENY_PERMISSION", false),
			FixDelay:       getEnvAsDuration("SIM_FIX_DELAY", 200*time.Millisecond),
			Model:          getEnv("SIM_MODEL", ""),
			Platform:       getEnv("SIM_PLATFORM", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Tracking.Interval <= 0 {
		return fmt.Errorf("TRACKING_INTERVAL must be positive")
	}
	if c.Tracking.FixTimeout <= 0 || c.Tracking.FixTimeout >= c.Tracking.Interval {
		return fmt.Errorf("TRACKING_FIX_TIMEOUT must be positive and shorter than TRACKING_INTERVAL")
	}
	if c.Database.Driver != "couchdb" && c.Database.Driver != "memory" {
		return fmt.Errorf("DB_DRIVER must be couchdb or memory")
	}
	if c.View.HistoryLimit <= 0 {
		return fmt.Errorf("VIEW_HISTORY_LIMIT must be positive")
	}
	if c.View.TrailCapacity < c.View.HistoryLimit {
		return fmt.Errorf("VIEW_TRAIL_CAPACITY must be at least VIEW_HISTORY_LIMIT")
	}
	return nil
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
