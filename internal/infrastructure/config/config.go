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
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Atomberg core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud        CloudConfig        `yaml:"cloud"`
	Broadcast    BroadcastConfig    `yaml:"broadcast"`
	Availability AvailabilityConfig `yaml:"availability"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Accounts     []AccountConfig    `yaml:"accounts"`
}

// CloudConfig contains Atomberg developer API settings.
type CloudConfig struct {
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds every cloud HTTP call (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// RefreshInterval is how often device state is re-read from the cloud (seconds).
	RefreshInterval int `yaml:"refresh_interval"`
}

// BroadcastConfig contains local UDP channel settings.
type BroadcastConfig struct {
	ListenHost string `yaml:"listen_host"`

	// Port is the UDP port fans broadcast their status on.
	Port int `yaml:"port"`

	// CommandPort is the UDP port fans accept local commands on.
	CommandPort int `yaml:"command_port"`

	// QueueSize is the per-subscriber delivery buffer.
	QueueSize int `yaml:"queue_size"`
}

// AvailabilityConfig controls the online/offline sweep.
type AvailabilityConfig struct {
	// Timeout is the maximum gap between broadcasts before a fan is offline (seconds).
	Timeout int `yaml:"timeout"`

	// SweepInterval is how often the sweep runs (seconds).
	SweepInterval int `yaml:"sweep_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays prunes state history older than this. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AccountConfig seeds one Atomberg developer account into the settings store.
// Credentials are better supplied through ATOMBERG_API_KEY / ATOMBERG_REFRESH_TOKEN.
type AccountConfig struct {
	ID           string `yaml:"id"`
	APIKey       string `yaml:"api_key"`
	RefreshToken string `yaml:"refresh_token"`
	LocalControl bool   `yaml:"local_control"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ATOMBERG_SECTION_KEY
// For example: ATOMBERG_DATABASE_PATH, ATOMBERG_BROADCAST_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile merges KEY=VALUE pairs from a dotenv file into the process
// environment so they reach the ATOMBERG_* overrides. Variables that are
// already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL:         "https://api.developer.atomberg-iot.com",
			RequestTimeout:  10,
			RefreshInterval: 30,
		},
		Broadcast: BroadcastConfig{
			ListenHost:  "0.0.0.0",
			Port:        5625,
			CommandPort: 5600,
			QueueSize:   64,
		},
		Availability: AvailabilityConfig{
			Timeout:       15,
			SweepInterval: 5,
		},
		Database: DatabaseConfig{
			Path:                 "./data/atomberg.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "atomberg-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8088,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATOMBERG_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("ATOMBERG_BROADCAST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broadcast.Port = port
		}
	}
	if v := os.Getenv("ATOMBERG_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ATOMBERG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ATOMBERG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ATOMBERG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("ATOMBERG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// A single account can be supplied entirely from the environment.
	apiKey := os.Getenv("ATOMBERG_API_KEY")
	refreshToken := os.Getenv("ATOMBERG_REFRESH_TOKEN")
	if apiKey != "" && refreshToken != "" {
		acc := AccountConfig{
			ID:           os.Getenv("ATOMBERG_ACCOUNT_ID"),
			APIKey:       apiKey,
			RefreshToken: refreshToken,
			LocalControl: os.Getenv("ATOMBERG_LOCAL_CONTROL") == "true",
		}
		if acc.ID == "" {
			acc.ID = "default"
		}
		cfg.Accounts = append(cfg.Accounts, acc)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.RequestTimeout <= 0 {
		errs = append(errs, "cloud.request_timeout must be positive")
	}
	if c.Cloud.RefreshInterval <= 0 {
		errs = append(errs, "cloud.refresh_interval must be positive")
	}

	if !validPort(c.Broadcast.Port) {
		errs = append(errs, "broadcast.port must be between 1 and 65535")
	}
	if !validPort(c.Broadcast.CommandPort) {
		errs = append(errs, "broadcast.command_port must be between 1 and 65535")
	}
	if c.Broadcast.QueueSize <= 0 {
		errs = append(errs, "broadcast.queue_size must be positive")
	}

	if c.Availability.Timeout <= 0 {
		errs = append(errs, "availability.timeout must be positive")
	}
	if c.Availability.SweepInterval <= 0 {
		errs = append(errs, "availability.sweep_interval must be positive")
	} else if c.Availability.SweepInterval > c.Availability.Timeout {
		errs = append(errs, "availability.sweep_interval must not exceed availability.timeout")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetentionDays < 0 {
		errs = append(errs, "database.history_retention_days cannot be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.ID == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d].id is required", i))
		} else if seen[acc.ID] {
			errs = append(errs, fmt.Sprintf("accounts[%d].id %q is duplicated", i, acc.ID))
		}
		seen[acc.ID] = true
		if acc.APIKey == "" || acc.RefreshToken == "" {
			errs = append(errs, fmt.Sprintf("accounts[%d] requires api_key and refresh_token", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// GetRequestTimeout returns the cloud request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Cloud.RequestTimeout) * time.Second
}

// GetRefreshInterval returns the cloud refresh interval as a Duration.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Cloud.RefreshInterval) * time.Second
}

// GetAvailabilityTimeout returns the availability window as a Duration.
func (c *Config) GetAvailabilityTimeout() time.Duration {
	return time.Duration(c.Availability.Timeout) * time.Second
}

// GetSweepInterval returns the availability sweep interval as a Duration.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Availability.SweepInterval) * time.Second
}

// GetHistoryRetention returns the state history retention window.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetentionDays) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
