package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Casambi bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Casambi   CasambiConfig   `yaml:"casambi"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance on the MQTT bus.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"`
}

// CasambiConfig contains cloud service credentials and connection tuning.
type CasambiConfig struct {
	// APIKey is the developer API key issued by the cloud service.
	// Sent as a request header on REST calls and as the websocket subprotocol.
	APIKey string `yaml:"api_key"`

	// Mode selects the login flavour: "network" (one network per credential)
	// or "user" (site login fanning out to every accessible network).
	Mode string `yaml:"mode"`

	// Identifier is the network email or user email depending on Mode.
	Identifier string `yaml:"identifier"`

	// Secret is the corresponding password.
	Secret string `yaml:"secret"`

	// BaseURL is the REST endpoint root.
	BaseURL string `yaml:"base_url"`

	// SocketURL is the websocket endpoint for the persistent connection.
	SocketURL string `yaml:"socket_url"`

	// KeepaliveInterval is the liveness probe interval in seconds.
	KeepaliveInterval int `yaml:"keepalive_interval"`

	// WatchdogGrace is added to the probe interval to form the
	// liveness timeout, in seconds.
	WatchdogGrace int `yaml:"watchdog_grace"`

	// ReconnectDelay is the fixed delay between reconnect attempts in seconds.
	ReconnectDelay int `yaml:"reconnect_delay"`

	// LoginRetryCooldown is the delay before retrying a transient
	// login failure, in seconds.
	LoginRetryCooldown int `yaml:"login_retry_cooldown"`
}

// ReconcileConfig tunes the command/echo reconciliation windows.
type ReconcileConfig struct {
	// DebounceMS is the trailing debounce window applied to inbound
	// state pushes, in milliseconds.
	DebounceMS int `yaml:"debounce_ms"`

	// SuppressMS is the echo suppression window armed after each
	// outbound command, in milliseconds.
	SuppressMS int `yaml:"suppress_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// APIAuthConfig contains bearer-token authentication settings for the API.
// When enabled, requests must carry an HS256 JWT signed with Secret.
type APIAuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// DatabaseConfig contains SQLite settings for the command audit trail.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for state telemetry.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CASAMBRIDGE_SECTION_KEY
// For example: CASAMBRIDGE_CASAMBI_API_KEY, CASAMBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "casambi-bridge",
			HealthInterval: 30,
		},
		Casambi: CasambiConfig{
			Mode:               "network",
			BaseURL:            "https://door.casambi.com/v1",
			SocketURL:          "wss://door.casambi.com/v1/bridge/",
			KeepaliveInterval:  30,
			WatchdogGrace:      2,
			ReconnectDelay:     5,
			LoginRetryCooldown: 30,
		},
		Reconcile: ReconcileConfig{
			DebounceMS: 500,
			SuppressMS: 3000,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "casambi-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8420,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/casambi-bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CASAMBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Casambi credentials (preferred over keeping secrets in the file)
	if v := os.Getenv("CASAMBRIDGE_CASAMBI_API_KEY"); v != "" {
		cfg.Casambi.APIKey = v
	}
	if v := os.Getenv("CASAMBRIDGE_CASAMBI_IDENTIFIER"); v != "" {
		cfg.Casambi.Identifier = v
	}
	if v := os.Getenv("CASAMBRIDGE_CASAMBI_SECRET"); v != "" {
		cfg.Casambi.Secret = v
	}

	// MQTT
	if v := os.Getenv("CASAMBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CASAMBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CASAMBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("CASAMBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("CASAMBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API auth secret
	if v := os.Getenv("CASAMBRIDGE_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Casambi.APIKey == "" {
		errs = append(errs, "casambi.api_key is required (set CASAMBRIDGE_CASAMBI_API_KEY)")
	}
	switch c.Casambi.Mode {
	case "network", "user":
	default:
		errs = append(errs, `casambi.mode must be "network" or "user"`)
	}
	if c.Casambi.Identifier == "" {
		errs = append(errs, "casambi.identifier is required")
	}
	if c.Casambi.Secret == "" {
		errs = append(errs, "casambi.secret is required (set CASAMBRIDGE_CASAMBI_SECRET)")
	}
	if c.Casambi.KeepaliveInterval <= 0 {
		errs = append(errs, "casambi.keepalive_interval must be positive")
	}
	if c.Casambi.ReconnectDelay <= 0 {
		errs = append(errs, "casambi.reconnect_delay must be positive")
	}

	if c.Reconcile.DebounceMS < 0 || c.Reconcile.SuppressMS < 0 {
		errs = append(errs, "reconcile windows must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// Tokens signed with a guessable secret are worse than no auth:
		// they look authenticated while being forgeable.
		const minSecretLength = 32
		if c.API.Auth.Enabled && len(c.API.Auth.Secret) < minSecretLength {
			errs = append(errs, "api.auth.secret must be at least 32 characters (set CASAMBRIDGE_API_JWT_SECRET)")
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHealthInterval returns the bridge health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetKeepaliveInterval returns the liveness probe interval as a Duration.
func (c *CasambiConfig) GetKeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveInterval) * time.Second
}

// GetWatchdogTimeout returns probe interval plus grace as a Duration.
func (c *CasambiConfig) GetWatchdogTimeout() time.Duration {
	return time.Duration(c.KeepaliveInterval+c.WatchdogGrace) * time.Second
}

// GetReconnectDelay returns the fixed reconnect delay as a Duration.
func (c *CasambiConfig) GetReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelay) * time.Second
}

// GetLoginRetryCooldown returns the transient login retry cooldown as a Duration.
func (c *CasambiConfig) GetLoginRetryCooldown() time.Duration {
	return time.Duration(c.LoginRetryCooldown) * time.Second
}

// GetDebounceWindow returns the debounce window as a Duration.
func (c *ReconcileConfig) GetDebounceWindow() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// GetSuppressWindow returns the echo suppression window as a Duration.
func (c *ReconcileConfig) GetSuppressWindow() time.Duration {
	return time.Duration(c.SuppressMS) * time.Millisecond
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
