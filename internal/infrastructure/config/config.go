package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SHQ Link.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Link     LinkConfig     `yaml:"link"`
	Devices  DevicesConfig  `yaml:"devices"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// LinkConfig contains connection-management settings shared by every
// supervised device link. Zero values apply the layer's defaults.
type LinkConfig struct {
	// ReconnectDelay is the fixed pause before reconnect attempts (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`

	// ResponseTimeout is how long a command waits for its reply (seconds).
	ResponseTimeout int `yaml:"response_timeout"`

	// AvailabilityWindow is the maximum traffic age before a device counts
	// as unavailable (seconds).
	AvailabilityWindow int `yaml:"availability_window"`

	// AvailabilityInterval is the liveness evaluation cadence (seconds).
	AvailabilityInterval int `yaml:"availability_interval"`
}

// DevicesConfig enumerates the devices this instance manages.
type DevicesConfig struct {
	Doors    []DoorDeviceConfig    `yaml:"doors"`
	Displays []DisplayDeviceConfig `yaml:"displays"`
	Climate  ClimateConfig         `yaml:"climate"`
}

// DoorDeviceConfig identifies one door-automation controller.
type DoorDeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DisplayDeviceConfig identifies one kiosk-display controller.
type DisplayDeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ClimateConfig contains vendor cloud API settings for the AC system.
type ClimateConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	RefreshToken string `yaml:"refresh_token"`
	Serial       string `yaml:"serial"`

	// PollInterval is how often status is fetched (seconds).
	PollInterval int `yaml:"poll_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SHQLINK_SECTION_KEY
// For example: SHQLINK_DATABASE_PATH, SHQLINK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "SHQ",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/shqlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "shqlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Link: LinkConfig{
			ReconnectDelay:       5,
			ResponseTimeout:      10,
			AvailabilityWindow:   30,
			AvailabilityInterval: 10,
		},
		Devices: DevicesConfig{
			Climate: ClimateConfig{
				PollInterval: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SHQLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SHQLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SHQLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SHQLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SHQLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SHQLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Climate cloud credentials (never commit these to config files)
	if v := os.Getenv("SHQLINK_CLIMATE_REFRESH_TOKEN"); v != "" {
		cfg.Devices.Climate.RefreshToken = v
	}
	if v := os.Getenv("SHQLINK_CLIMATE_CLIENT_ID"); v != "" {
		cfg.Devices.Climate.ClientID = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Device validation: IDs must be present and unique, endpoints complete.
	seen := make(map[string]bool)
	checkDevice := func(kind, id, host string, port int) {
		if id == "" {
			errs = append(errs, fmt.Sprintf("devices.%s: id is required", kind))
			return
		}
		if seen[id] {
			errs = append(errs, fmt.Sprintf("devices.%s: duplicate id %q", kind, id))
		}
		seen[id] = true
		if host == "" {
			errs = append(errs, fmt.Sprintf("devices.%s[%s]: host is required", kind, id))
		}
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("devices.%s[%s]: port must be between 1 and 65535", kind, id))
		}
	}
	for _, d := range c.Devices.Doors {
		checkDevice("doors", d.ID, d.Host, d.Port)
	}
	for _, d := range c.Devices.Displays {
		checkDevice("displays", d.ID, d.Host, d.Port)
	}

	if c.Devices.Climate.Enabled {
		if c.Devices.Climate.RefreshToken == "" {
			errs = append(errs, "devices.climate.refresh_token is required when climate is enabled (set SHQLINK_CLIMATE_REFRESH_TOKEN)")
		}
		if c.Devices.Climate.Serial == "" {
			errs = append(errs, "devices.climate.serial is required when climate is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReconnectDelay returns the link reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Link.ReconnectDelay) * time.Second
}

// GetResponseTimeout returns the link response timeout as a Duration.
func (c *Config) GetResponseTimeout() time.Duration {
	return time.Duration(c.Link.ResponseTimeout) * time.Second
}

// GetAvailabilityWindow returns the liveness window as a Duration.
func (c *Config) GetAvailabilityWindow() time.Duration {
	return time.Duration(c.Link.AvailabilityWindow) * time.Second
}

// GetAvailabilityInterval returns the liveness cadence as a Duration.
func (c *Config) GetAvailabilityInterval() time.Duration {
	return time.Duration(c.Link.AvailabilityInterval) * time.Second
}

// GetClimatePollInterval returns the cloud poll cadence as a Duration.
func (c *Config) GetClimatePollInterval() time.Duration {
	return time.Duration(c.Devices.Climate.PollInterval) * time.Second
}
