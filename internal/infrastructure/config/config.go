package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported database driver names, as registered with database/sql.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)
	DriverMySQL   = "mysql"   // github.com/go-sql-driver/mysql
	DriverPgx     = "pgx"     // github.com/jackc/pgx/v5/stdlib
	DriverDuckDB  = "duckdb"  // github.com/duckdb/duckdb-go/v2
)

// Config is the root configuration structure for persistd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Admin    AdminConfig    `yaml:"admin"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig selects the driver and tunes the connection pool.
//
// For the SQLite and DuckDB drivers Path names the database file. For MySQL
// and PostgreSQL either DSN is given verbatim or it is assembled from the
// Host/Port/User/Password/Name fields.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	// File-based drivers
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds

	// Server-based drivers
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`

	// Pool
	MaxOpenConns    int `yaml:"max_open_conns"`
	MaxIdleConns    int `yaml:"max_idle_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"` // seconds, 0 = unlimited

	// StatementCacheSize is the per-transaction prepared statement cache size.
	// 0 disables caching.
	StatementCacheSize int `yaml:"statement_cache_size"`

	// MigrationsDir overrides the embedded migrations with a directory on disk.
	MigrationsDir string `yaml:"migrations_dir"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

// MQTTConfig contains MQTT broker connection settings for event publishing.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// InfluxDBConfig contains InfluxDB connection settings for operation metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds

	// Tags are added to every point, e.g. {instance: ledger-1}.
	Tags map[string]string `yaml:"tags"`
}

// AdminConfig contains the admin HTTP server settings.
type AdminConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Host      string             `yaml:"host"`
	Port      int                `yaml:"port"`
	Timeouts  AdminTimeoutConfig `yaml:"timeouts"`
	JWT       JWTConfig          `yaml:"jwt"`
	WebSocket WebSocketConfig    `yaml:"websocket"`
}

// AdminTimeoutConfig contains HTTP timeout settings in seconds.
type AdminTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// JWTConfig contains the shared secret used to verify admin bearer tokens.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"` // minutes
}

// WebSocketConfig contains settings for the admin event stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MonitorConfig contains the periodic database health check settings.
type MonitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // robfig/cron expression, e.g. "@every 30s"
	Timeout  int    `yaml:"timeout"`  // seconds per check
}

// AuditConfig controls the transaction audit trail.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"` // queued entries before drops
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
// Environment variables follow the pattern: PERSIST_SECTION_KEY
// For example: PERSIST_DATABASE_DRIVER, PERSIST_ADMIN_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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
		Database: DatabaseConfig{
			Driver:             DriverSQLite3,
			Path:               "./data/persist.db",
			WALMode:            true,
			BusyTimeout:        5,
			MaxOpenConns:       10,
			MaxIdleConns:       2,
			StatementCacheSize: 16,
			AutoMigrate:        true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "persistd",
			},
			QoS:         1,
			TopicPrefix: "persist",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "persist",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Admin: AdminConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: AdminTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			JWT: JWTConfig{
				TokenTTL: 60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Monitor: MonitorConfig{
			Schedule: "@every 30s",
			Timeout:  5,
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PERSIST_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PERSIST_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PERSIST_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PERSIST_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PERSIST_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PERSIST_DATABASE_STATEMENT_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.StatementCacheSize = n
		}
	}

	// MQTT
	if v := os.Getenv("PERSIST_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PERSIST_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PERSIST_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("PERSIST_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Admin
	if v := os.Getenv("PERSIST_ADMIN_HOST"); v != "" {
		cfg.Admin.Host = v
	}
	if v := os.Getenv("PERSIST_ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = n
		}
	}
	if v := os.Getenv("PERSIST_JWT_SECRET"); v != "" {
		cfg.Admin.JWT.Secret = v
	}

	// Logging
	if v := os.Getenv("PERSIST_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	switch c.Database.Driver {
	case DriverSQLite3, DriverSQLite, DriverDuckDB:
		if c.Database.Path == "" && c.Database.DSN == "" {
			errs = append(errs, "database.path is required for file-based drivers")
		}
	case DriverMySQL, DriverPgx:
		if c.Database.DSN == "" && c.Database.Host == "" {
			errs = append(errs, "database.dsn or database.host is required for server drivers")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, "database pool sizes must not be negative")
	}
	if c.Database.StatementCacheSize < 0 {
		errs = append(errs, "database.statement_cache_size must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Admin validation - the JWT secret guards raw pool statistics and the
	// event stream, so it is required whenever the server is enabled.
	if c.Admin.Enabled {
		if c.Admin.Port < 1 || c.Admin.Port > 65535 {
			errs = append(errs, "admin.port must be between 1 and 65535")
		}
		const minJWTSecretLength = 32
		if c.Admin.JWT.Secret == "" {
			errs = append(errs, "admin.jwt.secret is required (set PERSIST_JWT_SECRET environment variable)")
		} else if len(c.Admin.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "admin.jwt.secret must be at least 32 characters for adequate security")
		}
		if c.Admin.WebSocket.PingInterval < 1 {
			errs = append(errs, "admin.websocket.ping_interval must be at least 1 second")
		}
		if c.Admin.WebSocket.PongTimeout < 1 {
			errs = append(errs, "admin.websocket.pong_timeout must be at least 1 second")
		}
	}

	// Monitor validation
	if c.Monitor.Enabled && strings.TrimSpace(c.Monitor.Schedule) == "" {
		errs = append(errs, "monitor.schedule is required when the monitor is enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		errs = append(errs, "audit.buffer_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the admin read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Admin.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the admin write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Admin.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the admin idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Admin.Timeouts.Idle) * time.Second
}

// GetConnMaxLifetime returns the pool connection lifetime as a Duration.
func (c *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}
