package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver ("duckdb")
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3" // SQLite driver ("sqlite3", cgo)
	_ "modernc.org/sqlite"          // SQLite driver ("sqlite", pure Go)

	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
)

// Database configuration constants.
const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute

	// Default server ports when Config.Port is 0.
	defaultMySQLPort    = 3306
	defaultPostgresPort = 5432
)

// DB wraps a sql.DB connection with driver-aware helpers.
// It provides migration support, health checks, and proper lifecycle management.
//
// DB satisfies persist.DataSource through the embedded *sql.DB.
type DB struct {
	*sql.DB
	driver string
	path   string
}

// Config contains database configuration options.
// These map to the database section of the YAML config.
type Config struct {
	// Driver is the database/sql driver name (see config.Driver* constants).
	// Empty means sqlite3.
	Driver string

	// DSN is passed to the driver verbatim when set. Otherwise one is built
	// from the remaining fields.
	DSN string

	// Path is the filesystem path to the SQLite or DuckDB database file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging for SQLite.
	// Recommended: true (allows concurrent reads during writes).
	WALMode bool

	// BusyTimeout is the maximum time to wait for a SQLite lock (seconds).
	BusyTimeout int

	// Server connection settings for MySQL and PostgreSQL.
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Pool settings. Zero leaves the database/sql default.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConfigFrom maps the YAML database section onto a Config.
func ConfigFrom(c config.DatabaseConfig) Config {
	return Config{
		Driver:          c.Driver,
		DSN:             c.DSN,
		Path:            c.Path,
		WALMode:         c.WALMode,
		BusyTimeout:     c.BusyTimeout,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Name:            c.Name,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.GetConnMaxLifetime(),
	}
}

// Open creates a new database connection with the specified configuration.
//
// It performs the following setup:
//  1. Creates the database directory for file-based drivers
//  2. Builds the driver DSN (pragmas for SQLite, params for MySQL)
//  3. Opens the pool and applies pool limits
//  4. Verifies the connection with a ping
//  5. Sets file permissions (0600) for file-based drivers
//
// Parameters:
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If the driver is unknown or connection fails
func Open(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = config.DriverSQLite3
	}

	if isFileDriver(cfg.Driver) && cfg.DSN == "" && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := openPool(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	db := &DB{
		DB:     sqlDB,
		driver: cfg.Driver,
		path:   cfg.Path,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying %s connection: %w", cfg.Driver, err)
	}

	if isFileDriver(cfg.Driver) && cfg.Path != "" {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may not exist until first write
	}

	return db, nil
}

// openPool opens the *sql.DB for cfg.Driver.
func openPool(cfg Config) (*sql.DB, error) {
	if cfg.Driver == config.DriverPgx {
		connStr := cfg.DSN
		if connStr == "" {
			connStr = postgresDSN(cfg)
		}
		pgCfg, err := pgx.ParseConfig(connStr)
		if err != nil {
			return nil, fmt.Errorf("parsing postgres DSN: %w", err)
		}
		return stdlib.OpenDB(*pgCfg), nil
	}

	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return sqlDB, nil
}

// BuildDSN returns the data source name for cfg.
//
// An explicit cfg.DSN always wins. Otherwise:
//   - sqlite3: file URI with _busy_timeout, _foreign_keys and WAL pragmas
//   - sqlite: file URI with _pragma=busy_timeout(ms) style pragmas
//   - duckdb: the file path ("" for an in-memory database)
//   - mysql: go-sql-driver DSN with multiStatements and UTC time parsing
//   - pgx: postgres:// URL
//
// Returns:
//   - string: driver DSN
//   - error: if the driver is not supported
func BuildDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	switch cfg.Driver {
	case config.DriverSQLite3, "":
		// See: https://github.com/mattn/go-sqlite3#connection-string
		dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
			cfg.Path,
			cfg.BusyTimeout*msPerSecond,
		)
		if cfg.WALMode {
			dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
		}
		return dsn, nil

	case config.DriverSQLite:
		params := url.Values{}
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout*msPerSecond))
		params.Add("_pragma", "foreign_keys(1)")
		if cfg.WALMode {
			params.Add("_pragma", "journal_mode(WAL)")
			params.Add("_pragma", "synchronous(NORMAL)")
		}
		return "file:" + cfg.Path + "?" + params.Encode(), nil

	case config.DriverDuckDB:
		return cfg.Path, nil

	case config.DriverMySQL:
		return mysqlDSN(cfg), nil

	case config.DriverPgx:
		return postgresDSN(cfg), nil

	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// mysqlDSN builds a go-sql-driver DSN. Migrations are multi-statement files,
// so multiStatements is always enabled.
func mysqlDSN(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = defaultMySQLPort
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.MultiStatements = true
	mc.Collation = "utf8mb4_general_ci"
	mc.Params = map[string]string{
		"time_zone": "'+00:00'",
	}
	return mc.FormatDSN()
}

// postgresDSN builds a postgres:// URL understood by pgx.ParseConfig.
func postgresDSN(cfg Config) string {
	port := cfg.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

// isFileDriver reports whether driver stores its data in a local file.
func isFileDriver(driver string) bool {
	switch driver {
	case config.DriverSQLite3, config.DriverSQLite, config.DriverDuckDB:
		return true
	default:
		return false
	}
}

// Close closes the database connection gracefully.
// It should be called when the application shuts down.
//
// Returns:
//   - error: If closing fails
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file, or "" for server drivers.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name.
func (db *DB) Driver() string {
	return db.driver
}

// HealthCheck verifies the database is accessible and functioning.
// It performs a simple query to ensure the connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Stats returns database connection pool statistics.
// Useful for monitoring and debugging connection issues.
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// ExecContext executes a query that doesn't return rows (INSERT, UPDATE, DELETE).
// This is a convenience wrapper that provides consistent error handling.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// BeginTx starts a new transaction with the given options.
// Migrations use it directly; application writes go through persist.Transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
