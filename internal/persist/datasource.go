package persist

import (
	"context"
	"database/sql"
)

// DataSource is the connection acquisition capability the persist package needs.
//
// *sql.DB satisfies it, as do wrappers that embed one (database.DB, sqlx.DB).
// The returned connection is owned by the caller of Conn and must be closed;
// the persist package always does so before returning.
type DataSource interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Compile-time verification that *sql.DB satisfies DataSource.
var _ DataSource = (*sql.DB)(nil)

// Logger is the logging capability used by managers.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything; used until SetLogger is called.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
