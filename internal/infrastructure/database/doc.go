// Package database opens database/sql pools for persistd and runs schema
// migrations.
//
// This package manages:
//   - Driver selection (sqlite3, sqlite, duckdb, mysql, pgx) and DSN building
//   - Connection pool limits and lifecycle
//   - Schema migrations from an fs.FS (embedded or a directory on disk)
//   - Health checks and pool statistics for the monitor and admin server
//
// Security Considerations:
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Server passwords should come from PERSIST_DATABASE_PASSWORD, not the file
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	factory, err := persist.NewManagerFactory(db)
//
// Migration Strategy:
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql. Each migration runs in its own transaction and is
// recorded in schema_migrations. The embedded migrations use SQLite syntax;
// point database.migrations_dir at driver-specific files for other engines.
package database
