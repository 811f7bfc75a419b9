// Package migrations embeds the sample ledger schema into the binary.
//
// persistd can run migrations without the SQL files present on the
// filesystem; a database.migrations_dir setting replaces them at runtime.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
