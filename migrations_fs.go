package billingwebhooks

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the SQL schema for the durable stores, with dialect
// alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// GetCoreMigrationsFS returns the schema migrations for the processed-event
// tracker and audit tables.
func GetCoreMigrationsFS() fs.FS {
	return migrationsFS
}
