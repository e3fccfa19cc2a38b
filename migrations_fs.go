package marketauth

import (
	"embed"
	"fmt"
	"io/fs"
)

// migrationsFS contains the SQL migration tree, including the sqlite dialect
// alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// GetPostgresMigrationsFS returns the postgres migration files rooted so a
// persistence client can register them directly.
func GetPostgresMigrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("marketauth: resolve postgres migrations: %w", err)
	}
	return sub, nil
}

// GetSQLiteMigrationsFS returns the sqlite migration files rooted so a
// persistence client can register them directly.
func GetSQLiteMigrationsFS() (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations/sqlite")
	if err != nil {
		return nil, fmt.Errorf("marketauth: resolve sqlite migrations: %w", err)
	}
	return sub, nil
}
