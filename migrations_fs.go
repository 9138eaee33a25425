package crmsync

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the crm_events, crm_grade_queue and crm_settings schema,
// with sqlite alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
