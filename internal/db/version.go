package db

import (
	"io/fs"

	"github.com/persistorai/seovault/internal/db/migrations"
)

// SchemaVersion returns the number of postgres migration files, which equals
// the current schema version. Both dialects are kept at the same version.
func SchemaVersion() int {
	entries, err := fs.ReadDir(migrations.Postgres(), ".")
	if err != nil {
		return 0
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			count++
		}
	}

	return count
}
