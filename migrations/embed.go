// Package migrations carries the SQL schema files inside the binary so
// deployments never depend on loose .sql files next to the executable.
package migrations

import (
	"embed"

	"github.com/nerrad567/shq-link/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
