// Package migrations holds the schema migrations of the score gateway.
// Each file registers one Go migration named after its file.
package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registered migration set.
var Migrations = migrate.NewMigrations()
