// Package db embeds the schema migrations applied by `fern migrate`.
package db

import "embed"

// MigrationsDir is the directory inside Migrations holding the *.sql files
const MigrationsDir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS
