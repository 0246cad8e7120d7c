// Package migrations provides embedded SQL migrations for Goose.
package migrations

import "embed"

// FS embeds the migration files, one directory per SQL dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
