// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// FS holds the versioned migration files, applied via golang-migrate.
//
//go:embed *.sql
var FS embed.FS
