// Package migrations embeds the goose SQL migrations for the auth schema.
// Files follow goose's NNNNN_name.sql naming and apply in that order.
package migrations

import "embed"

// Migrations holds every .sql file in this directory; the repository manager
// hands it to goose at startup.
//
//go:embed *.sql
var Migrations embed.FS
