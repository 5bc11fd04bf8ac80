// Package migrations embeds the goose SQL migrations for the job registry.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
