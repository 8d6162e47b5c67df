// Package migrations embeds the session schema, applied at boot when a
// Postgres store is configured.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
