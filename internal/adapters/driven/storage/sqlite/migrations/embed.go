// Package migrations embeds the append-only schema migration SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
