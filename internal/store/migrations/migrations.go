// Package migrations embeds the cache database schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
