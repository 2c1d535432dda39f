// Package migrations embeds the goose SQL migrations for the settlement
// ledger store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
