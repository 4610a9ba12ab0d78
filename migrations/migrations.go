// Package migrations embeds the SQL schema migrations applied by goose.
package migrations

import "embed"

// FS holds migrations per dialect directory: sqlite/ for the local store, postgres/ for the
// self-hosted document store.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
