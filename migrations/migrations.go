// Package migrations carries the SQL schema migrations for rootline.
//
// Migration files follow the strict naming convention NNN_name.(up|down).sql
// and are embedded at build time, so binaries that apply them never depend on
// an external source tree. cmd/migrator validates the set (filename format,
// up/down pairing, sequence continuity, checksums) before touching a database.
package migrations

import "embed"

// Files holds every packaged migration. The pattern matches only .sql files
// so stray artifacts in this directory never reach the database.
//
//go:embed *.sql
var Files embed.FS
