// Package migrations holds the embedded schema and reference data of the
// x-ray database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
