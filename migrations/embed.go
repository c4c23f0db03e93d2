// Package migrations embeds the SQL schema migrations into the binary.
//
// Pass FS to database.DB.Migrate at startup.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds the *.up.sql files in this directory.
var FS = files
