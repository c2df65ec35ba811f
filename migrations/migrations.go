// Package migrations embeds the SQL schema applied at startup.
package migrations

import "embed"

// FS holds the forward migrations, applied in file name order.
//
//go:embed *.up.sql
var FS embed.FS
