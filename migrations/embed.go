// Package migrations embeds the SQL migration files so they can be used
// by the database package without requiring the files on disk at runtime.
// Each supported engine has its own directory.
package migrations

import "embed"

// FS contains the embedded SQL migration files under postgres/ and sqlite/.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
