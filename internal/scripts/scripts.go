// Package scripts embeds the default change-scripts applied to every tenant store.
package scripts

import "embed"

// FS holds the core set and one directory per module under modules/.
//
//go:embed core modules
var FS embed.FS
