// Package fs embeds static assets shipped with the binaries.
package fs

import "embed"

//go:embed migrations
var FS embed.FS
