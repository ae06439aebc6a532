// Package web provides the embedded static assets served at / and /static/.
package web

import "embed"

// StaticFS contains the page, script and stylesheet.
//
//go:embed all:static
var StaticFS embed.FS
