// Package web embeds the dashboard served by the API at "/".
//
// The dashboard is a single static page that reads /api/v1 and listens on
// /api/v1/ws for panel reloads.
package web

import (
	"embed"
	"io/fs"
	"log"
)

//go:embed all:static
var dist embed.FS

// DistFS returns a filesystem rooted at the embedded static/ directory.
// This is ready to use with http.FileServerFS or http.FS.
func DistFS() fs.FS {
	sub, err := fs.Sub(dist, "static")
	if err != nil {
		log.Fatalf("web.DistFS: %v", err)
	}
	return sub
}
