package resources

import (
	"embed"
)

//go:embed migrations
var FS embed.FS
