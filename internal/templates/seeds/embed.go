// Package seeds embeds the default verification templates.
package seeds

import "embed"

//go:embed *.yaml
var FS embed.FS
