// Package templates embeds the default configuration and prompt templates.
package templates

import "embed"

//go:embed config.yaml prompts/*.tmpl
var FS embed.FS
