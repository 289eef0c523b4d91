// Package configs provides the embedded configuration template.
//
// The template is embedded at build time so it ships with every
// distribution of the binary. `sibyl init` writes it to disk as a
// starting point; every knob is annotated with its default.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `sibyl init`.
//
//go:embed config.example.yaml
var ConfigTemplate string
