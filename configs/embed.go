// Package configs provides the embedded configuration template for specup.
//
// The template is embedded at build time with go:embed so it ships inside
// the binary for every distribution channel (go install, binary releases).
// `specup config init` writes it to ~/.specup/specup.yaml with "~"
// expanded to the user's home directory.
package configs

import _ "embed"

// ConfigTemplate is the annotated default configuration written by
// `specup config init`.
//
//go:embed specup.example.yaml
var ConfigTemplate string
