// Package xcodecord provides embedded assets for the xcodecord daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML], which the daemon copies to the data directory on
// first run.
package xcodecord

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, generated by
// cmd/genconfig and embedded at build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
