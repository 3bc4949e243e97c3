// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile        = "daemon.pid"
	ConfigFile     = "config.toml"
	LogFile        = "daemon.log"
	IconsCacheFile = "icons-cache.json"
	SnapshotFile   = "snapshot.yaml"
)

const (
	BinaryName = "xcodecord"
	DataDirRel = ".xcodecord" // relative to $HOME
)

// Remote-fetched file paths (relative to repo root).
const (
	IconsDataPath   = "data/icons.json"
	ReleaseManifest = ".release-manifest.json"
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// IconsCache returns the full path to the cached icon manifest.
func (d DataDir) IconsCache() string { return filepath.Join(d.Root, IconsCacheFile) }

// Snapshot returns the default path written by the dump command.
func (d DataDir) Snapshot() string { return filepath.Join(d.Root, SnapshotFile) }
