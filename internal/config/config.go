// Package config provides configuration loading and defaults for the
// xcodecord daemon.
//
// Configuration is loaded from a TOML file in the user's data directory.
// The package covers the Discord application, how the Xcode window is read,
// presence text templates, privacy controls, and daemon behavior.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/xcodecord/internal/atomicfile"
	"tools.zach/dev/xcodecord/internal/paths"
)

// DefaultDiscordAppID is the Discord application that owns the Xcode icon
// assets.
const DefaultDiscordAppID = "1217178081484079135"

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 1

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Discord holds Discord connection settings.
	Discord DiscordConfig `toml:"discord"`
	// Xcode holds the markers used to read the Xcode window.
	Xcode XcodeConfig `toml:"xcode"`
	// Display holds presence text templates.
	Display DisplayConfig `toml:"display"`
	// Privacy holds workspace and file hiding settings.
	Privacy PrivacyConfig `toml:"privacy"`
	// Behavior holds daemon timing settings.
	Behavior BehaviorConfig `toml:"behavior"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// DiscordConfig holds Discord connection settings.
type DiscordConfig struct {
	// AppID is the Discord application ID for Rich Presence.
	AppID string `toml:"app_id"`
}

// XcodeConfig describes how Xcode is found and how its accessibility tree is
// interpreted. The defaults match current Xcode releases.
type XcodeConfig struct {
	// BundleID identifies the Xcode process.
	BundleID string `toml:"bundle_id"`
	// WelcomeMarker is a substring of the welcome window's title.
	WelcomeMarker string `toml:"welcome_marker"`
	// TitleSeparator splits the window title; the workspace is the first part.
	TitleSeparator string `toml:"title_separator"`
	// EditedMarker is a substring of the title when the file has unsaved edits.
	EditedMarker string `toml:"edited_marker"`
	// SourceEditorDescription is the description of the source editor text area.
	SourceEditorDescription string `toml:"source_editor_description"`
	// AnnotationIdentifier is the identifier of inline diagnostic buttons.
	AnnotationIdentifier string `toml:"annotation_identifier"`
}

// DisplayConfig holds presence text templates.
type DisplayConfig struct {
	// Details is the top line while working (supports {workspace}).
	Details string `toml:"details"`
	// Editing is the status line for a file with unsaved edits (supports {file}, {issues}).
	Editing string `toml:"editing"`
	// Viewing is the status line for a saved file (supports {file}, {issues}).
	Viewing string `toml:"viewing"`
	// Idle is the status line when no source file is open.
	Idle string `toml:"idle"`
	// WelcomeDetails is the top line on the welcome screen.
	WelcomeDetails string `toml:"welcome_details"`
	// WelcomeState is the status line on the welcome screen.
	WelcomeState string `toml:"welcome_state"`
	// WelcomeLargeText is the icon hover text on the welcome screen.
	WelcomeLargeText string `toml:"welcome_large_text"`
	// DefaultIcon is the asset key used when no file icon applies.
	DefaultIcon string `toml:"default_icon"`
	// ErrorBadge renders the error count (supports {count}).
	ErrorBadge string `toml:"error_badge"`
	// WarningBadge renders the warning count (supports {count}).
	WarningBadge string `toml:"warning_badge"`
	// ShowElapsed shows the session elapsed timer.
	ShowElapsed bool `toml:"show_elapsed"`
	// ShowIssues appends the issue badge to the status line.
	ShowIssues bool `toml:"show_issues"`
}

// PrivacyConfig holds privacy settings for hiding workspace and file names.
type PrivacyConfig struct {
	// HideWorkspace replaces every workspace name with HiddenWorkspaceText.
	HideWorkspace bool `toml:"hide_workspace"`
	// HiddenWorkspaceText is shown instead of the workspace name.
	HiddenWorkspaceText string `toml:"hidden_workspace_text"`
	// HideFiles lists glob patterns matched against the open file's path.
	HideFiles []string `toml:"hide_files"`
	// HiddenFileText is shown instead of a hidden file's name.
	HiddenFileText string `toml:"hidden_file_text"`
}

// BehaviorConfig holds daemon behavior settings.
type BehaviorConfig struct {
	// PollIntervalSeconds is how often the Xcode window is read.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// PermissionTimeoutSeconds is how long to wait for the accessibility
	// grant before exiting. 0 waits forever.
	PermissionTimeoutSeconds int `toml:"permission_timeout_seconds"`
	// CheckUpdates enables the startup release check.
	CheckUpdates bool `toml:"check_updates"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Discord: DiscordConfig{
			AppID: DefaultDiscordAppID,
		},
		Xcode: XcodeConfig{
			BundleID:                "com.apple.dt.Xcode",
			WelcomeMarker:           "Welcome",
			TitleSeparator:          " — ",
			EditedMarker:            "— Edited",
			SourceEditorDescription: "Source Editor",
			AnnotationIdentifier:    "Line Annotation",
		},
		Display: DisplayConfig{
			Details:          "In {workspace}",
			Editing:          "Editing {file} {issues}",
			Viewing:          "Viewing {file} {issues}",
			Idle:             "Idling in Xcode",
			WelcomeDetails:   "In Welcome window",
			WelcomeState:     "Choosing a project",
			WelcomeLargeText: "Welcome to Xcode",
			DefaultIcon:      "xcode",
			ErrorBadge:       "⛔️{count}",
			WarningBadge:     "⚠️{count}",
			ShowElapsed:      true,
			ShowIssues:       true,
		},
		Privacy: PrivacyConfig{
			HideWorkspace:       false,
			HiddenWorkspaceText: "a project",
			HideFiles:           []string{},
			HiddenFileText:      "a file",
		},
		Behavior: BehaviorConfig{
			PollIntervalSeconds:      2,
			PermissionTimeoutSeconds: 120,
			CheckUpdates:             true,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing, zero, or unparsable.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil || v.Version == 0 {
		return 1
	}
	return v.Version
}

// Load reads and parses dataDir/config.toml. Keys missing from the file
// keep their defaults. If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML bytes on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	if v := PeekVersion(data); v > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", v, CurrentVersion)
	}

	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "key", key.String())
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Discord.AppID == "" {
		return errors.New("discord.app_id must not be empty")
	}

	if c.Xcode.BundleID == "" {
		return errors.New("xcode.bundle_id must not be empty")
	}
	if c.Xcode.TitleSeparator == "" {
		return errors.New("xcode.title_separator must not be empty")
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	if c.Behavior.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be > 0, got %d", c.Behavior.PollIntervalSeconds)
	}
	if c.Behavior.PermissionTimeoutSeconds < 0 {
		return fmt.Errorf("permission_timeout_seconds must be >= 0, got %d", c.Behavior.PermissionTimeoutSeconds)
	}

	required := []struct {
		key, tmpl, placeholder string
	}{
		{"display.details", c.Display.Details, "{workspace}"},
		{"display.editing", c.Display.Editing, "{file}"},
		{"display.viewing", c.Display.Viewing, "{file}"},
		{"display.error_badge", c.Display.ErrorBadge, "{count}"},
		{"display.warning_badge", c.Display.WarningBadge, "{count}"},
	}
	for _, r := range required {
		if !strings.Contains(r.tmpl, r.placeholder) {
			return fmt.Errorf("%s %q must contain %s", r.key, r.tmpl, r.placeholder)
		}
	}

	if c.Display.DefaultIcon == "" {
		return errors.New("display.default_icon must not be empty")
	}

	for _, pattern := range c.Privacy.HideFiles {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid privacy.hide_files pattern %q", pattern)
		}
	}

	return nil
}

// ///////////////////////////////////////////////
// Privacy Helpers
// ///////////////////////////////////////////////

// WorkspaceName returns the display name for a workspace, respecting
// privacy settings.
func (c *Config) WorkspaceName(name string) string {
	if c.Privacy.HideWorkspace {
		return c.Privacy.HiddenWorkspaceText
	}
	return name
}

// IsFileHidden reports whether the file at path matches any hide_files
// pattern. An empty path is never hidden.
func (c *Config) IsFileHidden(path string) bool {
	if path == "" {
		return false
	}
	for _, pattern := range c.Privacy.HideFiles {
		matched, err := doublestar.Match(pattern, path)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
