package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "display.editing")
// to their [FieldDoc] entries. Every leaf field of [Config] has an entry;
// the config tests enforce this.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Discord ──────────────────────────────────────────────────
	"discord.app_id": {
		Comment: "Application ID for Discord Rich Presence.\nOverride with your own Discord app if you want custom file icons.",
	},

	// ── Xcode ────────────────────────────────────────────────────
	"xcode.bundle_id": {
		Comment: "How Xcode is found and read. Only change these if a new Xcode release\nrenames its windows or editor elements.",
		Alternatives: []string{
			`bundle_id = "com.apple.dt.Xcode-beta"`,
		},
	},
	"xcode.welcome_marker": {
		Comment: "Substring of the focused window title that marks the welcome screen.",
	},
	"xcode.title_separator": {
		Comment: "Separator in the window title; the workspace name is the text before it.",
	},
	"xcode.edited_marker": {
		Comment: "Substring of the window title shown while the file has unsaved edits.",
	},
	"xcode.source_editor_description": {
		Comment: "Accessibility description of the source editor text area.",
	},
	"xcode.annotation_identifier": {
		Comment: "Accessibility identifier of inline error and warning annotations.",
	},

	// ── Display ──────────────────────────────────────────────────
	"display.details": {
		Comment: "Format strings for the presence card.\n  details: {workspace}\n  editing, viewing: {file}, {issues}\n\ndetails = top line, editing/viewing/idle = bottom line",
	},
	"display.editing": {},
	"display.viewing": {},
	"display.idle": {
		Comment: "Bottom line when no source file is open (only the project is selected).",
	},
	"display.welcome_details": {
		Comment: "Shown while the Xcode welcome window is focused.",
	},
	"display.welcome_state":      {},
	"display.welcome_large_text": {},
	"display.default_icon": {
		Comment: "Discord image key used when the open file has no icon of its own.\nMust match an asset uploaded to your Discord app.",
	},
	"display.error_badge": {
		Comment: "Issue badges appended as {issues}. {count} is replaced with the number.\nErrors take priority; the warning badge counts every non-error issue.",
		Alternatives: []string{
			`error_badge = "{count} errors"`,
		},
	},
	"display.warning_badge": {
		Alternatives: []string{
			`warning_badge = "{count} warnings"`,
		},
	},
	"display.show_elapsed": {
		Comment: "Show the elapsed session timer. The session starts when Xcode launches\nand survives closing and reopening project windows.",
	},
	"display.show_issues": {
		Comment: "Append the error/warning badge to the bottom line.",
	},

	// ── Privacy ──────────────────────────────────────────────────
	"privacy.hide_workspace": {
		Comment: "Replace the workspace name with generic text in the presence card.",
	},
	"privacy.hidden_workspace_text": {
		Comment: "Text shown instead of the real workspace name when hide_workspace is true.",
	},
	"privacy.hide_files": {
		Comment: "Files whose names are never shown. Absolute paths, ** glob patterns supported.",
		Alternatives: []string{
			`hide_files = [`,
			`  "/Users/me/work/**",`,
			`  "/Users/**/Secrets.swift",`,
			`]`,
		},
	},
	"privacy.hidden_file_text": {
		Comment: "Text shown instead of a hidden file's name.",
	},

	// ── Behavior ─────────────────────────────────────────────────
	"behavior.poll_interval_seconds": {
		Comment: "How often to read the Xcode window (seconds).",
	},
	"behavior.permission_timeout_seconds": {
		Comment: "How long to wait for the Accessibility permission before exiting (seconds).\n0 waits forever.",
	},
	"behavior.check_updates": {
		Comment: "Check for a newer release at startup and log it.",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log": {
		Comment: "Logging configuration",
	},
	"log.level": {
		Comment: "Minimum log level. Options: \"trace\", \"debug\", \"info\", \"warn\", \"error\"",
		Alternatives: []string{
			`level = "debug"`,
			`level = "warn"`,
		},
	},
	"log.max_size_mb": {
		Comment: "Maximum log file size in megabytes before rotation.",
	},
}
