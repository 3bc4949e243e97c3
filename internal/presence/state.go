// Package presence holds the inferred IDE state and turns it into a Discord
// Rich Presence payload.
//
// The package provides three pieces:
//
//   - [State]: a tagged union over the mutually exclusive states the poller
//     can observe, with [Working] carrying project, file, and diagnostics.
//   - [Mapper]: a stateless mapping from [State] to [Payload], driven by the
//     display and privacy sections of the config.
//   - [Notifier]: one-directional change propagation from the poller to the
//     connection manager. States travel by value.
package presence

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// Kind identifies the variant held by a [State].
type Kind int

const (
	// KindNotRunning means the IDE process is absent.
	KindNotRunning Kind = iota
	// KindNoWindows means the IDE is running with zero windows.
	KindNoWindows
	// KindWelcome means the welcome window has focus.
	KindWelcome
	// KindWorking means a project window has focus.
	KindWorking
)

// String returns the short name used in logs.
func (k Kind) String() string {
	switch k {
	case KindNotRunning:
		return "not_running"
	case KindNoWindows:
		return "no_windows"
	case KindWelcome:
		return "welcome"
	case KindWorking:
		return "working"
	default:
		return "unknown"
	}
}

// State is one observed IDE state. The zero value is [KindNotRunning].
// Only a [KindWorking] state carries a [Working] value.
type State struct {
	kind Kind
	work Working
}

// NotRunningState returns the state for an absent IDE process.
func NotRunningState() State { return State{kind: KindNotRunning} }

// NoWindowsState returns the state for a running IDE with no windows.
func NoWindowsState() State { return State{kind: KindNoWindows} }

// WelcomeState returns the state for a focused welcome window.
func WelcomeState() State { return State{kind: KindWelcome} }

// WorkingState returns a working state holding w.
func WorkingState(w Working) State { return State{kind: KindWorking, work: w} }

// Kind returns the variant.
func (s State) Kind() Kind { return s.kind }

// Work returns the working detail. ok is false for every other variant.
func (s State) Work() (w Working, ok bool) {
	if s.kind != KindWorking {
		return Working{}, false
	}
	return s.work, true
}

// Active reports whether the state warrants a visible presence.
func (s State) Active() bool {
	return s.kind == KindWelcome || s.kind == KindWorking
}

// DisplayName is the human-readable name shown by the status command.
func (s State) DisplayName() string {
	switch s.kind {
	case KindNotRunning:
		return "Not open"
	case KindNoWindows:
		return "No active window"
	case KindWelcome:
		return "In the welcome screen"
	default:
		return "Working on a project"
	}
}

// Equal reports whether two states hold the same variant and detail.
func (s State) Equal(o State) bool {
	if s.kind != o.kind {
		return false
	}
	return s.kind != KindWorking || s.work.Equal(o.work)
}

// ///////////////////////////////////////////////
// Working
// ///////////////////////////////////////////////

// containerSuffixes mark a document that is the project itself rather than a
// source file.
var containerSuffixes = []string{".xcodeproj", ".xcworkspace"}

// Working describes a focused project window. Empty strings mean the value
// could not be read.
type Working struct {
	// Workspace is the project name taken from the window title.
	Workspace string `yaml:"workspace,omitempty"`
	// EditorFile is the path of the open document with any URL scheme removed.
	// It may still be percent-encoded.
	EditorFile string `yaml:"editor_file,omitempty"`
	// Editing is true when the title shows unsaved edits.
	Editing bool `yaml:"editing"`
	// SessionStart is when the current working session began.
	SessionStart time.Time `yaml:"session_start"`
	// Errors is the number of error annotations in the editor.
	Errors int `yaml:"errors"`
	// Warnings is the number of warning annotations in the editor.
	Warnings int `yaml:"warnings"`
	// Issues is the number of annotations of any kind.
	Issues int `yaml:"issues"`
}

// Equal reports whether two working values are the same.
func (w Working) Equal(o Working) bool {
	return w.Workspace == o.Workspace &&
		w.EditorFile == o.EditorFile &&
		w.Editing == o.Editing &&
		w.SessionStart.Equal(o.SessionStart) &&
		w.Errors == o.Errors &&
		w.Warnings == o.Warnings &&
		w.Issues == o.Issues
}

// baseName returns the decoded last path component of EditorFile.
func (w Working) baseName() string {
	if w.EditorFile == "" {
		return ""
	}
	base := path.Base(strings.TrimRight(w.EditorFile, "/"))
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// Idle reports whether no source file is open: either there is no document
// or the document is the project container itself.
func (w Working) Idle() bool {
	name := w.baseName()
	if name == "" {
		return true
	}
	for _, s := range containerSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// FileName returns the decoded file name, or "" when idle.
func (w Working) FileName() string {
	if w.Idle() {
		return ""
	}
	return w.baseName()
}

// FileExtension returns the lowercase text after the last "." of FileName,
// or "" when there is none.
func (w Working) FileExtension() string {
	name := w.FileName()
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// FilePath returns the decoded document path, or "" when idle.
func (w Working) FilePath() string {
	if w.Idle() {
		return ""
	}
	if decoded, err := url.PathUnescape(w.EditorFile); err == nil {
		return decoded
	}
	return w.EditorFile
}
