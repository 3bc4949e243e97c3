// Package xcode infers what the developer is doing in Xcode by sampling its
// accessibility tree.
//
// Each [Extractor.Poll] reads the running Xcode process through an
// [ax.System], classifies the result into a [presence.State], and publishes
// it. Every attribute read may fail independently; a failed read degrades
// that one field and never aborts the poll.
package xcode

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/xcodecord/internal/ax"
	"tools.zach/dev/xcodecord/internal/config"
	"tools.zach/dev/xcodecord/internal/logger"
	"tools.zach/dev/xcodecord/internal/presence"
)

// ///////////////////////////////////////////////
// Extractor
// ///////////////////////////////////////////////

// session remembers the start of the working session for one Xcode process.
type session struct {
	pid   int
	start time.Time
}

// Extractor turns accessibility snapshots of Xcode into presence states.
// Poll is meant to be called from a single goroutine; State and SetConfig
// may be called from any goroutine.
type Extractor struct {
	sys      ax.System
	notifier *presence.Notifier
	now      func() time.Time
	// session is only touched by Poll.
	session *session

	mu    sync.Mutex
	cfg   config.XcodeConfig
	state presence.State
}

// New returns an Extractor that reads Xcode through sys and publishes every
// classified state to n. The initial state is [presence.KindNoWindows].
func New(sys ax.System, cfg config.XcodeConfig, n *presence.Notifier) *Extractor {
	return &Extractor{
		sys:      sys,
		notifier: n,
		now:      time.Now,
		cfg:      cfg,
		state:    presence.NoWindowsState(),
	}
}

// SetConfig replaces the markers used by subsequent polls.
func (e *Extractor) SetConfig(cfg config.XcodeConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// State returns the most recently classified state.
func (e *Extractor) State() presence.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Poll samples Xcode once and publishes the resulting state. It returns
// false without touching the current state when the accessibility
// permission is missing, the application element cannot be created, or the
// backend panicked.
func (e *Extractor) Poll() (polled bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("poll panicked, keeping previous state", "error", r)
			polled = false
		}
	}()

	if !e.sys.Trusted(false) {
		logger.Trace(slog.Default(), "poll skipped, accessibility not trusted")
		return false
	}

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	s, ok := e.classify(cfg)
	if !ok {
		return false
	}

	e.mu.Lock()
	e.state = s
	e.mu.Unlock()

	logger.Trace(slog.Default(), "poll classified", "kind", s.Kind())
	if e.notifier != nil {
		e.notifier.Publish(s)
	}
	return true
}

// classify runs one read of the Xcode tree. ok is false when nothing could
// be read at all.
func (e *Extractor) classify(cfg config.XcodeConfig) (s presence.State, ok bool) {
	proc, running := e.sys.Running(cfg.BundleID)
	if !running {
		e.forgetSession()
		return presence.NotRunningState(), true
	}
	if e.session != nil && e.session.pid != proc.PID {
		e.forgetSession()
	}

	app, err := e.sys.Application(proc)
	if err != nil {
		slog.Debug("application element unavailable", "pid", proc.PID, "error", err)
		return presence.State{}, false
	}

	mainWin, hasMain := ax.Ref(app, ax.AttrMainWindow)
	windows, listed := ax.List(app, ax.AttrWindows)
	if !hasMain && listed && len(windows) == 0 {
		return presence.NoWindowsState(), true
	}

	focused, _ := ax.Ref(app, ax.AttrFocusedWindow)
	if title, ok := ax.String(focused, ax.AttrTitle); ok && cfg.WelcomeMarker != "" && strings.Contains(title, cfg.WelcomeMarker) {
		return presence.WelcomeState(), true
	}

	w := presence.Working{}
	if title, ok := ax.String(mainWin, ax.AttrTitle); ok {
		w.Workspace = Workspace(title, cfg.TitleSeparator)
		w.Editing = cfg.EditedMarker != "" && strings.Contains(title, cfg.EditedMarker)
	}
	if doc, ok := ax.String(mainWin, ax.AttrDocument); ok {
		w.EditorFile = strings.TrimPrefix(doc, "file://")
	}

	w.Errors, w.Warnings, w.Issues = countIssues(focused, cfg)
	w.SessionStart = e.sessionStart(proc)

	logger.Trace(slog.Default(), "working state",
		"workspace", w.Workspace, "file", w.EditorFile, "editing", w.Editing,
		"errors", w.Errors, "warnings", w.Warnings, "issues", w.Issues)
	return presence.WorkingState(w), true
}

// sessionStart returns the start of the current working session, carrying
// it across polls for the same Xcode process.
func (e *Extractor) sessionStart(proc ax.Process) time.Time {
	if e.session != nil && e.session.pid == proc.PID {
		return e.session.start
	}
	start := proc.Launched
	if start.IsZero() {
		start = e.now()
	}
	e.session = &session{pid: proc.PID, start: start}
	return start
}

func (e *Extractor) forgetSession() {
	e.session = nil
}

// ///////////////////////////////////////////////
// Title and Diagnostics
// ///////////////////////////////////////////////

// Workspace returns the workspace name from a main window title: the text
// before the first separator, trimmed.
func Workspace(title, sep string) string {
	if sep != "" {
		title, _, _ = strings.Cut(title, sep)
	}
	return strings.TrimSpace(title)
}

// Classify counts annotation descriptions. A description starting with
// "Warning" is a warning (including runtime issues), one starting with
// "Error" is an error, and anything else only adds to the total.
func Classify(descriptions []string) (errors, warnings, total int) {
	for _, d := range descriptions {
		switch {
		case strings.HasPrefix(d, "Warning"):
			warnings++
		case strings.HasPrefix(d, "Error"):
			errors++
		}
	}
	return errors, warnings, len(descriptions)
}

// countIssues finds the source editor under window and classifies its line
// annotations. No editor means no issues.
func countIssues(window ax.Element, cfg config.XcodeConfig) (errors, warnings, total int) {
	if window == nil {
		return 0, 0, 0
	}
	editor, ok := ax.First(window, ax.All(
		ax.HasRole(ax.RoleTextArea),
		ax.HasString(ax.AttrDescription, cfg.SourceEditorDescription),
	))
	if !ok {
		return 0, 0, 0
	}
	annotations := ax.Filter(editor, ax.All(
		ax.HasRole(ax.RoleButton),
		ax.HasString(ax.AttrIdentifier, cfg.AnnotationIdentifier),
	))
	descs := make([]string, len(annotations))
	for i, a := range annotations {
		descs[i], _ = ax.String(a, ax.AttrDescription)
	}
	return Classify(descs)
}
