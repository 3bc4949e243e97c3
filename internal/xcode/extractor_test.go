// Tests for the Xcode state extractor: classification of each state,
// diagnostic counting, session continuity across polls, and failure
// handling. Xcode is simulated with [ax.Snapshot] trees.
package xcode

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
	"tools.zach/dev/xcodecord/internal/ax"
	"tools.zach/dev/xcodecord/internal/config"
	"tools.zach/dev/xcodecord/internal/presence"
)

const bundleID = "com.apple.dt.Xcode"

var (
	launched = time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)
	fakeNow  = time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)
)

// projectWindow builds a project window whose source editor holds one line
// annotation per description, nested a few levels deep the way Xcode does.
func projectWindow(title, doc string, annotations ...string) *ax.Node {
	var buttons []*ax.Node
	for _, d := range annotations {
		buttons = append(buttons, &ax.Node{
			Role:        string(ax.RoleButton),
			Identifier:  "Line Annotation",
			Description: d,
		})
	}
	editor := &ax.Node{
		Role:        string(ax.RoleTextArea),
		Description: "Source Editor",
		Children: []*ax.Node{
			{Role: string(ax.RoleGroup), Children: buttons},
		},
	}
	return &ax.Node{
		Role:     string(ax.RoleWindow),
		Title:    title,
		Document: doc,
		Children: []*ax.Node{
			{Role: string(ax.RoleGroup), Children: []*ax.Node{
				// A toolbar button that must not be counted.
				{Role: string(ax.RoleButton), Identifier: "Run"},
				{Role: string(ax.RoleGroup), Children: []*ax.Node{editor}},
			}},
		},
	}
}

// running returns a snapshot of a running Xcode with w as the main and
// focused window.
func running(pid int, w *ax.Node) *ax.Snapshot {
	s := &ax.Snapshot{Process: &ax.SnapshotProcess{PID: pid, BundleID: bundleID, Launched: launched}}
	if w != nil {
		s.Windows = []*ax.Node{w}
		s.MainWindow = w
		s.FocusedWindow = w
	}
	return s
}

// switchable is an [ax.System] whose backing snapshot can be swapped
// between polls.
type switchable struct{ cur *ax.Snapshot }

func (s *switchable) Trusted(p bool) bool { return s.cur.Trusted(p) }
func (s *switchable) Running(id string) (ax.Process, bool) { return s.cur.Running(id) }
func (s *switchable) Application(p ax.Process) (ax.Element, error) { return s.cur.Application(p) }

func newExtractor(snap *ax.Snapshot) (*Extractor, *switchable, *[]presence.State) {
	sys := &switchable{cur: snap}
	var n presence.Notifier
	var published []presence.State
	n.Subscribe(func(s presence.State) { published = append(published, s) })
	e := New(sys, config.DefaultConfig().Xcode, &n)
	e.now = func() time.Time { return fakeNow }
	return e, sys, &published
}

// ///////////////////////////////////////////////
// Classification
// ///////////////////////////////////////////////

func TestPollClassification(t *testing.T) {
	tests := []struct {
		name string
		snap *ax.Snapshot
		want presence.State
	}{
		{
			name: "not running",
			snap: &ax.Snapshot{},
			want: presence.NotRunningState(),
		},
		{
			name: "other app running",
			snap: &ax.Snapshot{Process: &ax.SnapshotProcess{PID: 5, BundleID: "com.example.Other"}},
			want: presence.NotRunningState(),
		},
		{
			name: "no windows",
			snap: running(10, nil),
			want: presence.NoWindowsState(),
		},
		{
			name: "welcome screen",
			snap: running(10, &ax.Node{Role: string(ax.RoleWindow), Title: "Welcome to Xcode"}),
			want: presence.WelcomeState(),
		},
		{
			name: "editing a file",
			snap: running(10, projectWindow(
				"App — ContentView.swift — Edited",
				"file:///Users/dev/App/ContentView.swift",
			)),
			want: presence.WorkingState(presence.Working{
				Workspace:    "App",
				EditorFile:   "/Users/dev/App/ContentView.swift",
				Editing:      true,
				SessionStart: launched,
			}),
		},
		{
			name: "viewing with diagnostics",
			snap: running(10, projectWindow(
				"App — main.swift",
				"file:///Users/dev/App/main.swift",
				"Warning: foo", "Warning: Runtime Issue bar", "Error: baz", "Note: qux",
			)),
			want: presence.WorkingState(presence.Working{
				Workspace:    "App",
				EditorFile:   "/Users/dev/App/main.swift",
				SessionStart: launched,
				Errors:       1,
				Warnings:     2,
				Issues:       4,
			}),
		},
		{
			name: "project selected without document",
			snap: running(10, &ax.Node{Role: string(ax.RoleWindow), Title: "App"}),
			want: presence.WorkingState(presence.Working{Workspace: "App", SessionStart: launched}),
		},
		{
			name: "unreadable window list with main window missing",
			snap: func() *ax.Snapshot {
				s := running(10, nil)
				s.WindowsUnreadable = true
				return s
			}(),
			want: presence.WorkingState(presence.Working{SessionStart: launched}),
		},
		{
			name: "unreadable main window degrades fields",
			snap: running(10, &ax.Node{Role: string(ax.RoleWindow), Title: "App — a.swift", Unreadable: true}),
			want: presence.WorkingState(presence.Working{SessionStart: launched}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, published := newExtractor(tt.snap)
			if !e.Poll() {
				t.Fatal("Poll() = false, want true")
			}
			got := e.State()
			if !got.Equal(tt.want) {
				gw, _ := got.Work()
				ww, _ := tt.want.Work()
				t.Errorf("state = %v %+v, want %v %+v", got.Kind(), gw, tt.want.Kind(), ww)
			}
			if len(*published) != 1 || !(*published)[0].Equal(got) {
				t.Errorf("published %d states, want exactly the polled one", len(*published))
			}
		})
	}
}

func TestPollWelcomeUsesFocusedWindow(t *testing.T) {
	project := projectWindow("App — main.swift", "file:///Users/dev/App/main.swift")
	welcome := &ax.Node{Role: string(ax.RoleWindow), Title: "Welcome to Xcode"}
	snap := running(10, project)
	snap.Windows = append(snap.Windows, welcome)
	snap.FocusedWindow = welcome

	e, _, _ := newExtractor(snap)
	e.Poll()
	if k := e.State().Kind(); k != presence.KindWelcome {
		t.Errorf("kind = %v, want welcome", k)
	}

	snap.FocusedWindow = project
	e.Poll()
	if k := e.State().Kind(); k != presence.KindWorking {
		t.Errorf("kind = %v, want working after focus returns", k)
	}
}

func TestPollEditorOutsideFocusedWindow(t *testing.T) {
	project := projectWindow("App — main.swift", "file:///Users/dev/App/main.swift", "Error: x")
	other := &ax.Node{Role: string(ax.RoleWindow), Title: "Organizer"}
	snap := running(10, project)
	snap.FocusedWindow = other

	e, _, _ := newExtractor(snap)
	e.Poll()
	w, ok := e.State().Work()
	if !ok {
		t.Fatalf("kind = %v, want working", e.State().Kind())
	}
	if w.Issues != 0 {
		t.Errorf("Issues = %d, want 0 when the focused window has no editor", w.Issues)
	}
	if w.Workspace != "App" {
		t.Errorf("Workspace = %q, want main window's workspace", w.Workspace)
	}
}

// ///////////////////////////////////////////////
// Session Continuity
// ///////////////////////////////////////////////

func TestSessionCarriedAcrossNoWindows(t *testing.T) {
	win := projectWindow("App — main.swift", "file:///Users/dev/App/main.swift")
	e, sys, _ := newExtractor(running(10, win))
	e.now = func() time.Time { return fakeNow }
	sys.cur.Process.Launched = time.Time{}

	e.Poll()
	first, _ := e.State().Work()
	if !first.SessionStart.Equal(fakeNow) {
		t.Fatalf("SessionStart = %v, want now %v without launch time", first.SessionStart, fakeNow)
	}

	e.now = func() time.Time { return fakeNow.Add(time.Hour) }
	sys.cur = running(10, nil)
	e.Poll()
	if k := e.State().Kind(); k != presence.KindNoWindows {
		t.Fatalf("kind = %v, want no_windows", k)
	}

	sys.cur = running(10, win)
	e.Poll()
	again, _ := e.State().Work()
	if !again.SessionStart.Equal(first.SessionStart) {
		t.Errorf("SessionStart = %v, want carried %v", again.SessionStart, first.SessionStart)
	}
}

func TestSessionResetsAfterQuit(t *testing.T) {
	win := projectWindow("App — main.swift", "file:///Users/dev/App/main.swift")
	e, sys, _ := newExtractor(running(10, win))

	e.Poll()
	first, _ := e.State().Work()
	if !first.SessionStart.Equal(launched) {
		t.Fatalf("SessionStart = %v, want launch time", first.SessionStart)
	}

	sys.cur = &ax.Snapshot{}
	e.Poll()

	relaunched := launched.Add(2 * time.Hour)
	sys.cur = running(11, win)
	sys.cur.Process.Launched = relaunched
	e.Poll()
	second, _ := e.State().Work()
	if !second.SessionStart.Equal(relaunched) {
		t.Errorf("SessionStart = %v, want new launch time %v", second.SessionStart, relaunched)
	}
}

func TestSessionResetsOnPIDChange(t *testing.T) {
	win := projectWindow("App — main.swift", "file:///Users/dev/App/main.swift")
	e, sys, _ := newExtractor(running(10, win))
	e.Poll()

	// Xcode restarted between two polls without a not-running poll.
	sys.cur = running(20, win)
	sys.cur.Process.Launched = launched.Add(time.Minute)
	e.Poll()
	w, _ := e.State().Work()
	if !w.SessionStart.Equal(launched.Add(time.Minute)) {
		t.Errorf("SessionStart = %v, want new process launch time", w.SessionStart)
	}
}

func TestSessionStableAcrossWorkingPolls(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e, sys, _ := newExtractor(running(10, projectWindow("App — a.swift", "file:///a.swift")))
		e.Poll()
		start, _ := e.State().Work()

		n := rapid.IntRange(1, 20).Draw(t, "polls")
		for i := range n {
			file := rapid.SampledFrom([]string{"a.swift", "b.m", "App.xcodeproj"}).Draw(t, fmt.Sprintf("file%d", i))
			sys.cur = running(10, projectWindow("App — "+file, "file:///"+file))
			e.Poll()
			w, ok := e.State().Work()
			if !ok || !w.SessionStart.Equal(start.SessionStart) {
				t.Fatalf("poll %d: SessionStart = %v, want %v", i, w.SessionStart, start.SessionStart)
			}
		}
	})
}

// ///////////////////////////////////////////////
// Failures
// ///////////////////////////////////////////////

func TestPollUntrustedIsNoOp(t *testing.T) {
	snap := running(10, projectWindow("App — main.swift", "file:///main.swift"))
	snap.Untrusted = true
	e, _, published := newExtractor(snap)

	if e.Poll() {
		t.Error("Poll() = true without permission")
	}
	if k := e.State().Kind(); k != presence.KindNoWindows {
		t.Errorf("kind = %v, want initial no_windows", k)
	}
	if len(*published) != 0 {
		t.Errorf("published %d states, want 0", len(*published))
	}
}

func TestPollUntrustedFreezesState(t *testing.T) {
	e, sys, _ := newExtractor(running(10, projectWindow("App — main.swift", "file:///main.swift")))
	e.Poll()
	before := e.State()

	sys.cur = &ax.Snapshot{Untrusted: true}
	e.Poll()
	if !e.State().Equal(before) {
		t.Errorf("state changed while untrusted: %v", e.State().Kind())
	}
}

// panicSystem panics on every process lookup.
type panicSystem struct{}

func (panicSystem) Trusted(bool) bool { return true }
func (panicSystem) Running(string) (ax.Process, bool) { panic("backend exploded") }
func (panicSystem) Application(ax.Process) (ax.Element, error) { return nil, nil }

func TestPollRecoversPanic(t *testing.T) {
	e := New(panicSystem{}, config.DefaultConfig().Xcode, nil)
	if e.Poll() {
		t.Error("Poll() = true after panic")
	}
	if k := e.State().Kind(); k != presence.KindNoWindows {
		t.Errorf("kind = %v, want previous state", k)
	}
}

// noAppSystem runs Xcode but cannot create its application element.
type noAppSystem struct{}

func (noAppSystem) Trusted(bool) bool { return true }
func (noAppSystem) Running(string) (ax.Process, bool) {
	return ax.Process{PID: 1, BundleID: bundleID}, true
}
func (noAppSystem) Application(ax.Process) (ax.Element, error) {
	return nil, errors.New("no element")
}

func TestPollApplicationErrorKeepsState(t *testing.T) {
	e := New(noAppSystem{}, config.DefaultConfig().Xcode, nil)
	if e.Poll() {
		t.Error("Poll() = true without an application element")
	}
	if k := e.State().Kind(); k != presence.KindNoWindows {
		t.Errorf("kind = %v, want previous state", k)
	}
}

func TestSetConfig(t *testing.T) {
	e, _, _ := newExtractor(running(10, projectWindow("App | main.swift", "file:///main.swift")))
	cfg := config.DefaultConfig().Xcode
	cfg.TitleSeparator = " | "
	e.SetConfig(cfg)
	e.Poll()
	if w, _ := e.State().Work(); w.Workspace != "App" {
		t.Errorf("Workspace = %q, want %q with custom separator", w.Workspace, "App")
	}
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

func TestWorkspace(t *testing.T) {
	tests := []struct {
		title, want string
	}{
		{"App — main.swift — Edited", "App"},
		{"App", "App"},
		{"  Spaced App  — x", "Spaced App"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Workspace(tt.title, " — "); got != tt.want {
			t.Errorf("Workspace(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	errs, warns, total := Classify([]string{"Warning: foo", "Warning: Runtime Issue bar", "Error: baz", "Note: qux"})
	got := []int{errs, warns, total}
	if diff := cmp.Diff([]int{1, 2, 4}, got); diff != "" {
		t.Errorf("Classify mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		descs := rapid.SliceOf(rapid.SampledFrom([]string{
			"Warning: unused variable",
			"Warning: Runtime Issue: main thread",
			"Error: cannot find type",
			"Note: declared here",
			"",
		})).Draw(t, "descriptions")

		errs, warns, total := Classify(descs)
		if total != len(descs) {
			t.Fatalf("total = %d, want %d", total, len(descs))
		}
		if errs+warns > total {
			t.Fatalf("errors %d + warnings %d exceed total %d", errs, warns, total)
		}
		wantErrs := 0
		for _, d := range descs {
			if strings.HasPrefix(d, "Error") {
				wantErrs++
			}
		}
		if errs != wantErrs {
			t.Fatalf("errors = %d, want %d", errs, wantErrs)
		}
	})
}
