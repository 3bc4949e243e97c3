package ax

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// errUnreadable simulates an access failure on a snapshot node.
var errUnreadable = errors.New("element unreadable")

// ///////////////////////////////////////////////
// Node
// ///////////////////////////////////////////////

// Node is a captured accessibility element. Empty string fields are treated
// as absent attributes.
type Node struct {
	Role        string `yaml:"role,omitempty"`
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`
	Identifier  string `yaml:"identifier,omitempty"`
	Document    string `yaml:"document,omitempty"`
	// Unreadable makes every read on this node fail, the way a node torn down
	// by the foreign process does.
	Unreadable bool    `yaml:"unreadable,omitempty"`
	Children   []*Node `yaml:"children,omitempty"`
}

// String implements [Element].
func (n *Node) String(name Attribute) (string, error) {
	if n.Unreadable {
		return "", errUnreadable
	}
	var v string
	switch name {
	case AttrRole:
		v = n.Role
	case AttrTitle:
		v = n.Title
	case AttrDescription:
		v = n.Description
	case AttrIdentifier:
		v = n.Identifier
	case AttrDocument:
		v = n.Document
	}
	if v == "" {
		return "", ErrNoValue
	}
	return v, nil
}

// Element implements [Element]. Captured nodes hold no references.
func (n *Node) Element(Attribute) (Element, error) {
	if n.Unreadable {
		return nil, errUnreadable
	}
	return nil, ErrNoValue
}

// Elements implements [Element] for [AttrChildren].
func (n *Node) Elements(name Attribute) ([]Element, error) {
	if n.Unreadable {
		return nil, errUnreadable
	}
	if name != AttrChildren {
		return nil, ErrNoValue
	}
	return nodes(n.Children), nil
}

func nodes(ns []*Node) []Element {
	out := make([]Element, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// ///////////////////////////////////////////////
// Snapshot
// ///////////////////////////////////////////////

// SnapshotProcess describes the captured application process.
type SnapshotProcess struct {
	PID      int       `yaml:"pid"`
	BundleID string    `yaml:"bundle_id"`
	Launched time.Time `yaml:"launched,omitempty"`
}

// Snapshot is a captured application tree that also acts as a [System], so
// the extractor can run against recorded state. The main and focused windows
// are stored inline; YAML anchors let them alias an entry of Windows.
type Snapshot struct {
	// Untrusted simulates a missing accessibility permission grant.
	Untrusted bool `yaml:"untrusted,omitempty"`
	// Process is nil when the application is not running.
	Process *SnapshotProcess `yaml:"process,omitempty"`
	// Windows lists the application's windows.
	Windows []*Node `yaml:"windows,omitempty"`
	// WindowsUnreadable makes the window list read fail.
	WindowsUnreadable bool `yaml:"windows_unreadable,omitempty"`
	// MainWindow is the application's main window, if any.
	MainWindow *Node `yaml:"main_window,omitempty"`
	// FocusedWindow is the window holding keyboard focus, if any.
	FocusedWindow *Node `yaml:"focused_window,omitempty"`
}

// Trusted implements [System].
func (s *Snapshot) Trusted(bool) bool { return !s.Untrusted }

// Running implements [System].
func (s *Snapshot) Running(bundleID string) (Process, bool) {
	if s.Process == nil || s.Process.BundleID != bundleID {
		return Process{}, false
	}
	return Process{PID: s.Process.PID, BundleID: s.Process.BundleID, Launched: s.Process.Launched}, true
}

// Application implements [System].
func (s *Snapshot) Application(Process) (Element, error) {
	if s.Process == nil {
		return nil, fmt.Errorf("application not running")
	}
	return snapshotApp{s}, nil
}

// snapshotApp is the application root of a [Snapshot].
type snapshotApp struct{ s *Snapshot }

func (a snapshotApp) String(name Attribute) (string, error) {
	if name == AttrRole {
		return string(RoleApplication), nil
	}
	return "", ErrNoValue
}

func (a snapshotApp) Element(name Attribute) (Element, error) {
	var n *Node
	switch name {
	case AttrMainWindow:
		n = a.s.MainWindow
	case AttrFocusedWindow:
		n = a.s.FocusedWindow
	}
	if n == nil {
		return nil, ErrNoValue
	}
	return n, nil
}

func (a snapshotApp) Elements(name Attribute) ([]Element, error) {
	switch name {
	case AttrWindows, AttrChildren:
		if a.s.WindowsUnreadable {
			return nil, errUnreadable
		}
		return nodes(a.s.Windows), nil
	}
	return nil, ErrNoValue
}

// ///////////////////////////////////////////////
// Loading and Capture
// ///////////////////////////////////////////////

// ParseSnapshot decodes a YAML snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &s, nil
}

// LoadSnapshot reads and decodes a YAML snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// Marshal encodes the snapshot as YAML.
func (s *Snapshot) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// Capture copies the subtree rooted at e into a [Node]. Unreadable
// attributes are left empty and unreadable children are skipped.
func Capture(e Element) *Node {
	return capture(e, 0)
}

func capture(e Element, depth int) *Node {
	n := &Node{}
	n.Role, _ = String(e, AttrRole)
	n.Title, _ = String(e, AttrTitle)
	n.Description, _ = String(e, AttrDescription)
	n.Identifier, _ = String(e, AttrIdentifier)
	n.Document, _ = String(e, AttrDocument)
	if depth >= maxDepth {
		return n
	}
	for _, c := range Children(e) {
		n.Children = append(n.Children, capture(c, depth+1))
	}
	return n
}

// CaptureSnapshot records the current tree of the application with the given
// bundle ID from sys.
func CaptureSnapshot(sys System, bundleID string) *Snapshot {
	s := &Snapshot{Untrusted: !sys.Trusted(false)}
	if s.Untrusted {
		return s
	}
	p, ok := sys.Running(bundleID)
	if !ok {
		return s
	}
	s.Process = &SnapshotProcess{PID: p.PID, BundleID: p.BundleID, Launched: p.Launched}
	app, err := sys.Application(p)
	if err != nil {
		return s
	}
	windows, ok := List(app, AttrWindows)
	s.WindowsUnreadable = !ok
	for _, w := range windows {
		s.Windows = append(s.Windows, Capture(w))
	}
	if w, ok := Ref(app, AttrMainWindow); ok {
		s.MainWindow = Capture(w)
	}
	if w, ok := Ref(app, AttrFocusedWindow); ok {
		s.FocusedWindow = Capture(w)
	}
	return s
}

// ///////////////////////////////////////////////
// File Replay
// ///////////////////////////////////////////////

// FileSystem is a [System] backed by a snapshot file that is re-read on every
// call, so editing the file changes what the next poll observes. A file that
// cannot be read reports the permission as missing, which freezes polling.
type FileSystem struct {
	// Path is the YAML snapshot file.
	Path string
}

// Trusted implements [System].
func (f FileSystem) Trusted(prompt bool) bool {
	s, err := LoadSnapshot(f.Path)
	if err != nil {
		return false
	}
	return s.Trusted(prompt)
}

// Running implements [System].
func (f FileSystem) Running(bundleID string) (Process, bool) {
	s, err := LoadSnapshot(f.Path)
	if err != nil {
		return Process{}, false
	}
	return s.Running(bundleID)
}

// Application implements [System].
func (f FileSystem) Application(p Process) (Element, error) {
	s, err := LoadSnapshot(f.Path)
	if err != nil {
		return nil, err
	}
	return s.Application(p)
}
