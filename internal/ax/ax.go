// Package ax reads another application's accessibility tree.
//
// The tree belongs to a foreign process and can change or disappear between
// any two calls, so every accessor here treats failure as absence: a read
// that errors returns the zero value and false, a children listing that
// errors returns nil. Callers never see a lower-level error and never cache
// an [Element] across polls.
//
// Two backends implement [System] and [Element]: the macOS Accessibility API
// (ax_darwin.go, cgo) and a YAML [Snapshot] used for replay and tests.
package ax

import (
	"errors"
	"time"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrNoValue is returned by an [Element] when the attribute is missing or
// holds a value of a different type.
var ErrNoValue = errors.New("attribute has no value")

// ErrUnsupported is returned by [NewSystem] on platforms without an
// accessibility backend.
var ErrUnsupported = errors.New("accessibility API not supported on this platform")

// ///////////////////////////////////////////////
// Attributes and Roles
// ///////////////////////////////////////////////

// Attribute names an accessibility attribute. Values match the macOS
// kAX*Attribute constants.
type Attribute string

const (
	AttrRole          Attribute = "AXRole"
	AttrTitle         Attribute = "AXTitle"
	AttrDescription   Attribute = "AXDescription"
	AttrIdentifier    Attribute = "AXIdentifier"
	AttrDocument      Attribute = "AXDocument"
	AttrChildren      Attribute = "AXChildren"
	AttrWindows       Attribute = "AXWindows"
	AttrMainWindow    Attribute = "AXMainWindow"
	AttrFocusedWindow Attribute = "AXFocusedWindow"
)

// Role is the value of [AttrRole].
type Role string

const (
	RoleApplication Role = "AXApplication"
	RoleWindow      Role = "AXWindow"
	RoleTextArea    Role = "AXTextArea"
	RoleButton      Role = "AXButton"
	RoleGroup       Role = "AXGroup"
	RoleUnknown     Role = "AXUnknown"
)

// ///////////////////////////////////////////////
// Interfaces
// ///////////////////////////////////////////////

// Element is a handle to one node of a foreign accessibility tree. Methods
// return [ErrNoValue] for missing attributes and any other error for access
// failures; use the package-level accessors instead of calling these
// directly.
type Element interface {
	// String returns a string-valued attribute.
	String(name Attribute) (string, error)
	// Element returns an attribute that references another node.
	Element(name Attribute) (Element, error)
	// Elements returns an attribute that holds a list of nodes.
	Elements(name Attribute) ([]Element, error)
}

// Process identifies a running application.
type Process struct {
	// PID is the operating system process identifier.
	PID int
	// BundleID is the application's bundle identifier.
	BundleID string
	// Launched is when the process started, or zero if unknown.
	Launched time.Time
}

// System is the host side of the accessibility API: permission checks,
// process lookup, and the root element of an application.
type System interface {
	// Trusted reports whether this process may read other applications'
	// accessibility trees. With prompt set the OS may show its grant dialog.
	Trusted(prompt bool) bool
	// Running returns the first running process with the given bundle ID.
	Running(bundleID string) (Process, bool)
	// Application returns the root accessibility element for p.
	Application(p Process) (Element, error)
}

// ///////////////////////////////////////////////
// Accessors
// ///////////////////////////////////////////////

// String reads a string attribute. It reports false on any error, including
// a nil element.
func String(e Element, name Attribute) (string, bool) {
	if e == nil {
		return "", false
	}
	v, err := e.String(name)
	if err != nil {
		return "", false
	}
	return v, true
}

// Ref reads an attribute that references another element, such as the
// focused window.
func Ref(e Element, name Attribute) (Element, bool) {
	if e == nil {
		return nil, false
	}
	v, err := e.Element(name)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// List reads a list-valued attribute. ok is false when the read failed, which
// is distinct from a successful read of an empty list.
func List(e Element, name Attribute) (elems []Element, ok bool) {
	if e == nil {
		return nil, false
	}
	v, err := e.Elements(name)
	if err != nil {
		return nil, false
	}
	return v, true
}

// RoleOf returns the element's role, or [RoleUnknown] if it cannot be read.
func RoleOf(e Element) Role {
	r, ok := String(e, AttrRole)
	if !ok || r == "" {
		return RoleUnknown
	}
	return Role(r)
}

// Children returns the element's children in order, or nil on error.
func Children(e Element) []Element {
	c, _ := List(e, AttrChildren)
	return c
}
