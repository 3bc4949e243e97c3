package presence

import (
	"fmt"
	"strings"
	"time"

	"tools.zach/dev/xcodecord/internal/config"
)

// ///////////////////////////////////////////////
// Payload
// ///////////////////////////////////////////////

// Payload is the presence content for one state. Empty strings and a zero
// Start are omitted when sent. There is never an end timestamp.
type Payload struct {
	// Details is the top line.
	Details string `yaml:"details,omitempty"`
	// State is the status line under Details.
	State string `yaml:"state,omitempty"`
	// Start is the session start shown as an elapsed timer.
	Start time.Time `yaml:"start,omitempty"`
	// LargeImage is the Discord asset key of the large icon.
	LargeImage string `yaml:"large_image"`
	// LargeText is the hover text of the large icon.
	LargeText string `yaml:"large_text,omitempty"`
}

// ///////////////////////////////////////////////
// Mapper
// ///////////////////////////////////////////////

// Icons resolves a file extension to an uploaded Discord asset key.
type Icons interface {
	// Icon returns the asset key for ext, or false if none exists.
	Icon(ext string) (string, bool)
}

// Mapper converts states to payloads. It holds only configuration and is
// safe to share; replace it wholesale when the config changes.
type Mapper struct {
	cfg   *config.Config
	icons Icons
}

// NewMapper returns a Mapper using the display and privacy settings of cfg.
// A nil icons passes the raw file extension through as the asset key.
func NewMapper(cfg *config.Config, icons Icons) *Mapper {
	return &Mapper{cfg: cfg, icons: icons}
}

// Map returns the payload for s. ok is false for states that show no
// presence.
//
// The large image is the file extension only when it can be shown: with an
// icon manifest loaded, an extension the manifest does not list maps to the
// default icon rather than to the raw extension.
func (m *Mapper) Map(s State) (p Payload, ok bool) {
	d := m.cfg.Display
	switch s.Kind() {
	case KindWelcome:
		return Payload{
			Details:    d.WelcomeDetails,
			State:      d.WelcomeState,
			LargeImage: d.DefaultIcon,
			LargeText:  d.WelcomeLargeText,
		}, true
	case KindWorking:
		w, _ := s.Work()
		return m.mapWorking(w), true
	default:
		return Payload{}, false
	}
}

func (m *Mapper) mapWorking(w Working) Payload {
	d := m.cfg.Display

	var p Payload
	if w.Workspace != "" {
		p.Details = render(d.Details, "{workspace}", m.cfg.WorkspaceName(w.Workspace))
	}
	if d.ShowElapsed && !w.SessionStart.IsZero() {
		p.Start = w.SessionStart
	}
	p.LargeImage = d.DefaultIcon

	if w.Idle() {
		p.State = d.Idle
		p.LargeText = p.State
		return p
	}

	name := w.FileName()
	hidden := m.cfg.IsFileHidden(w.FilePath())
	if hidden {
		name = m.cfg.Privacy.HiddenFileText
	} else {
		p.LargeImage = m.icon(w.FileExtension())
	}

	tmpl := d.Viewing
	if w.Editing {
		tmpl = d.Editing
	}
	issues := ""
	if d.ShowIssues {
		issues = m.Badge(w)
	}
	p.State = strings.TrimSpace(render(tmpl, "{file}", name, "{issues}", issues))
	p.LargeText = p.State
	return p
}

// icon returns the asset key for ext, falling back to the default icon.
func (m *Mapper) icon(ext string) string {
	if ext == "" {
		return m.cfg.Display.DefaultIcon
	}
	if m.icons == nil {
		return ext
	}
	if key, ok := m.icons.Icon(ext); ok {
		return key
	}
	return m.cfg.Display.DefaultIcon
}

// Badge returns the issue badge for w: the error badge when there are errors,
// otherwise the warning badge counting every non-error issue, otherwise "".
func (m *Mapper) Badge(w Working) string {
	if w.Issues == 0 {
		return ""
	}
	if w.Errors > 0 {
		return render(m.cfg.Display.ErrorBadge, "{count}", fmt.Sprint(w.Errors))
	}
	if rest := w.Issues - w.Errors; rest > 0 {
		return render(m.cfg.Display.WarningBadge, "{count}", fmt.Sprint(rest))
	}
	return ""
}

func render(tmpl string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
