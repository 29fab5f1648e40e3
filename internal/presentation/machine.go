// Package presentation holds the visibility state of the progress widget:
// hidden, minimized or expanded, plus the two flags cached between runs.
package presentation

// Visibility of the progress widget.
type Visibility string

const (
	Hidden    Visibility = "hidden"
	Minimized Visibility = "minimized"
	Expanded  Visibility = "expanded"
)

// Machine is the widget state machine. It is not safe for concurrent use;
// the tracker engine owns one and mutates it from its loop.
type Machine struct {
	visibility Visibility
	active     bool
	hasData    bool
	// Shown once data arrives
	pending Visibility
}

// NewMachine returns a hidden, inactive machine.
func NewMachine() *Machine {
	return &Machine{visibility: Hidden, pending: Minimized}
}

// Visibility returns the current state.
func (m *Machine) Visibility() Visibility { return m.visibility }

// Active reports whether a tracking session is attached.
func (m *Machine) Active() bool { return m.active }

// Starting reports an active session that has not produced a snapshot yet.
func (m *Machine) Starting() bool { return m.active && !m.hasData }

// SessionStarted attaches a new session. The widget stays hidden until the
// first snapshot and then opens minimized.
func (m *Machine) SessionStarted() {
	m.active = true
	m.hasData = false
	m.visibility = Hidden
	m.pending = Minimized
}

// DataArrived records the first snapshot of the session and makes the widget visible.
// It returns true when visibility changed.
func (m *Machine) DataArrived() bool {
	if !m.active {
		return false
	}
	m.hasData = true
	if m.visibility == Hidden {
		m.visibility = m.pending
		return true
	}
	return false
}

// Toggle switches between minimized and expanded. It does nothing unless a
// session is active and visible.
func (m *Machine) Toggle() bool {
	if !m.active {
		return false
	}
	switch m.visibility {
	case Minimized:
		m.visibility = Expanded
	case Expanded:
		m.visibility = Minimized
	default:
		return false
	}
	return true
}

// Restore applies a stored visibility. Only Minimized or Expanded are accepted,
// and only on an active session that already has data.
func (m *Machine) Restore(v Visibility) bool {
	if !m.active || !m.hasData || (v != Minimized && v != Expanded) {
		return false
	}
	m.visibility = v
	return true
}

// Close hides the widget and detaches the session.
func (m *Machine) Close() {
	m.active = false
	m.hasData = false
	m.visibility = Hidden
	m.pending = Minimized
}

// Prefs returns the flags worth caching for the current state.
func (m *Machine) Prefs() Prefs {
	return Prefs{
		Open:      m.visibility != Hidden,
		Minimized: m.visibility == Minimized,
	}
}
