package visibility

import (
	"gioui.org/io/event"
	"gioui.org/io/system"
	"golang.org/x/mobile/event/lifecycle"
)

// FromLifecycle maps an x/mobile lifecycle transition. Crossing into
// StageVisible shows the window, crossing out hides it, reaching StageDead
// destroys it. Other transitions carry no visibility change.
func FromLifecycle(e lifecycle.Event) (Event, bool) {
	if e.To == lifecycle.StageDead {
		return Destroyed, true
	}
	switch e.Crosses(lifecycle.StageVisible) {
	case lifecycle.CrossOn:
		return Visible, true
	case lifecycle.CrossOff:
		return Hidden, true
	}
	return 0, false
}

// FromGio maps Gio window events: a running stage is visible, a paused stage
// hidden, and DestroyEvent ends the window.
func FromGio(e event.Event) (Event, bool) {
	switch e := e.(type) {
	case system.StageEvent:
		if e.Stage >= system.StageRunning {
			return Visible, true
		}
		return Hidden, true
	case system.DestroyEvent:
		return Destroyed, true
	}
	return 0, false
}
