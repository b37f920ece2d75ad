package session

import "fmt"

// State is the controller's lifecycle state.
type State int

const (
	AwaitingPermission State = iota
	PermissionPending
	Ready
	Starting
	Running
	Paused
	Released
	Ended
)

var stateNames = [...]string{
	AwaitingPermission: "awaiting_permission",
	PermissionPending:  "permission_pending",
	Ready:              "ready",
	Starting:           "starting",
	Running:            "running",
	Paused:             "paused",
	Released:           "released",
	Ended:              "ended",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Visibility is the host window's last reported visibility.
type Visibility int

const (
	Hidden Visibility = iota
	Visible
	Destroyed
)

func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Visible:
		return "visible"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("visibility(%d)", int(v))
	}
}

func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Grant is the session's view of its runtime permissions.
type Grant int

const (
	GrantUnknown Grant = iota
	GrantPending
	Granted
	Denied
)

func (g Grant) String() string {
	switch g {
	case GrantUnknown:
		return "unknown"
	case GrantPending:
		return "pending"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("grant(%d)", int(g))
	}
}

func (g Grant) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}
