package user

import "github.com/pkg/errors"

// Role is the closed set of platform roles. The zero value is not a valid
// role; always go through ParseRole for external input.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Action is a client-side capability gate.
type Action string

const (
	// ActionCapture runs a face-attendance capture session.
	ActionCapture Action = "capture"
	// ActionRosterView reads the roster/status view of a class session.
	ActionRosterView Action = "roster:view"
	// ActionSubmitAttendance persists attendance records.
	ActionSubmitAttendance Action = "attendance:submit"
)

var ErrUnknownRole = errors.New("unknown role")

// permissions is the authoritative role -> actions table. Mirrors the
// backend's own checks so the client can fail fast instead of burning a
// round trip on a guaranteed 403.
var permissions = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionCapture:          true,
		ActionRosterView:       true,
		ActionSubmitAttendance: true,
	},
	RoleManager: {
		ActionRosterView: true,
	},
	RoleTeacher: {
		ActionCapture:          true,
		ActionRosterView:       true,
		ActionSubmitAttendance: true,
	},
	RoleStudent: {},
}

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleAdmin, RoleManager, RoleTeacher, RoleStudent:
		return r, nil
	}
	return "", errors.Wrapf(ErrUnknownRole, "%q", s)
}

// Can reports whether the role may perform the action.
func (r Role) Can(a Action) bool {
	return permissions[r][a]
}

func (r Role) String() string { return string(r) }

// AllRoles lists every valid role, highest privilege first.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleTeacher, RoleStudent}
}
