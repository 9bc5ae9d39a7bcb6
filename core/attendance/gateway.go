package attendance

import "context"

// Gateway is the school backend's attendance surface, as the client sees
// it. Implementations classify failures into *Error kinds; Recognize maps
// the gateway's "no candidate" rejection to a NoMatch Recognition, not an
// error.
type Gateway interface {
	Recognize(ctx context.Context, frame Frame, classID int, date string, public bool) (Recognition, error)
	ClassStudents(ctx context.Context, classID int) ([]RosterEntry, error)
	SessionAttendance(ctx context.Context, classID int, date string) ([]StatusRecord, error)
	SubmitAttendance(ctx context.Context, classID int, date string, records []StatusRecord) error
}
