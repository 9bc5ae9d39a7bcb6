package attendance

import (
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the capture tick period.
const DefaultInterval = 2 * time.Second

// Session is one bounded capture run: the period during which the camera
// is live and the loop polls the recognition gateway. Each session owns
// its own Store; nothing is shared across sessions.
type Session struct {
	ID       string
	ClassID  int
	Date     string // YYYY-MM-DD
	Interval time.Duration
	// Public marks kiosk-style sessions using the unauthenticated
	// recognition endpoint.
	Public    bool
	StartedAt time.Time
}

func NewSession(classID int, date string, public bool) *Session {
	return &Session{
		ID:        uuid.New().String(),
		ClassID:   classID,
		Date:      date,
		Interval:  DefaultInterval,
		Public:    public,
		StartedAt: time.Now().UTC(),
	}
}
