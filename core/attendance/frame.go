package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNoFrame means the source has nothing to offer right now (camera
// warming up, empty replay directory). The capture loop skips the tick.
var ErrNoFrame = errors.New("no frame available")

// Frame is one still image ready for submission.
type Frame struct {
	Data       []byte // JPEG bytes
	Width      int
	Height     int
	CapturedAt time.Time
}

// FrameSource produces frames from a camera device or stand-in.
// Capture blocks at most until ctx is done. Close releases the underlying
// device; owners must call it on every exit path.
type FrameSource interface {
	Capture(ctx context.Context) (Frame, error)
	Close() error
}
