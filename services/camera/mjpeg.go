package camera

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

// MJPEG reads frames from an MJPEG-over-HTTP camera stream (the usual IP
// webcam surface). The stream connection is opened lazily on the first
// Capture and re-opened after a read failure; a tick that hits a broken
// stream reports ErrNoFrame and the capture loop moves on.
type MJPEG struct {
	conf core.CameraConfig
	http *http.Client

	mu     sync.Mutex
	body   io.ReadCloser
	reader *multipart.Reader
	closed bool
}

var _ attendance.FrameSource = (*MJPEG)(nil)

func NewMJPEG(conf core.CameraConfig) (*MJPEG, error) {
	if conf.StreamURL == "" {
		return nil, errors.New("camera stream url not configured")
	}
	// no client timeout: the stream stays open across frames; per-read
	// deadlines come from the Capture ctx.
	return &MJPEG{conf: conf, http: &http.Client{}}, nil
}

func (m *MJPEG) Capture(ctx context.Context) (attendance.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return attendance.Frame{}, attendance.ErrNoFrame
	}

	if m.reader == nil {
		if err := m.connect(ctx); err != nil {
			return attendance.Frame{}, errors.Wrapf(attendance.ErrNoFrame, "connecting stream: %v", err)
		}
	}

	part, err := m.reader.NextPart()
	if err != nil {
		m.reset()
		return attendance.Frame{}, errors.Wrapf(attendance.ErrNoFrame, "reading stream part: %v", err)
	}
	data, err := io.ReadAll(part)
	_ = part.Close()
	if err != nil {
		m.reset()
		return attendance.Frame{}, errors.Wrapf(attendance.ErrNoFrame, "reading frame: %v", err)
	}

	return normalize(data, m.conf)
}

func (m *MJPEG) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.conf.StreamURL, nil)
	if err != nil {
		return err
	}
	res, err := m.http.Do(req)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		return errors.Errorf("stream returned %d", res.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		_ = res.Body.Close()
		return errors.Errorf("unexpected stream content type %q", mediaType)
	}

	m.body = res.Body
	m.reader = multipart.NewReader(res.Body, params["boundary"])
	return nil
}

func (m *MJPEG) reset() {
	if m.body != nil {
		_ = m.body.Close()
	}
	m.body = nil
	m.reader = nil
}

// Close releases the stream connection. Idempotent; the source is
// unusable afterwards.
func (m *MJPEG) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reset()
	m.closed = true
	return nil
}
